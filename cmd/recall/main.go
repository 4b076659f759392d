// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/poiesic/recall"
	"github.com/poiesic/recall/config"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/metrics"
	"github.com/poiesic/recall/search"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "recall",
		Usage: "Index and search notes, images, drawings, audio and documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (text, json)",
				Value: "text",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Read variables from `FILE` (default .env when present)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :9090",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:        "add",
				Usage:       "Add or replace content",
				Subcommands: addCommands(),
			},
			{
				Name:      "delete",
				Usage:     "Delete content from every tier",
				ArgsUsage: "CONTENT_ID",
				Action:    deleteCommand,
			},
			{
				Name:      "get",
				Usage:     "Show a content record and its rendered text",
				ArgsUsage: "CONTENT_ID",
				Action:    getCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "original",
						Aliases: []string{"o"},
						Usage:   "Write the original upload to `FILE`",
					},
				},
			},
			{
				Name:   "chunks",
				Usage:  "List chunk records of one content type",
				Action: chunksCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Aliases:  []string{"t"},
						Usage:    "Content type (note, image, drawing, audio, document)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "pattern",
						Usage: "Only chunk files matching this glob",
						Value: "*",
					},
				},
			},
			{
				Name:   "list",
				Usage:  "List catalogued content of one type",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Aliases:  []string{"t"},
						Usage:    "Content type (note, image, drawing, audio, document)",
						Required: true,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Run a semantic search",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "max-results",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results (0 uses the configured default)",
					},
					&cli.StringSliceFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Restrict results to these content types",
					},
				},
			},
			{
				Name:   "reload",
				Usage:  "Reload the search index from the published snapshot",
				Action: reloadCommand,
			},
			{
				Name:   "status",
				Usage:  "Report whether the local index is behind the published version",
				Action: statusCommand,
			},
			{
				Name:   "rebuild",
				Usage:  "Rebuild catalogs and the vector index from chunk records",
				Action: rebuildCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Re-embed every chunk and publish even when nothing changed",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Reload whenever another process publishes a new version",
				Action: watchCommand,
			},
		},
	}
}

func addCommands() []*cli.Command {
	common := func(extra ...cli.Flag) []cli.Flag {
		return append([]cli.Flag{
			&cli.StringFlag{
				Name:  "title",
				Usage: "Display title",
			},
			&cli.StringSliceFlag{
				Name:  "tag",
				Usage: "Attach a tag (repeatable)",
			},
			&cli.StringFlag{
				Name:  "content-id",
				Usage: "Replace the content with this identifier",
			},
		}, extra...)
	}
	fileFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Path to the upload",
			Required: true,
		}
	}
	captionFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:  "caption",
			Usage: "Caption describing the upload",
		}
	}

	return []*cli.Command{
		{
			Name:   "note",
			Usage:  "Add a text note",
			Action: addCommand(core.ContentTypeNote),
			Flags: common(
				&cli.StringFlag{
					Name:  "text",
					Usage: "Note body",
				},
				&cli.StringFlag{
					Name:    "file",
					Aliases: []string{"f"},
					Usage:   "Read the note body from a file",
				},
				&cli.BoolFlag{
					Name:  "markdown",
					Usage: "Treat the body as Markdown",
				},
			),
		},
		{
			Name:   "image",
			Usage:  "Add an image",
			Action: addCommand(core.ContentTypeImage),
			Flags:  common(fileFlag(), captionFlag()),
		},
		{
			Name:   "drawing",
			Usage:  "Add a drawing",
			Action: addCommand(core.ContentTypeDrawing),
			Flags:  common(fileFlag(), captionFlag()),
		},
		{
			Name:   "audio",
			Usage:  "Add an audio recording",
			Action: addCommand(core.ContentTypeAudio),
			Flags:  common(fileFlag(), captionFlag()),
		},
		{
			Name:   "document",
			Usage:  "Add a PDF or text document",
			Action: addCommand(core.ContentTypeDocument),
			Flags: common(fileFlag(),
				&cli.IntFlag{
					Name:  "page-start",
					Usage: "First page to index (1-based)",
				},
				&cli.IntFlag{
					Name:  "page-end",
					Usage: "Last page to index",
				},
				&cli.StringSliceFlag{
					Name:  "hierarchy",
					Usage: "Section path element, outermost first (repeatable)",
				},
			),
		},
	}
}

func setupLogger(c *cli.Context) error {
	logger, err := newLogger(c.App.ErrWriter, c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", format)
	}
}

// loadConfig layers the config file, env files and command-line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.StringSlice("env-file")...)
	if err != nil {
		return nil, err
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}

	// Flags beat the file, the file beats flag defaults.
	level, format := cfg.Log.Level, cfg.Log.Format
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		format = c.String("log-format")
	}
	logger, err := newLogger(c.App.ErrWriter, level, format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}

// openRecall loads configuration and opens the subsystem. The caller must
// Close the result.
func openRecall(c *cli.Context) (*recall.Recall, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	var opts []recall.Option
	if cfg.MetricsAddr != "" {
		m := metrics.New()
		opts = append(opts, recall.WithMetrics(m))
		go func() {
			if err := m.Serve(c.Context, cfg.MetricsAddr, slog.Default()); err != nil {
				slog.Error("metrics server failed", "err", err)
			}
		}()
	}

	r, err := recall.Open(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}
	return r, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if arg == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return arg, nil
}

func parseTypes(values []string) ([]core.ContentType, error) {
	var types []core.ContentType
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := core.ParseContentType(part)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
	}
	return types, nil
}

// buildSubmission turns add flags into a Submission for t.
func buildSubmission(c *cli.Context, t core.ContentType) (core.Submission, error) {
	sub := core.Submission{
		Type:      t,
		ContentID: c.String("content-id"),
		Title:     c.String("title"),
		Caption:   c.String("caption"),
		Tags:      c.StringSlice("tag"),
		Hierarchy: c.StringSlice("hierarchy"),
	}

	if path := c.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return sub, fmt.Errorf("failed to read %s: %w", path, err)
		}
		sub.Filename = filepath.Base(path)
		if t == core.ContentTypeNote {
			sub.Text = string(data)
		} else {
			sub.Data = data
		}
	}

	if t == core.ContentTypeNote {
		if text := c.String("text"); text != "" {
			sub.Text = text
		}
		sub.IsMarkdown = c.Bool("markdown")
		if sub.Text == "" {
			return sub, errors.New("a note needs --text or --file")
		}
	}

	if t == core.ContentTypeDocument && (c.IsSet("page-start") || c.IsSet("page-end")) {
		start, end := c.Int("page-start"), c.Int("page-end")
		if start == 0 {
			start = 1
		}
		if end == 0 {
			end = start
		}
		sub.PageRange = &core.PageRange{Start: start, End: end}
	}
	return sub, nil
}

func addCommand(t core.ContentType) cli.ActionFunc {
	return func(c *cli.Context) error {
		sub, err := buildSubmission(c, t)
		if err != nil {
			return err
		}

		r, err := openRecall(c)
		if err != nil {
			return err
		}
		defer r.Close()

		result, err := r.Add(c.Context, sub)
		if result != nil {
			if werr := writeJSON(c.App.Writer, result); werr != nil {
				return werr
			}
		}
		return err
	}
}

func deleteCommand(c *cli.Context) error {
	id, err := requireArg(c, "CONTENT_ID")
	if err != nil {
		return err
	}
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	result, err := r.Delete(c.Context, id)
	if result != nil {
		if werr := writeJSON(c.App.Writer, result); werr != nil {
			return werr
		}
	}
	return err
}

func getCommand(c *cli.Context) error {
	id, err := requireArg(c, "CONTENT_ID")
	if err != nil {
		return err
	}
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	content, text, err := r.Get(c.Context, id)
	if err != nil {
		return err
	}
	if out := c.String("original"); out != "" {
		data, err := r.Original(c.Context, id)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		slog.Info("wrote original", "content_id", id, "path", out, "bytes", len(data))
	}
	return writeJSON(c.App.Writer, struct {
		Content *core.Content `json:"content"`
		Text    string        `json:"text"`
	}{content, text})
}

func chunksCommand(c *cli.Context) error {
	t, err := core.ParseContentType(c.String("type"))
	if err != nil {
		return err
	}
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	chunks, err := r.Chunks(c.Context, t, c.String("pattern"))
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, chunks)
}

func listCommand(c *cli.Context) error {
	t, err := core.ParseContentType(c.String("type"))
	if err != nil {
		return err
	}
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	items, err := r.List(c.Context, t)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, items)
}

func searchCommand(c *cli.Context) error {
	query, err := requireArg(c, "QUERY")
	if err != nil {
		return err
	}
	types, err := parseTypes(c.StringSlice("type"))
	if err != nil {
		return err
	}
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	resp, err := r.Search(c.Context, search.Request{
		Query:      query,
		MaxResults: c.Int("max-results"),
		Types:      types,
	})
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, resp)
}

func reloadCommand(c *cli.Context) error {
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Reload(c.Context); err != nil {
		return err
	}
	slog.Info("search index reloaded")
	return nil
}

func statusCommand(c *cli.Context) error {
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	stale, err := r.Stale(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, map[string]bool{"stale": stale})
}

func rebuildCommand(c *cli.Context) error {
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	report, err := r.Rebuild(c.Context, c.Bool("force"), c.App.ErrWriter)
	if report != nil {
		if werr := writeJSON(c.App.Writer, report); werr != nil {
			return werr
		}
	}
	return err
}

func watchCommand(c *cli.Context) error {
	r, err := openRecall(c)
	if err != nil {
		return err
	}
	defer r.Close()

	slog.Info("watching for published versions")
	err = r.Watch(c.Context)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
