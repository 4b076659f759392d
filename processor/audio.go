package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CanonicalAudioFormat is the playback format audio is stored in.
const CanonicalAudioFormat = "mp3"

// ErrTranscoderUnavailable is returned when no transcoder binary is configured.
var ErrTranscoderUnavailable = errors.New("audio transcoder unavailable")

// Transcoder converts audio between container formats.
type Transcoder interface {
	// ToMP3 returns data re-encoded as MP3. ext is the source format.
	ToMP3(ctx context.Context, data []byte, ext string) ([]byte, error)
}

// FFmpeg transcodes with an ffmpeg binary.
type FFmpeg struct {
	Path string
}

// ToMP3 implements Transcoder. The input is staged in a temporary file
// because some containers (mp4, m4a) need a seekable source.
func (f FFmpeg) ToMP3(ctx context.Context, data []byte, ext string) ([]byte, error) {
	if f.Path == "" {
		return nil, ErrTranscoderUnavailable
	}
	bin, err := exec.LookPath(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscoderUnavailable, err)
	}

	in, err := os.CreateTemp("", "recall-audio-*."+strings.TrimPrefix(ext, "."))
	if err != nil {
		return nil, err
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, err
	}
	if err := in.Close(); err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-i", in.Name(),
		"-vn", "-codec:a", "libmp3lame", "-b:a", "128k",
		"-f", "mp3", "pipe:1",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}
