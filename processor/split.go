package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Span is a half-open byte range [Start, End) of a text.
type Span struct {
	Start int
	End   int
}

// Splitter cuts text into contiguous, non-overlapping spans that each fit
// a size budget. Breaks prefer paragraph ends, then sentence ends, then
// word boundaries.
type Splitter struct {
	budget  int
	measure func(string) int
}

// NewSplitter builds a Splitter for the configured unit.
func NewSplitter(cfg *Config) (*Splitter, error) {
	switch cfg.ChunkUnit {
	case UnitChars, "":
		return &Splitter{budget: cfg.ChunkBudget, measure: utf8.RuneCountInString}, nil
	case UnitTokens:
		enc, err := tiktoken.GetEncoding(cfg.TokenEncoding)
		if err != nil {
			return nil, fmt.Errorf("load token encoding %s: %w", cfg.TokenEncoding, err)
		}
		return &Splitter{
			budget:  cfg.ChunkBudget,
			measure: func(s string) int { return len(enc.Encode(s, nil, nil)) },
		}, nil
	default:
		return nil, fmt.Errorf("unknown chunk unit %q", cfg.ChunkUnit)
	}
}

// Split returns spans covering text exactly: concatenating
// text[s.Start:s.End] over the result reproduces text.
func (sp *Splitter) Split(text string) []Span {
	var spans []Span
	start := 0
	for start < len(text) {
		if sp.measure(text[start:]) <= sp.budget {
			spans = append(spans, Span{start, len(text)})
			break
		}
		limit := sp.fit(text, start)
		end := breakBefore(text, start, limit)
		spans = append(spans, Span{start, end})
		start = end
	}
	return spans
}

// Chunks returns the trimmed, non-empty text of each span.
func (sp *Splitter) Chunks(text string) []string {
	var out []string
	for _, s := range sp.Split(text) {
		if t := strings.TrimSpace(text[s.Start:s.End]); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// fit returns the largest rune-aligned offset end > start such that
// text[start:end] fits the budget. At least one rune is always taken.
func (sp *Splitter) fit(text string, start int) int {
	lo, hi := start, len(text)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		for mid < len(text) && mid > lo && !utf8.RuneStart(text[mid]) {
			mid--
		}
		if mid == lo {
			break
		}
		if sp.measure(text[start:mid]) <= sp.budget {
			lo = mid
		} else {
			hi = mid - 1
			for hi > lo && hi < len(text) && !utf8.RuneStart(text[hi]) {
				hi--
			}
		}
	}
	if lo == start {
		_, size := utf8.DecodeRuneInString(text[start:])
		return start + size
	}
	return lo
}

// breakBefore picks a break offset in (start, limit]. Paragraph breaks
// count only past the middle of the window so chunks stay reasonably full.
func breakBefore(text string, start, limit int) int {
	window := text[start:limit]
	half := len(window) / 2

	if i := strings.LastIndex(window, "\n\n"); i >= 0 && i+2 > half {
		return start + skipSpace(window, i+2)
	}
	if i := lastSentenceBreak(window); i > half {
		return start + i
	}
	if i := strings.LastIndexAny(window, " \n\t"); i > 0 {
		return start + i + 1
	}
	return limit
}

// lastSentenceBreak returns the offset just past the whitespace following
// the last sentence terminator in s, or -1.
func lastSentenceBreak(s string) int {
	for i := len(s) - 2; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\n' {
				return i + 2
			}
		}
	}
	return -1
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == '\n' || s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}
