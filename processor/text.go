package processor

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	tableRef  = regexp.MustCompile(`Table\s+\d+[-.]?\d*(?:-\d+)?`)
	figureRef = regexp.MustCompile(`(?:Figure|Fig\.)\s+\d+[-.]?\d*(?:-\d+)?`)
	spaceRun  = regexp.MustCompile(`\s+`)
)

// Preview returns the first maxLen characters of text. When a sentence
// ends past 40% of the window the preview stops there; otherwise it stops
// at the last word boundary and gets an ellipsis.
func Preview(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	window := string([]rune(text)[:maxLen])

	minCut := len(window) * 2 / 5
	if end := lastSentenceEnd(window); end > minCut {
		return window[:end]
	}
	if sp := strings.LastIndexFunc(window, unicode.IsSpace); sp > 0 {
		return strings.TrimRightFunc(window[:sp], unicode.IsSpace) + "..."
	}
	return window + "..."
}

// lastSentenceEnd returns the byte offset just past the last sentence
// terminator in s, or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 || s[i+1] == ' ' || s[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return -1
}

// References returns the distinct table and figure references in text,
// sorted and capped at limit each.
func References(text string, limit int) (tables, figures []string) {
	return collect(tableRef, text, limit), collect(figureRef, text, limit)
}

func collect(re *regexp.Regexp, text string, limit int) []string {
	var out []string
	for _, m := range re.FindAllString(text, -1) {
		m = strings.TrimRight(spaceRun.ReplaceAllString(m, " "), ".-")
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func mergeSorted(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
