package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/poiesic/recall/core"
)

// Page is the extracted text of one document page.
type Page struct {
	Number int
	Text   string
}

// PageExtractor reads page text from a document. r limits the pages read;
// nil means every page.
type PageExtractor interface {
	Pages(ctx context.Context, data []byte, r *core.PageRange) ([]Page, error)
}

// PDFExtractor extracts text from the content streams of PDF pages. Only
// text drawn with simple string operands is recovered; pages without it
// yield empty text.
type PDFExtractor struct{}

// Pages implements PageExtractor.
func (PDFExtractor) Pages(ctx context.Context, data []byte, r *core.PageRange) ([]Page, error) {
	pdf, err := api.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, core.Validationf("unreadable pdf: %v", err)
	}
	if err := api.ValidateContext(pdf); err != nil {
		return nil, core.Validationf("invalid pdf: %v", err)
	}

	first, last := 1, pdf.PageCount
	if r != nil {
		if r.Start > pdf.PageCount {
			return nil, core.Validationf("page range %s beyond last page %d", r, pdf.PageCount)
		}
		first, last = r.Start, min(r.End, pdf.PageCount)
	}

	pages := make([]Page, 0, last-first+1)
	for n := first; n <= last; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := pdfcpu.ExtractPageContent(pdf, n)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", n, err)
		}
		var text string
		if content != nil {
			raw, err := io.ReadAll(content)
			if err != nil {
				return nil, fmt.Errorf("read page %d: %w", n, err)
			}
			text = contentText(raw)
		}
		pages = append(pages, Page{Number: n, Text: text})
	}
	return pages, nil
}

// contentText recovers the text shown by a page content stream.
func contentText(stream []byte) string {
	var (
		out      strings.Builder
		operands []any
	)
	newline := func() {
		s := out.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			out.WriteByte('\n')
		}
	}

	sc := &scanner{buf: stream}
	for {
		tok, ok := sc.next()
		if !ok {
			break
		}
		switch v := tok.(type) {
		case operator:
			switch v {
			case "Tj":
				writeLast(&out, operands)
			case "'", "\"":
				newline()
				writeLast(&out, operands)
			case "TJ":
				if len(operands) > 0 {
					if arr, ok := operands[len(operands)-1].([]any); ok {
						for _, el := range arr {
							switch e := el.(type) {
							case string:
								out.WriteString(e)
							case float64:
								// Large negative kerning is a word gap.
								if e < -200 {
									out.WriteByte(' ')
								}
							}
						}
					}
				}
			case "Td", "TD", "T*", "ET":
				newline()
			}
			operands = operands[:0]
		default:
			operands = append(operands, v)
		}
	}
	return strings.TrimSpace(out.String())
}

func writeLast(out *strings.Builder, operands []any) {
	if len(operands) == 0 {
		return
	}
	if s, ok := operands[len(operands)-1].(string); ok {
		out.WriteString(s)
	}
}

type (
	operator string
	name     string
)

// scanner tokenizes a content stream into strings, numbers, arrays and
// operators. Dictionaries and inline images are skipped.
type scanner struct {
	buf []byte
	pos int
}

func (s *scanner) next() (any, bool) {
	s.skipSpace()
	if s.pos >= len(s.buf) {
		return nil, false
	}
	c := s.buf[s.pos]
	switch {
	case c == '(':
		return s.literal(), true
	case c == '<' && s.peek(1) == '<':
		s.skipDict()
		return s.next()
	case c == '<':
		return s.hex(), true
	case c == '[':
		s.pos++
		var arr []any
		for {
			s.skipSpace()
			if s.pos >= len(s.buf) {
				return arr, true
			}
			if s.buf[s.pos] == ']' {
				s.pos++
				return arr, true
			}
			tok, ok := s.next()
			if !ok {
				return arr, true
			}
			arr = append(arr, tok)
		}
	case c == ']':
		s.pos++
		return s.next()
	case c == '/':
		start := s.pos
		s.pos++
		s.word()
		return name(s.buf[start:s.pos]), true
	case c == '%':
		for s.pos < len(s.buf) && s.buf[s.pos] != '\n' && s.buf[s.pos] != '\r' {
			s.pos++
		}
		return s.next()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		start := s.pos
		s.pos++
		s.word()
		f, err := strconv.ParseFloat(string(s.buf[start:s.pos]), 64)
		if err != nil {
			return operator(s.buf[start:s.pos]), true
		}
		return f, true
	default:
		start := s.pos
		s.pos++
		s.word()
		op := operator(s.buf[start:s.pos])
		if op == "BI" {
			s.skipInlineImage()
			return s.next()
		}
		return op, true
	}
}

func (s *scanner) peek(n int) byte {
	if s.pos+n < len(s.buf) {
		return s.buf[s.pos+n]
	}
	return 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.buf) && isSpace(s.buf[s.pos]) {
		s.pos++
	}
}

func (s *scanner) word() {
	for s.pos < len(s.buf) && !isSpace(s.buf[s.pos]) && !isDelim(s.buf[s.pos]) {
		s.pos++
	}
}

func (s *scanner) literal() string {
	s.pos++ // (
	var b strings.Builder
	depth := 1
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.buf) {
				return b.String()
			}
			e := s.buf[s.pos]
			s.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\n':
			case '\r':
				if s.pos < len(s.buf) && s.buf[s.pos] == '\n' {
					s.pos++
				}
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.buf) && s.buf[s.pos] >= '0' && s.buf[s.pos] <= '7'; i++ {
						v = v*8 + int(s.buf[s.pos]-'0')
						s.pos++
					}
					b.WriteRune(rune(v & 0xff))
				} else {
					b.WriteByte(e)
				}
			}
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return b.String()
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (s *scanner) hex() string {
	s.pos++ // <
	var digits []byte
	for s.pos < len(s.buf) && s.buf[s.pos] != '>' {
		if c := s.buf[s.pos]; !isSpace(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	var b strings.Builder
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return ""
		}
		if v >= 0x20 && v < 0x7f || v == '\n' {
			b.WriteByte(byte(v))
		}
	}
	return b.String()
}

func (s *scanner) skipDict() {
	depth := 0
	for s.pos < len(s.buf) {
		switch {
		case s.buf[s.pos] == '<' && s.peek(1) == '<':
			depth++
			s.pos += 2
		case s.buf[s.pos] == '>' && s.peek(1) == '>':
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		case s.buf[s.pos] == '(':
			s.literal()
		default:
			s.pos++
		}
	}
}

func (s *scanner) skipInlineImage() {
	end := bytes.Index(s.buf[s.pos:], []byte("EI"))
	if end < 0 {
		s.pos = len(s.buf)
		return
	}
	s.pos += end + 2
}
