// Package basic is the last-resort extraction strategy: it reads each page's
// content stream with pdfcpu and collects the operands of the text-showing
// operators, ignoring fonts and layout.
package basic

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/fairyhunter13/biodata-screener/pkg/textx"
)

// MinChars is the content threshold for this strategy.
const MinChars = 50

// Strategy implements domain.ExtractionStrategy using pdfcpu.
type Strategy struct {
	conf *model.Configuration
}

// New constructs a basic Strategy with relaxed validation.
func New() *Strategy {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Strategy{conf: conf}
}

// Name returns the strategy label used in logs and verdicts.
func (s *Strategy) Name() string { return "basic" }

// MinChars returns the minimum stripped length for a usable result.
func (s *Strategy) MinChars() int { return MinChars }

// Extract reads page content streams one by one.
func (s *Strategy) Extract(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("op=basic.extract: malformed pdf: %v", rec)
		}
	}()
	f, err := os.Open(path) // #nosec G304 -- path is a working file created by the orchestrator
	if err != nil {
		return "", fmt.Errorf("op=basic.extract: %w", err)
	}
	defer func() { _ = f.Close() }()

	pctx, err := api.ReadContext(f, s.conf)
	if err != nil {
		return "", fmt.Errorf("op=basic.extract: %w", err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return "", fmt.Errorf("op=basic.extract: %w", err)
	}

	pages := make([]string, 0, pctx.PageCount)
	for i := 1; i <= pctx.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r, err := pdfcpu.ExtractPageContent(pctx, i)
		if err != nil || r == nil {
			pages = append(pages, "")
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, ShowText(raw))
	}
	return textx.SanitizeText(textx.JoinPages(pages)), nil
}

// PageCount reports the number of pages without extracting text.
func (s *Strategy) PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}

// ShowText returns the text shown by Tj, TJ, ' and " operators in a
// decoded content stream. Text positioning operators start a new line.
func ShowText(content []byte) string {
	var (
		b       strings.Builder
		pending []string
		lx      = lexer{src: content}
	)
	flushLine := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokString:
			pending = append(pending, tok.text)
		case tokArray:
			pending = append(pending, tok.text)
		case tokOperator:
			switch tok.text {
			case "Tj", "TJ":
				b.WriteString(strings.Join(pending, ""))
			case "'", "\"":
				flushLine()
				b.WriteString(strings.Join(pending, ""))
			case "Td", "TD", "Tm", "T*", "ET":
				flushLine()
			}
			pending = pending[:0]
		}
	}
	return b.String()
}

type tokenKind int

const (
	tokOperator tokenKind = iota
	tokString
	tokArray
	tokOther
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	src []byte
	pos int
}

func (l *lexer) next() (token, bool) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{}, false
	}
	c := l.src[l.pos]
	switch {
	case c == '(':
		return token{kind: tokString, text: l.literal()}, true
	case c == '<' && l.peek(1) != '<':
		return token{kind: tokString, text: l.hex()}, true
	case c == '[':
		return token{kind: tokArray, text: l.array()}, true
	case c == '%':
		for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
			l.pos++
		}
		return token{kind: tokOther}, true
	case isDelimiter(c):
		l.pos++
		if (c == '<' || c == '>') && l.pos < len(l.src) && l.src[l.pos] == c {
			l.pos++
		}
		return token{kind: tokOther}, true
	}
	start := l.pos
	for l.pos < len(l.src) && !isSpace(l.src[l.pos]) && !isDelimiter(l.src[l.pos]) {
		l.pos++
	}
	word := string(l.src[start:l.pos])
	if isOperator(word) {
		return token{kind: tokOperator, text: word}, true
	}
	return token{kind: tokOther, text: word}, true
}

func (l *lexer) peek(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
}

// literal decodes a (...) string, honouring nesting and escapes.
func (l *lexer) literal() string {
	l.pos++ // (
	depth := 1
	var out []rune
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.src) {
				return string(out)
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; i++ {
						v = v*8 + int(l.src[l.pos]-'0')
						l.pos++
					}
					out = append(out, rune(v&0xff))
				} else {
					out = append(out, rune(e))
				}
			}
		case '(':
			depth++
			out = append(out, '(')
		case ')':
			depth--
			if depth == 0 {
				return string(out)
			}
			out = append(out, ')')
		default:
			out = append(out, rune(c))
		}
	}
	return string(out)
}

// hex decodes a <...> string as single-byte codes.
func (l *lexer) hex() string {
	l.pos++ // <
	var digits []byte
	for l.pos < len(l.src) && l.src[l.pos] != '>' {
		if c := l.src[l.pos]; isHexDigit(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]rune, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		v := hexVal(digits[i])<<4 | hexVal(digits[i+1])
		if v != 0 {
			out = append(out, rune(v))
		}
	}
	return string(out)
}

// array collects the strings of a TJ operand; large negative kerning
// offsets are word gaps.
func (l *lexer) array() string {
	l.pos++ // [
	var b strings.Builder
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			return b.String()
		}
		switch c := l.src[l.pos]; {
		case c == ']':
			l.pos++
			return b.String()
		case c == '(':
			b.WriteString(l.literal())
		case c == '<':
			b.WriteString(l.hex())
		default:
			start := l.pos
			for l.pos < len(l.src) && !isSpace(l.src[l.pos]) && !isDelimiter(l.src[l.pos]) {
				l.pos++
			}
			if l.pos == start {
				l.pos++
				continue
			}
			var n float64
			if _, err := fmt.Sscanf(string(l.src[start:l.pos]), "%g", &n); err == nil && n < -200 {
				b.WriteByte(' ')
			}
		}
	}
}

func isOperator(w string) bool {
	switch w {
	case "Tj", "TJ", "'", "\"", "Td", "TD", "Tm", "T*", "ET", "BT", "Tf":
		return true
	}
	return len(w) > 0 && (w[0] < '0' || w[0] > '9') && w[0] != '-' && w[0] != '+' && w[0] != '.' && w[0] != '/'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}
