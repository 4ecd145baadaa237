package query

import (
	"strings"
	"unicode"
)

const eofRune = rune(0)

// unreservedPunct is the punctuation allowed inside bare words, so tokens
// such as paths, hostnames and field:operator prefixes scan as one word.
const unreservedPunct = "_+-*/\\,.&|^~@#$%:;"

func isUnreserved(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || strings.ContainsRune(unreservedPunct, ch)
}

// Scanner is a lexical scanner for query text.
type Scanner struct {
	in  []rune
	pos []Pos
	i   int
}

// NewScanner returns a scanner over the query text.
func NewScanner(input string) *Scanner {
	in := []rune(input)
	pos := make([]Pos, len(in)+1)
	line, char := 0, 0
	for i, ch := range in {
		pos[i] = Pos{Line: line, Char: char}
		if ch == '\n' {
			line, char = line+1, 0
		} else {
			char++
		}
	}
	pos[len(in)] = Pos{Line: line, Char: char}
	return &Scanner{in: in, pos: pos}
}

func (s *Scanner) read() (rune, Pos) {
	if s.i >= len(s.in) {
		return eofRune, s.pos[len(s.in)]
	}
	ch, pos := s.in[s.i], s.pos[s.i]
	s.i++
	return ch, pos
}

func (s *Scanner) unread() {
	if s.i > 0 {
		s.i--
	}
}

// Scan returns the next token, its starting position, and its literal text.
func (s *Scanner) Scan() (tok Token, pos Pos, lit string) {
	ch, pos := s.read()
	switch {
	case ch == eofRune:
		return EOF, pos, ""
	case unicode.IsSpace(ch):
		s.unread()
		return s.scanWhitespace()
	case ch == '\'':
		return s.scanString(pos, '\'', EXACT)
	case ch == '"':
		return s.scanString(pos, '"', PHRASE)
	case ch == '(':
		return LPAREN, pos, ""
	case ch == ')':
		return RPAREN, pos, ""
	case ch == '=':
		return EQ, pos, ""
	case isUnreserved(ch):
		s.unread()
		return s.scanBareword()
	}
	return ILLEGAL, pos, string(ch)
}

func (s *Scanner) scanWhitespace() (Token, Pos, string) {
	var sb strings.Builder
	_, pos := s.read()
	s.unread()
	for {
		ch, _ := s.read()
		if ch == eofRune {
			break
		}
		if !unicode.IsSpace(ch) {
			s.unread()
			break
		}
		sb.WriteRune(ch)
	}
	return WS, pos, sb.String()
}

// scanString consumes a quoted string; the opening quote is already read.
// Backslash escapes the quote character and itself.
func (s *Scanner) scanString(pos Pos, quote rune, tok Token) (Token, Pos, string) {
	var sb strings.Builder
	for {
		ch, _ := s.read()
		switch ch {
		case eofRune:
			return BADSTRING, pos, sb.String()
		case quote:
			return tok, pos, sb.String()
		case '\\':
			next, _ := s.read()
			switch next {
			case quote, '\\':
				sb.WriteRune(next)
			case eofRune:
				return BADSTRING, pos, sb.String()
			default:
				sb.WriteRune(ch)
				sb.WriteRune(next)
			}
		default:
			sb.WriteRune(ch)
		}
	}
}

func (s *Scanner) scanBareword() (Token, Pos, string) {
	var sb strings.Builder
	_, pos := s.read()
	s.unread()
	for {
		ch, _ := s.read()
		if ch == eofRune {
			break
		}
		if !isUnreserved(ch) {
			s.unread()
			break
		}
		sb.WriteRune(ch)
	}
	lit := sb.String()
	return Lookup(lit), pos, lit
}
