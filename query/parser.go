// Package query parses the boolean search language into a matcher tree plus
// an optional time window.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/match"
)

// Period is the time window a query runs over.
type Period struct {
	From          time.Time
	To            time.Time
	FromExclusive bool
	ToExclusive   bool
}

var absoluteLayouts = []string{
	"2006/01/02T15:04:05",
	"2006/01/02",
}

// Parser parses query text.
type Parser struct {
	s     *Scanner
	input string
	buf   struct {
		tok Token
		pos Pos
		lit string
		n   int
	}
}

// NewParser returns a parser over the query text.
func NewParser(input string) *Parser {
	return &Parser{s: NewScanner(input), input: input}
}

// ParseIter parses a search query with an optional WHERE DATE window.
// Without a WHERE clause the window is the hour ending at now; an empty
// query matches everything in that window.
func ParseIter(input string, now time.Time) (match.Matcher, Period, error) {
	p := NewParser(input)
	period := Period{From: now.Add(-time.Hour), To: now}

	if tok, _, _ := p.scanIgnoreWhitespace(); tok == EOF {
		return match.NewEvery(), period, nil
	}
	p.unscan()

	m, err := p.parseTerms()
	if err != nil {
		return nil, Period{}, err
	}

	tok, pos, lit := p.scanIgnoreWhitespace()
	switch tok {
	case EOF:
	case WHERE:
		if period, err = p.parseSubjectDate(now); err != nil {
			return nil, Period{}, err
		}
		if tok, pos, lit = p.scanIgnoreWhitespace(); tok != EOF {
			return nil, Period{}, p.syntaxError(pos, "unexpected %s", tokstr(tok, lit))
		}
	default:
		return nil, Period{}, p.syntaxError(pos, "unexpected %s", tokstr(tok, lit))
	}
	return m, period, nil
}

// ParseTail parses a search query without a date clause; an empty query
// matches everything.
func ParseTail(input string) (match.Matcher, error) {
	p := NewParser(input)
	if tok, _, _ := p.scanIgnoreWhitespace(); tok == EOF {
		return match.NewEvery(), nil
	}
	p.unscan()

	m, err := p.parseTerms()
	if err != nil {
		return nil, err
	}
	if tok, pos, lit := p.scanIgnoreWhitespace(); tok != EOF {
		return nil, p.syntaxError(pos, "unexpected %s", tokstr(tok, lit))
	}
	return m, nil
}

func (p *Parser) parseTerms() (match.Matcher, error) {
	if tok, _, _ := p.scanIgnoreWhitespace(); tok == ALL {
		return match.NewEvery(), nil
	}
	p.unscan()
	return p.parseOrGroup()
}

func (p *Parser) parseOrGroup() (match.Matcher, error) {
	first, err := p.parseAndGroup()
	if err != nil {
		return nil, err
	}
	children := []match.Matcher{first}
	for {
		if tok, _, _ := p.scanIgnoreWhitespace(); tok != OR {
			p.unscan()
			break
		}
		next, err := p.parseAndGroup()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return match.NewOr(children...), nil
}

func (p *Parser) parseAndGroup() (match.Matcher, error) {
	first, err := p.parseNotGroup()
	if err != nil {
		return nil, err
	}
	children := []match.Matcher{first}
	for {
		if tok, _, _ := p.scanIgnoreWhitespace(); tok != AND {
			p.unscan()
			break
		}
		next, err := p.parseNotGroup()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return match.NewAnd(children...), nil
}

func (p *Parser) parseNotGroup() (match.Matcher, error) {
	tok, _, _ := p.scanIgnoreWhitespace()
	switch tok {
	case NOT:
		sub, err := p.parseSubject()
		if err != nil {
			return nil, err
		}
		return match.NewNot(sub), nil
	case LPAREN:
		m, err := p.parseOrGroup()
		if err != nil {
			return nil, err
		}
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != RPAREN {
			return nil, p.syntaxError(pos, "expected ), got %s", tokstr(tok, lit))
		}
		return m, nil
	default:
		p.unscan()
		return p.parseSubject()
	}
}

func (p *Parser) parseSubject() (match.Matcher, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()
	switch tok {
	case EXACT:
		return match.NewTerm("", "", "", lit, match.Exact), nil
	case PHRASE:
		return match.NewTerm("", "", "", lit, match.PhraseWords), nil
	case BAREWORD:
		return p.parseFieldSubject(lit, pos)
	default:
		return nil, p.syntaxError(pos, "expected search term, got %s", tokstr(tok, lit))
	}
}

// parseFieldSubject finishes a subject that began with a bare word: a plain
// term, name=word, or name[:type]:operator(word).
func (p *Parser) parseFieldSubject(word string, wordPos Pos) (match.Matcher, error) {
	tok, _, _ := p.scanIgnoreWhitespace()
	switch tok {
	case EQ:
		raw, mode, err := p.parseWord()
		if err != nil {
			return nil, err
		}
		return match.NewTerm(word, "", "", raw, mode), nil
	case LPAREN:
		parts := strings.Split(word, ":")
		var name, typ, op string
		switch len(parts) {
		case 2:
			name, op = parts[0], parts[1]
		case 3:
			name, typ, op = parts[0], parts[1], parts[2]
		default:
			return nil, p.syntaxError(wordPos, "expected field:operator before parenthesis, got %q", word)
		}
		raw, mode, err := p.parseWord()
		if err != nil {
			return nil, err
		}
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != RPAREN {
			return nil, p.syntaxError(pos, "expected ), got %s", tokstr(tok, lit))
		}
		return match.NewTerm(name, typ, op, raw, mode), nil
	default:
		p.unscan()
		return match.NewTerm("", "", "", word, match.Analyzed), nil
	}
}

func (p *Parser) parseWord() (string, match.TermMode, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()
	switch tok {
	case BAREWORD:
		return lit, match.Analyzed, nil
	case EXACT:
		return lit, match.Exact, nil
	case PHRASE:
		return lit, match.PhraseWords, nil
	default:
		return "", 0, p.syntaxError(pos, "expected word, got %s", tokstr(tok, lit))
	}
}

// parseSubjectDate parses DATE with FROM and TO clauses in either order.
// A missing TO defaults to now; a missing FROM leaves the window open at
// the epoch.
func (p *Parser) parseSubjectDate(now time.Time) (Period, error) {
	if tok, pos, lit := p.scanIgnoreWhitespace(); tok != DATE {
		return Period{}, p.syntaxError(pos, "expected DATE, got %s", tokstr(tok, lit))
	}
	period := Period{From: time.Unix(0, 0).UTC(), To: now}
	var hasFrom, hasTo bool
	for {
		tok, pos, lit := p.scanIgnoreWhitespace()
		switch tok {
		case FROM:
			if hasFrom {
				return Period{}, p.syntaxError(pos, "duplicate FROM")
			}
			hasFrom = true
			t, excl, err := p.parseDateSpec(now)
			if err != nil {
				return Period{}, err
			}
			period.From, period.FromExclusive = t, excl
		case TO:
			if hasTo {
				return Period{}, p.syntaxError(pos, "duplicate TO")
			}
			hasTo = true
			t, excl, err := p.parseDateSpec(now)
			if err != nil {
				return Period{}, err
			}
			period.To, period.ToExclusive = t, excl
		default:
			if !hasFrom && !hasTo {
				return Period{}, p.syntaxError(pos, "expected FROM or TO, got %s", tokstr(tok, lit))
			}
			p.unscan()
			return period, nil
		}
	}
}

// parseDateSpec parses an absolute date or "N UNIT AGO", plus an optional
// EXCLUSIVE marker.
func (p *Parser) parseDateSpec(now time.Time) (time.Time, bool, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()
	if tok != BAREWORD {
		return time.Time{}, false, p.syntaxError(pos, "expected date, got %s", tokstr(tok, lit))
	}

	var t time.Time
	if isDigits(lit) {
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil || n <= 0 {
			return time.Time{}, false, p.syntaxError(pos, "expected a positive number, got %q", lit)
		}
		unitTok, upos, ulit := p.scanIgnoreWhitespace()
		unit, ok := unitDuration(unitTok)
		if !ok {
			return time.Time{}, false, p.syntaxError(upos, "expected a time unit, got %s", tokstr(unitTok, ulit))
		}
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != AGO {
			return time.Time{}, false, p.syntaxError(pos, "expected AGO, got %s", tokstr(tok, lit))
		}
		t = now.Add(-time.Duration(n) * unit)
	} else {
		parsed := false
		for _, layout := range absoluteLayouts {
			if v, err := time.ParseInLocation(layout, lit, time.UTC); err == nil {
				t, parsed = v, true
				break
			}
		}
		if !parsed {
			return time.Time{}, false, p.syntaxError(pos, "cannot parse date %q", lit)
		}
	}

	excl := false
	if tok, _, _ := p.scanIgnoreWhitespace(); tok == EXCLUSIVE {
		excl = true
	} else {
		p.unscan()
	}
	return t, excl, nil
}

func unitDuration(tok Token) (time.Duration, bool) {
	switch tok {
	case SECONDS:
		return time.Second, true
	case MINUTES:
		return time.Minute, true
	case HOURS:
		return time.Hour, true
	case DAYS:
		return 24 * time.Hour, true
	case WEEKS:
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (p *Parser) scan() (Token, Pos, string) {
	if p.buf.n != 0 {
		p.buf.n = 0
		return p.buf.tok, p.buf.pos, p.buf.lit
	}
	tok, pos, lit := p.s.Scan()
	p.buf.tok, p.buf.pos, p.buf.lit = tok, pos, lit
	return tok, pos, lit
}

func (p *Parser) unscan() { p.buf.n = 1 }

func (p *Parser) scanIgnoreWhitespace() (Token, Pos, string) {
	tok, pos, lit := p.scan()
	if tok == WS {
		tok, pos, lit = p.scan()
	}
	return tok, pos, lit
}

func (p *Parser) syntaxError(pos Pos, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return errors.New(errors.EQuerySyntax, "%s at line %d, char %d near %q",
		msg, pos.Line+1, pos.Char+1, p.excerpt(pos))
}

// excerpt returns a short slice of the query line at the error position.
func (p *Parser) excerpt(pos Pos) string {
	lines := strings.Split(p.input, "\n")
	if pos.Line >= len(lines) {
		return ""
	}
	line := []rune(lines[pos.Line])
	start := pos.Char
	if start > len(line) {
		start = len(line)
	}
	end := start + 16
	if end > len(line) {
		end = len(line)
	}
	return string(line[start:end])
}

func tokstr(tok Token, lit string) string {
	if tok == BAREWORD || tok == ILLEGAL {
		return strconv.Quote(lit)
	}
	return tok.String()
}
