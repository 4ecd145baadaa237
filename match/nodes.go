package match

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/models"
)

// TermMode distinguishes how a query word is turned into index terms.
type TermMode int

const (
	// Analyzed words run through the field type's parser.
	Analyzed TermMode = iota
	// Exact words (single-quoted) skip field-specific tokenization.
	Exact
	// PhraseWords (double-quoted) demand consecutive positions on a text
	// field.
	PhraseWords
)

// Term is the unresolved leaf produced by the parser. Name and Typ may be
// empty, meaning the unique type of the field and the default field
// respectively; Op empty means the type's natural operator.
type Term struct {
	Name string
	Typ  string
	Op   string
	Raw  string
	Mode TermMode
}

// NewTerm builds an unresolved term leaf.
func NewTerm(name, typ, op, raw string, mode TermMode) *Term {
	return &Term{Name: name, Typ: typ, Op: op, Raw: raw, Mode: mode}
}

func (t *Term) String() string {
	return fmt.Sprintf("term(%s:%s:%s %q)", t.Name, t.Typ, t.Op, t.Raw)
}

func defaultOp(t field.Type) string {
	if t.Name() == field.TypeText {
		return field.OpIn
	}
	return field.OpIs
}

// atomFor converts a raw query word into the key atom of the field type.
func atomFor(qf *field.QualifiedField, raw string) (interface{}, error) {
	switch qf.Type.Name() {
	case field.TypeInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, errors.New(errors.EQueryExecution, "field %q wants an integer, got %q", qf.Name, raw)
		}
		return v, nil
	case field.TypeDatetime:
		ts, err := field.ParseDatetime(models.Text(raw))
		if err != nil {
			return nil, errors.New(errors.EQueryExecution, "field %q wants a datetime, got %q", qf.Name, raw)
		}
		return ts, nil
	default:
		return raw, nil
	}
}

// Optimize resolves the leaf against the schema. Unknown fields make the
// matcher provably empty; ambiguous names or invalid operators are errors.
func (t *Term) Optimize(idx Index) (Matcher, error) {
	qf, err := idx.GetField(t.Name, t.Typ)
	if err != nil {
		return nil, err
	}
	if qf == nil {
		return nil, nil
	}

	op := t.Op
	if op == "" {
		op = defaultOp(qf.Type)
	}
	if !qf.Type.HasOperator(op) {
		return nil, errors.New(errors.EQueryExecution,
			"operator %q does not apply to %s field %q", op, qf.Type.Name(), qf.Name)
	}

	switch op {
	case field.OpIs, field.OpIn:
		return t.resolveValue(qf)
	case field.OpGt, field.OpGe:
		v, err := atomFor(qf, t.Raw)
		if err != nil {
			return nil, err
		}
		return &RangeMatcher{Field: qf, Value: v, Greater: true, Exclusive: op == field.OpGt}, nil
	case field.OpLt, field.OpLe:
		v, err := atomFor(qf, t.Raw)
		if err != nil {
			return nil, err
		}
		return &RangeMatcher{Field: qf, Value: v, Greater: false, Exclusive: op == field.OpLt}, nil
	default:
		return nil, errors.New(errors.EQueryExecution, "unknown operator %q", op)
	}
}

func (t *Term) resolveValue(qf *field.QualifiedField) (Matcher, error) {
	switch t.Mode {
	case Exact:
		v, err := atomFor(qf, t.Raw)
		if err != nil {
			return nil, err
		}
		return &TermMatcher{Field: qf, Value: v}, nil

	case PhraseWords:
		if qf.Type.Name() != field.TypeText {
			return nil, errors.New(errors.EQueryExecution,
				"phrase query does not apply to %s field %q", qf.Type.Name(), qf.Name)
		}
		tokens := field.Tokenize(t.Raw)
		switch len(tokens) {
		case 0:
			return nil, nil
		case 1:
			return &TermMatcher{Field: qf, Value: tokens[0]}, nil
		default:
			return &PhraseMatcher{Field: qf, Tokens: tokens}, nil
		}

	default: // Analyzed
		v, err := qf.Type.Validate(models.Text(t.Raw))
		if err != nil {
			return nil, errors.Wrap(err, errors.EQueryExecution, "match.Optimize")
		}
		terms, err := qf.Type.Parse(v)
		if err != nil {
			return nil, err
		}
		switch len(terms) {
		case 0:
			return nil, nil
		case 1:
			return &TermMatcher{Field: qf, Value: terms[0].Value}, nil
		default:
			// A single word tokenizing to several terms matches any of them.
			children := make([]Matcher, len(terms))
			for i, term := range terms {
				children[i] = &TermMatcher{Field: qf, Value: term.Value}
			}
			return &Or{Children: children}, nil
		}
	}
}

func (t *Term) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	return 0, errors.New(errors.EQueryExecution, "unoptimized term cannot be executed")
}

func (t *Term) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	return nil, errors.New(errors.EQueryExecution, "unoptimized term cannot be executed")
}

// TermMatcher scans the postings of a single resolved term.
type TermMatcher struct {
	Field *field.QualifiedField
	Value interface{}
}

func (m *TermMatcher) String() string {
	return fmt.Sprintf("%s:%s=%v", m.Field.Name, m.Field.Type.Name(), m.Value)
}

func (m *TermMatcher) Optimize(idx Index) (Matcher, error) {
	qf, err := idx.GetField(m.Field.Name, m.Field.Type.Name())
	if err != nil {
		return nil, err
	}
	if qf == nil {
		return nil, nil
	}
	return m, nil
}

func (m *TermMatcher) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	return sr.PostingsLength(m.Field, m.Value, start, end)
}

func (m *TermMatcher) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	return sr.IterPostings(m.Field, m.Value, start, end)
}

// PhraseMatcher intersects token posting lists and demands consecutive
// positions.
type PhraseMatcher struct {
	Field  *field.QualifiedField
	Tokens []string
}

func (m *PhraseMatcher) String() string {
	return fmt.Sprintf("%s:%s=%q", m.Field.Name, m.Field.Type.Name(), strings.Join(m.Tokens, " "))
}

func (m *PhraseMatcher) Optimize(idx Index) (Matcher, error) {
	qf, err := idx.GetField(m.Field.Name, m.Field.Type.Name())
	if err != nil {
		return nil, err
	}
	if qf == nil {
		return nil, nil
	}
	return m, nil
}

func (m *PhraseMatcher) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	est := -1.0
	for _, tok := range m.Tokens {
		n, err := sr.PostingsLength(m.Field, tok, start, end)
		if err != nil {
			return 0, err
		}
		if est < 0 || n < est {
			est = n
		}
	}
	if est < 0 {
		est = 0
	}
	return est, nil
}

func (m *PhraseMatcher) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	lists := make([]PostingList, 0, len(m.Tokens))
	for _, tok := range m.Tokens {
		pl, err := sr.IterPostings(m.Field, tok, start, end)
		if err != nil {
			closeAll(lists)
			return nil, err
		}
		lists = append(lists, pl)
	}
	return newPhrasePostingList(lists, !Forward(start, end)), nil
}

// RangeMatcher scans every term above (or below) a bound and unions their
// postings.
type RangeMatcher struct {
	Field     *field.QualifiedField
	Value     interface{}
	Greater   bool
	Exclusive bool
}

func (m *RangeMatcher) String() string {
	op := map[[2]bool]string{
		{true, true}: ">", {true, false}: ">=",
		{false, true}: "<", {false, false}: "<=",
	}[[2]bool{m.Greater, m.Exclusive}]
	return fmt.Sprintf("%s:%s%s%v", m.Field.Name, m.Field.Type.Name(), op, m.Value)
}

func (m *RangeMatcher) Optimize(idx Index) (Matcher, error) {
	qf, err := idx.GetField(m.Field.Name, m.Field.Type.Name())
	if err != nil {
		return nil, err
	}
	if qf == nil {
		return nil, nil
	}
	return m, nil
}

func (m *RangeMatcher) bounds() (startTerm, endTerm interface{}, startExcl, endExcl bool) {
	if m.Greater {
		return m.Value, nil, m.Exclusive, false
	}
	return nil, m.Value, false, m.Exclusive
}

func (m *RangeMatcher) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	st, et, se, ee := m.bounds()
	return sr.PostingsLengthBetween(m.Field, st, et, se, ee, start, end)
}

func (m *RangeMatcher) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	st, et, se, ee := m.bounds()
	return sr.IterPostingsBetween(m.Field, st, et, se, ee, start, end)
}

// Every matches all events in the range by scanning the event table.
type Every struct{}

// NewEvery returns the matcher for the ALL query.
func NewEvery() *Every { return &Every{} }

func (m *Every) String() string { return "ALL" }

func (m *Every) Optimize(idx Index) (Matcher, error) { return m, nil }

func (m *Every) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	return sr.PostingsLength(nil, nil, start, end)
}

func (m *Every) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	return sr.IterAll(start, end)
}

// And yields events matched by all children.
type And struct {
	Children []Matcher
}

// NewAnd builds a conjunction.
func NewAnd(children ...Matcher) *And { return &And{Children: children} }

func (m *And) String() string { return nodeString("AND", m.Children) }

func (m *And) Optimize(idx Index) (Matcher, error) {
	var positive, excluded []Matcher

	var walk func(children []Matcher) error
	walk = func(children []Matcher) error {
		for _, c := range children {
			switch n := c.(type) {
			case *And:
				if err := walk(n.Children); err != nil {
					return err
				}
			case *Not:
				opt, err := n.Child.Optimize(idx)
				if err != nil {
					return err
				}
				if opt != nil {
					excluded = append(excluded, opt)
				}
			default:
				opt, err := c.Optimize(idx)
				if err != nil {
					return err
				}
				switch o := opt.(type) {
				case nil:
				case *And:
					positive = append(positive, o.Children...)
				default:
					positive = append(positive, o)
				}
			}
		}
		return nil
	}
	if err := walk(m.Children); err != nil {
		return nil, err
	}

	if len(positive) == 0 {
		return nil, nil
	}
	var src Matcher
	if len(positive) == 1 {
		src = positive[0]
	} else {
		src = &And{Children: positive}
	}
	if len(excluded) == 0 {
		return src, nil
	}
	var excl Matcher
	if len(excluded) == 1 {
		excl = excluded[0]
	} else {
		excl = &Or{Children: excluded}
	}
	return &Sieve{Source: src, Excluded: excl}, nil
}

func (m *And) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	est := -1.0
	for _, c := range m.Children {
		n, err := c.EstimateLength(sr, start, end)
		if err != nil {
			return 0, err
		}
		if est < 0 || n < est {
			est = n
		}
	}
	if est < 0 {
		est = 0
	}
	return est, nil
}

func (m *And) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	type ranked struct {
		est float64
		m   Matcher
	}
	order := make([]ranked, 0, len(m.Children))
	for _, c := range m.Children {
		est, err := c.EstimateLength(sr, start, end)
		if err != nil {
			return nil, err
		}
		order = append(order, ranked{est: est, m: c})
	}
	// Drive iteration by the cheapest child; the rest are skipped to its
	// candidates.
	sort.SliceStable(order, func(i, j int) bool { return order[i].est < order[j].est })

	lists := make([]PostingList, 0, len(order))
	for _, r := range order {
		pl, err := r.m.Iterate(sr, start, end)
		if err != nil {
			closeAll(lists)
			return nil, err
		}
		lists = append(lists, pl)
	}
	return newAndPostingList(lists, !Forward(start, end)), nil
}

// Or yields events matched by any child, deduplicated.
type Or struct {
	Children []Matcher
}

// NewOr builds a disjunction.
func NewOr(children ...Matcher) *Or { return &Or{Children: children} }

func (m *Or) String() string { return nodeString("OR", m.Children) }

func (m *Or) Optimize(idx Index) (Matcher, error) {
	var out []Matcher

	var walk func(children []Matcher) error
	walk = func(children []Matcher) error {
		for _, c := range children {
			switch n := c.(type) {
			case *Or:
				if err := walk(n.Children); err != nil {
					return err
				}
			case *Not:
				inner, err := n.Child.Optimize(idx)
				if err != nil {
					return err
				}
				if inner == nil {
					out = append(out, NewEvery())
				} else {
					out = append(out, &Sieve{Source: NewEvery(), Excluded: inner})
				}
			default:
				opt, err := c.Optimize(idx)
				if err != nil {
					return err
				}
				switch o := opt.(type) {
				case nil:
				case *Or:
					out = append(out, o.Children...)
				default:
					out = append(out, o)
				}
			}
		}
		return nil
	}
	if err := walk(m.Children); err != nil {
		return nil, err
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return &Or{Children: out}, nil
	}
}

func (m *Or) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	var sum float64
	for _, c := range m.Children {
		n, err := c.EstimateLength(sr, start, end)
		if err != nil {
			return 0, err
		}
		sum += n
	}
	return sum, nil
}

func (m *Or) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	lists := make([]PostingList, 0, len(m.Children))
	for _, c := range m.Children {
		pl, err := c.Iterate(sr, start, end)
		if err != nil {
			closeAll(lists)
			return nil, err
		}
		lists = append(lists, pl)
	}
	return NewMergedPostingList(lists, !Forward(start, end), true), nil
}

// Not is a parse-time placeholder; optimization folds it into a Sieve.
type Not struct {
	Child Matcher
}

// NewNot wraps a matcher in a negation.
func NewNot(child Matcher) *Not { return &Not{Child: child} }

func (m *Not) String() string { return fmt.Sprintf("NOT(%s)", m.Child) }

func (m *Not) Optimize(idx Index) (Matcher, error) {
	inner, err := m.Child.Optimize(idx)
	if err != nil {
		return nil, err
	}
	if inner == nil {
		return NewEvery(), nil
	}
	return &Sieve{Source: NewEvery(), Excluded: inner}, nil
}

func (m *Not) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	return 0, errors.New(errors.EQueryExecution, "negation cannot be executed standalone")
}

func (m *Not) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	return nil, errors.New(errors.EQueryExecution, "negation cannot be executed standalone")
}

// Sieve drops the postings of Excluded from the postings of Source in
// lock-step.
type Sieve struct {
	Source   Matcher
	Excluded Matcher
}

func (m *Sieve) String() string { return fmt.Sprintf("SIEVE(%s - %s)", m.Source, m.Excluded) }

func (m *Sieve) Optimize(idx Index) (Matcher, error) {
	src, err := m.Source.Optimize(idx)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, nil
	}
	excl, err := m.Excluded.Optimize(idx)
	if err != nil {
		return nil, err
	}
	if excl == nil {
		return src, nil
	}
	return &Sieve{Source: src, Excluded: excl}, nil
}

func (m *Sieve) EstimateLength(sr Searcher, start, end evid.EVID) (float64, error) {
	return m.Source.EstimateLength(sr, start, end)
}

func (m *Sieve) Iterate(sr Searcher, start, end evid.EVID) (PostingList, error) {
	src, err := m.Source.Iterate(sr, start, end)
	if err != nil {
		return nil, err
	}
	excl, err := m.Excluded.Iterate(sr, start, end)
	if err != nil {
		src.Close()
		return nil, err
	}
	return newSievePostingList(src, excl, !Forward(start, end)), nil
}

func nodeString(op string, children []Matcher) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

func closeAll(lists []PostingList) {
	for _, pl := range lists {
		pl.Close()
	}
}
