package field

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/models"
)

// identityType stores the value verbatim and indexes it as a single term.
type identityType struct{}

func (identityType) Name() string { return TypeIdentity }

func (identityType) Validate(v models.Value) (models.Value, error) {
	if v.Kind() != models.KindText {
		return models.Value{}, errors.New(errors.EValidate, "identity field wants text, got %s", v.Kind())
	}
	return v, nil
}

func (identityType) Parse(v models.Value) ([]Term, error) {
	if v.Kind() != models.KindText {
		return nil, errors.New(errors.EValidate, "identity field wants text, got %s", v.Kind())
	}
	return []Term{{Value: v.TextVal(), Meta: models.IdentityPostingMeta()}}, nil
}

func (identityType) HasOperator(op string) bool { return op == OpIs }

// textType tokenizes on non-word runs, lowercases, and records ascending
// per-document positions.
type textType struct{}

func (textType) Name() string { return TypeText }

func (textType) Validate(v models.Value) (models.Value, error) {
	if v.Kind() != models.KindText {
		return models.Value{}, errors.New(errors.EValidate, "text field wants text, got %s", v.Kind())
	}
	return v, nil
}

func (textType) Parse(v models.Value) ([]Term, error) {
	if v.Kind() != models.KindText {
		return nil, errors.New(errors.EValidate, "text field wants text, got %s", v.Kind())
	}
	tokens := Tokenize(v.TextVal())
	order := make([]string, 0, len(tokens))
	positions := make(map[string][]int64, len(tokens))
	for pos, tok := range tokens {
		if _, seen := positions[tok]; !seen {
			order = append(order, tok)
		}
		positions[tok] = append(positions[tok], int64(pos))
	}
	terms := make([]Term, 0, len(order))
	for _, tok := range order {
		terms = append(terms, Term{Value: tok, Meta: models.TextPostingMeta(positions[tok])})
	}
	return terms, nil
}

func (textType) HasOperator(op string) bool { return op == OpIn }

// Tokenize splits text on runs of non-word runes (anything that is not a
// unicode letter, digit, or underscore) and lowercases the tokens.
func Tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// integerType indexes a single int64 term.
type integerType struct{}

func (integerType) Name() string { return TypeInteger }

func (integerType) Validate(v models.Value) (models.Value, error) {
	switch v.Kind() {
	case models.KindInt:
		return v, nil
	case models.KindText:
		i, err := strconv.ParseInt(strings.TrimSpace(v.TextVal()), 10, 64)
		if err != nil {
			return models.Value{}, errors.New(errors.EValidate, "integer field cannot parse %q", v.TextVal())
		}
		return models.Int(i), nil
	case models.KindFloat:
		f := v.FloatVal()
		i := int64(f)
		if float64(i) != f {
			return models.Value{}, errors.New(errors.EValidate, "integer field cannot hold %v", f)
		}
		return models.Int(i), nil
	default:
		return models.Value{}, errors.New(errors.EValidate, "integer field wants an integer, got %s", v.Kind())
	}
}

func (t integerType) Parse(v models.Value) ([]Term, error) {
	canon, err := t.Validate(v)
	if err != nil {
		return nil, err
	}
	return []Term{{Value: canon.IntVal(), Meta: models.Null()}}, nil
}

func (integerType) HasOperator(op string) bool {
	switch op {
	case OpIs, OpGt, OpLt, OpGe, OpLe:
		return true
	}
	return false
}

// datetimeType canonicalizes to UTC seconds and stores them as an integer.
type datetimeType struct{}

func (datetimeType) Name() string { return TypeDatetime }

var datetimeLayouts = []string{
	"2006/01/02T15:04:05",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC3339,
}

// ParseDatetime canonicalizes a datetime value to UTC seconds.
func ParseDatetime(v models.Value) (int64, error) {
	switch v.Kind() {
	case models.KindInt:
		return v.IntVal(), nil
	case models.KindText:
		s := strings.TrimSpace(v.TextVal())
		for _, layout := range datetimeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC().Unix(), nil
			}
		}
		return 0, errors.New(errors.EValidate, "datetime field cannot parse %q", s)
	default:
		return 0, errors.New(errors.EValidate, "datetime field wants text or seconds, got %s", v.Kind())
	}
}

func (datetimeType) Validate(v models.Value) (models.Value, error) {
	ts, err := ParseDatetime(v)
	if err != nil {
		return models.Value{}, err
	}
	return models.Int(ts), nil
}

func (datetimeType) Parse(v models.Value) ([]Term, error) {
	ts, err := ParseDatetime(v)
	if err != nil {
		return nil, err
	}
	return []Term{{Value: ts, Meta: models.Null()}}, nil
}

func (datetimeType) HasOperator(op string) bool {
	switch op {
	case OpIs, OpGt, OpLt, OpGe, OpLe:
		return true
	}
	return false
}
