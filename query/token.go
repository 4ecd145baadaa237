package query

// Token is a lexical token of the query language.
type Token int

const (
	ILLEGAL Token = iota
	EOF
	WS

	literalBeg
	// BAREWORD is an unquoted run of unreserved characters.
	BAREWORD
	// EXACT is a single-quoted string; it skips field tokenization.
	EXACT
	// PHRASE is a double-quoted string; on text fields it demands
	// consecutive token positions.
	PHRASE
	// BADSTRING is an unterminated quoted string.
	BADSTRING
	literalEnd

	LPAREN // (
	RPAREN // )
	EQ     // =

	keywordBeg
	ALL
	AND
	OR
	NOT
	WHERE
	DATE
	FROM
	TO
	EXCLUSIVE
	AGO
	SECONDS
	MINUTES
	HOURS
	DAYS
	WEEKS
	keywordEnd
)

var tokens = [...]string{
	ILLEGAL: "ILLEGAL",
	EOF:     "EOF",
	WS:      "WS",

	BAREWORD:  "word",
	EXACT:     "string",
	PHRASE:    "phrase",
	BADSTRING: "bad string",

	LPAREN: "(",
	RPAREN: ")",
	EQ:     "=",

	ALL:       "ALL",
	AND:       "AND",
	OR:        "OR",
	NOT:       "NOT",
	WHERE:     "WHERE",
	DATE:      "DATE",
	FROM:      "FROM",
	TO:        "TO",
	EXCLUSIVE: "EXCLUSIVE",
	AGO:       "AGO",
	SECONDS:   "SECONDS",
	MINUTES:   "MINUTES",
	HOURS:     "HOURS",
	DAYS:      "DAYS",
	WEEKS:     "WEEKS",
}

// Keywords are matched case-sensitively; a lowercase "and" is an ordinary
// search word.
var keywords = map[string]Token{
	"ALL":       ALL,
	"AND":       AND,
	"OR":        OR,
	"NOT":       NOT,
	"WHERE":     WHERE,
	"DATE":      DATE,
	"FROM":      FROM,
	"TO":        TO,
	"EXCLUSIVE": EXCLUSIVE,
	"AGO":       AGO,
	"SECOND":    SECONDS,
	"SECONDS":   SECONDS,
	"MINUTE":    MINUTES,
	"MINUTES":   MINUTES,
	"HOUR":      HOURS,
	"HOURS":     HOURS,
	"DAY":       DAYS,
	"DAYS":      DAYS,
	"WEEK":      WEEKS,
	"WEEKS":     WEEKS,
}

func (tok Token) String() string {
	if tok >= 0 && tok < Token(len(tokens)) {
		return tokens[tok]
	}
	return ""
}

// Lookup returns the keyword token for a word, or BAREWORD.
func Lookup(word string) Token {
	if tok, ok := keywords[word]; ok {
		return tok
	}
	return BAREWORD
}

// Pos is a location in the query text, zero-based.
type Pos struct {
	Line int
	Char int
}
