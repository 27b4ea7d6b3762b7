package sqlparser

import "strings"

// TokenKind classifies lexed tokens
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenQuotedIdent
	TokenNumber
	TokenString
	TokenOp
)

// Token is a single lexed token. Text preserves the source spelling;
// quoted identifiers keep their unquoted value with Quoted set.
type Token struct {
	Kind   TokenKind
	Text   string
	Quoted bool
	Line   int
	Col    int
}

// Upper returns the uppercase spelling used for keyword matching.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// IsKeyword reports whether the token is the given bare keyword.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == TokenIdent && !t.Quoted && t.Upper() == kw
}

// reservedWords terminate expression parsing when seen in clause position.
// Quoted identifiers are never reserved.
var reservedWords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "HAVING": true,
	"ORDER": true, "LIMIT": true, "OFFSET": true, "UNION": true, "INTERSECT": true,
	"EXCEPT": true, "ALL": true, "DISTINCT": true, "AS": true, "ON": true,
	"USING": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true,
	"FULL": true, "CROSS": true, "OUTER": true, "WITH": true, "CASE": true,
	"WHEN": true, "THEN": true, "ELSE": true, "END": true, "AND": true,
	"OR": true, "NOT": true, "IN": true, "IS": true, "NULL": true,
	"BETWEEN": true, "LIKE": true, "ILIKE": true, "RLIKE": true, "EXISTS": true,
	"CAST": true, "INTERVAL": true, "QUALIFY": true, "OVER": true,
	"PARTITION": true, "BY": true, "ASC": true, "DESC": true, "NULLS": true,
	"FIRST": true, "LAST": true, "TRUE": true, "FALSE": true,
}

func isReserved(tok Token) bool {
	return tok.Kind == TokenIdent && !tok.Quoted && reservedWords[tok.Upper()]
}
