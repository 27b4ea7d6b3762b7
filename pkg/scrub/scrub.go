// Package scrub removes identifying and secret material from text before it
// leaves the process, whether to an LLM collaborator or a telemetry sink.
// Replacements are category placeholders so downstream consumers can still
// see the shape of the text.
package scrub

import (
	"regexp"
)

// Placeholder values substituted for matched material.
const (
	PlaceholderEmail   = "<EMAIL>"
	PlaceholderPhone   = "<PHONE>"
	PlaceholderSSN     = "<SSN>"
	PlaceholderCard    = "<CARD>"
	PlaceholderToken   = "<TOKEN>"
	PlaceholderSecret  = "<SECRET>"
	PlaceholderLiteral = "<LITERAL>"
	PlaceholderID      = "<ID>"
)

// Pattern order matters: tokens and key=value pairs go before the numeric
// rules so a secret containing digits is swallowed whole, and string
// literals go last so placeholders already substituted inside quotes do not
// get re-wrapped.
var rules = []struct {
	re   *regexp.Regexp
	repl string
}{
	// Databricks personal access tokens.
	{regexp.MustCompile(`\bdapi[0-9a-fA-F]{16,64}\b`), PlaceholderToken},
	// key=value and key: value secrets, matched on the key name.
	{regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api[_-]?key|access[_-]?key|private[_-]?key|credential)s?\b\s*[:=]\s*\S+`), "$1=" + PlaceholderSecret},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), PlaceholderEmail},
	// US social security numbers, with or without separators.
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), PlaceholderSSN},
	// Payment card numbers: 13-19 digits allowing space or dash groups.
	{regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), PlaceholderCard},
	// US phone numbers: optional +1, separators, parenthesised area code.
	{regexp.MustCompile(`(?:\+?1[ .\-]?)?\(?\d{3}\)?[ .\-]\d{3}[ .\-]\d{4}\b`), PlaceholderPhone},
}

var (
	stringLiteralRe = regexp.MustCompile(`'(?:[^']|'')*'`)
	longNumberRe    = regexp.MustCompile(`\b\d{6,}\b`)
)

// Text scrubs free-form text: prompts, error messages, log payloads.
func Text(s string) string {
	for _, rule := range rules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return longNumberRe.ReplaceAllString(s, PlaceholderID)
}

// SQL scrubs SQL destined for an LLM prompt. On top of the text rules it
// blanks every string literal and long numeric literal, which is where
// tenant data hides in a query.
func SQL(s string) string {
	s = stringLiteralRe.ReplaceAllString(s, PlaceholderLiteral)
	return Text(s)
}

// Fields scrubs a telemetry field map in place and returns it. Only string
// values are inspected; numeric fields are aggregates, not payloads.
func Fields(fields map[string]any) map[string]any {
	for k, v := range fields {
		if s, ok := v.(string); ok {
			fields[k] = Text(s)
		}
	}
	return fields
}
