package smtptest

import "regexp"

// ExtractHeaderLines takes a single received message and returns every
// header line for the named field, folded continuations excluded. Useful
// for asserting that a rewritten field occupies exactly one line.
func ExtractHeaderLines(body string, field string) []string {
	if body == "" {
		return []string{}
	}
	pattern := regexp.MustCompile("(?m)^" + regexp.QuoteMeta(field) + ":.*$")
	return pattern.FindAllString(body, -1)
}
