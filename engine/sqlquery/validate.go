package sqlquery

import (
	"regexp"
	"strings"

	"github.com/isdmx/codearena/apperr"
)

// bannedKeywords mutate data, change schema or administer the server. Any
// occurrence as a word rejects the query, wherever it appears.
var bannedKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE",
	"GRANT", "REVOKE", "MERGE", "UPSERT", "COPY", "CALL", "EXEC", "EXECUTE",
	"DO", "SET", "RESET", "VACUUM", "ANALYZE", "CLUSTER", "REINDEX", "LOCK",
	"INTO", "LISTEN", "NOTIFY", "PREPARE", "DEALLOCATE", "DISCARD",
	"ATTACH", "DETACH", "PRAGMA", "SHUTDOWN", "KILL",
}

var (
	bannedPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(bannedKeywords, "|") + `)\b`)
	leadingSelect = regexp.MustCompile(`(?is)^\s*\(*\s*(select|with)\b`)
	// Injection markers: a terminator followed by anything, comments and
	// extended procedure prefixes.
	chainingMarkers = []*regexp.Regexp{
		regexp.MustCompile(`;\s*\S`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`/\*|\*/`),
		regexp.MustCompile(`#`),
		regexp.MustCompile(`(?i)\b(xp|sp)_\w+`),
	}
)

// validateQuery enforces read-only, single-statement retrieval. It does not
// rely on the shared security validator having run.
func validateQuery(query string, maxBytes int) error {
	if strings.TrimSpace(query) == "" {
		return apperr.Validation(apperr.RuleEmptyCode, "query must not be empty")
	}
	if maxBytes > 0 && len(query) > maxBytes {
		return apperr.Validationf(apperr.RuleCodeTooLarge, "query is %d bytes, limit is %d", len(query), maxBytes)
	}
	if m := bannedPattern.FindString(query); m != "" {
		return apperr.Validationf(apperr.RuleDisallowedKeyword, "keyword %s is not allowed; only read-only queries are accepted", strings.ToUpper(m))
	}
	for _, marker := range chainingMarkers {
		if m := marker.FindString(query); m != "" {
			return apperr.Validationf(apperr.RuleStatementChaining, "statement chaining or comment marker %q is not allowed", strings.TrimSpace(m))
		}
	}
	if !leadingSelect.MatchString(query) {
		return apperr.Validation(apperr.RuleNotReadOnly, "only a single SELECT statement is allowed")
	}
	if strings.Count(query, "'")%2 != 0 {
		return apperr.Validation(apperr.RuleSyntax, "unterminated string literal")
	}
	if depth := parenDepth(query); depth != 0 {
		return apperr.Validation(apperr.RuleSyntax, "unbalanced parentheses")
	}
	return nil
}

func parenDepth(query string) int {
	depth := 0
	inString := false
	for _, r := range query {
		switch {
		case r == '\'':
			inString = !inString
		case inString:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return depth
			}
		}
	}
	return depth
}

// stripTerminator removes a single trailing semicolon.
func stripTerminator(query string) string {
	q := strings.TrimSpace(query)
	return strings.TrimSpace(strings.TrimSuffix(q, ";"))
}
