package security

import (
	"regexp"
	"strings"
)

// Canonical language identifiers.
const (
	LanguageJavaScript = "javascript"
	LanguageSQL        = "sql"
	LanguagePython     = "python"
	LanguageGo         = "go"
	LanguageCPP        = "cpp"
)

var languageAliases = map[string]string{
	"javascript": LanguageJavaScript,
	"js":         LanguageJavaScript,
	"node":       LanguageJavaScript,
	"nodejs":     LanguageJavaScript,
	"sql":        LanguageSQL,
	"postgres":   LanguageSQL,
	"postgresql": LanguageSQL,
	"psql":       LanguageSQL,
	"python":     LanguagePython,
	"python3":    LanguagePython,
	"py":         LanguagePython,
	"go":         LanguageGo,
	"golang":     LanguageGo,
	"cpp":        LanguageCPP,
	"c++":        LanguageCPP,
	"cplusplus":  LanguageCPP,
}

// CanonicalLanguage lower-cases name and resolves known aliases. Unknown
// names are returned lower-cased and trimmed so callers can still report them.
func CanonicalLanguage(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := languageAliases[key]; ok {
		return canonical
	}
	return key
}

var (
	detectSQL    = regexp.MustCompile(`(?is)^\s*(select|with)\b`)
	detectGo     = regexp.MustCompile(`(?m)^\s*package\s+\w+`)
	detectCPP    = regexp.MustCompile(`#include\s*[<"]|\bstd::|\bint\s+main\s*\(`)
	detectJS     = regexp.MustCompile(`\bconsole\s*\.\s*\w+\s*\(|\b(const|let|var)\s+\w+\s*=|\bfunction\s*\w*\s*\(|=>`)
	detectPython = regexp.MustCompile(`(?m)^\s*(def|class|import|from)\s+\w+|\bprint\s*\(|\belif\b`)
)

// DetectLanguage guesses the language of code. It returns "" when no
// heuristic matches; the guess is only used when the caller omitted one.
func DetectLanguage(code string) string {
	switch {
	case strings.TrimSpace(code) == "":
		return ""
	case detectSQL.MatchString(code):
		return LanguageSQL
	case detectGo.MatchString(code):
		return LanguageGo
	case detectCPP.MatchString(code):
		return LanguageCPP
	case detectJS.MatchString(code):
		return LanguageJavaScript
	case detectPython.MatchString(code):
		return LanguagePython
	default:
		return ""
	}
}
