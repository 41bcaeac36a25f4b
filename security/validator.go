package security

import (
	"fmt"
)

// CheckResult is produced fresh for every validation and never persisted.
type CheckResult struct {
	Safe    bool     `json:"safe"`
	Threats []string `json:"threats"`
}

// maxMatchEcho bounds how much of the offending text is echoed in a threat.
const maxMatchEcho = 40

// Validate inspects code for forbidden constructs. The language may be empty
// or unknown; in that case the detected language is used, and when detection
// fails only the language-independent rules apply. Every violated rule yields
// exactly one threat, in rule order.
func Validate(code, language string) CheckResult {
	lang := CanonicalLanguage(language)
	if _, known := languageAliases[lang]; !known {
		lang = DetectLanguage(code)
	}

	result := CheckResult{Safe: true, Threats: []string{}}
	for _, r := range rules {
		match, ok := r.match(code, lang)
		if !ok {
			continue
		}
		result.Safe = false
		result.Threats = append(result.Threats, fmt.Sprintf("%s: %s (found %q)", r.name, r.description, echo(match)))
	}
	return result
}

func (r rule) match(code, lang string) (string, bool) {
	for _, key := range []string{anyLanguage, lang} {
		if key == "" {
			continue
		}
		for _, p := range r.patterns[key] {
			if loc := p.FindStringIndex(code); loc != nil {
				return code[loc[0]:loc[1]], true
			}
		}
	}
	return "", false
}

func echo(s string) string {
	if len(s) <= maxMatchEcho {
		return s
	}
	return s[:maxMatchEcho] + "..."
}
