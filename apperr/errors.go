// Package apperr defines the error taxonomy shared by the execution subsystem.
//
// Every failure surfaced to a caller carries a stable Kind so callers can tell
// "your code was rejected" apart from "the platform failed".
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindTimeout    Kind = "timeout"
	KindUnexpected Kind = "unexpected"
)

// Rule names used by validators.
const (
	RuleEmptyCode           = "empty_code"
	RuleSecurityViolation   = "security_violation"
	RuleUnsupportedLanguage = "unsupported_language"
	RuleDisallowedKeyword   = "disallowed_keyword"
	RuleStatementChaining   = "statement_chaining"
	RuleNotReadOnly         = "read_only_statement"
	RuleSyntax              = "syntax_error"
	RuleForbiddenOperation  = "forbidden_operation"
	RuleLanguageMismatch    = "language_mismatch"
	RuleCodeTooLarge        = "code_too_large"
	RuleMalformedRequest    = "malformed_request"
)

// Error is the structured error carried through the subsystem.
type Error struct {
	Kind    Kind
	Rule    string
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Rule != "" {
		b.WriteString("[" + e.Rule + "]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports input rejected by a deterministic rule.
func Validation(rule, message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Rule: rule, Message: message, Details: details}
}

// Validationf is Validation with a formatted message.
func Validationf(rule, format string, args ...any) *Error {
	return Validation(rule, fmt.Sprintf(format, args...))
}

// NotFound reports a reference to something absent.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Timeout reports an operation that exceeded its bound.
func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// Unexpected wraps a platform fault.
func Unexpected(message string, err error) *Error {
	return &Error{Kind: KindUnexpected, Message: message, Err: err}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the kind of err. Errors outside the taxonomy are unexpected.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindUnexpected
}

// IsKind reports whether err is of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a failed attempt may be retried. Validation,
// not-found and timeout outcomes are deterministic and never retried.
func Retryable(err error) bool {
	return KindOf(err) == KindUnexpected
}
