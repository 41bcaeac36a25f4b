package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/isdmx/codearena/apperr"
)

// NormalizeOutput unifies line endings, strips trailing whitespace from every
// line and trims the whole text. Two results compare equal iff their
// normalized outputs are byte-equal.
func NormalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\v\f")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// CompareOutputs compares two outputs after normalization.
func CompareOutputs(actual, expected string) bool {
	return NormalizeOutput(actual) == NormalizeOutput(expected)
}

// CompareText is the CompareResult behaviour shared by text-output engines.
func CompareText(result *Result, expected string) bool {
	if result == nil || !result.Success {
		return false
	}
	return CompareOutputs(result.Output, expected)
}

// CompareStructured decodes both sides as JSON and compares them with deep,
// order-sensitive equality. If either side fails to decode it falls back to
// normalized string comparison.
func CompareStructured(result *Result, expected string) bool {
	if result == nil || !result.Success {
		return false
	}
	actual := NormalizeOutput(result.Output)
	want := NormalizeOutput(expected)

	var a, e any
	if json.Unmarshal([]byte(actual), &a) != nil || json.Unmarshal([]byte(want), &e) != nil {
		return actual == want
	}
	return reflect.DeepEqual(a, e)
}

// Stopwatch measures wall-clock execution time.
type Stopwatch struct {
	start time.Time
}

// StartStopwatch starts measuring now.
func StartStopwatch() Stopwatch {
	return Stopwatch{start: time.Now()}
}

// ElapsedMs returns the milliseconds since the stopwatch started.
func (s Stopwatch) ElapsedMs() int64 {
	return time.Since(s.start).Milliseconds()
}

// SuccessResult builds a successful result with normalized output.
func SuccessResult(output string, elapsedMs int64) *Result {
	return &Result{Success: true, Output: NormalizeOutput(output), ExecutionTimeMs: elapsedMs}
}

// FailureResult builds an unsuccessful result with normalized partial output.
func FailureResult(output, errMsg string, elapsedMs int64) *Result {
	return &Result{Success: false, Output: NormalizeOutput(output), Error: errMsg, ExecutionTimeMs: elapsedMs}
}

// TimeoutResult builds the result reported when the wall-clock bound is hit.
// The elapsed time is clamped to the bound so callers never see the runaway
// code's true runtime.
func TimeoutResult(output string, elapsedMs int64, timeout time.Duration) *Result {
	if limit := timeout.Milliseconds(); limit > 0 && elapsedMs > limit {
		elapsedMs = limit
	}
	return FailureResult(output, ErrExecutionTimeout, elapsedMs)
}

// ResolveTimeout returns the metadata maximum, lowered to requested when the
// caller asks for a positive bound below it.
func ResolveTimeout(meta Metadata, requested time.Duration) time.Duration {
	if requested > 0 && requested < meta.MaxExecutionTime {
		return requested
	}
	return meta.MaxExecutionTime
}

// IntPtr is a small helper for optional result fields.
func IntPtr(v int) *int { return &v }

// Int64Ptr is a small helper for optional result fields.
func Int64Ptr(v int64) *int64 { return &v }

// CheckSize rejects empty or oversized source text. maxBytes <= 0 disables
// the size check.
func CheckSize(code string, maxBytes int) error {
	if strings.TrimSpace(code) == "" {
		return apperr.Validation(apperr.RuleEmptyCode, "code must not be empty")
	}
	if maxBytes > 0 && len(code) > maxBytes {
		return apperr.Validationf(apperr.RuleCodeTooLarge, "code is %d bytes, limit is %d", len(code), maxBytes)
	}
	return nil
}
