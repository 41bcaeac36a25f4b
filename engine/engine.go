// Package engine defines the contract every per-language execution engine
// implements, the helpers they share, and the registry that maps language
// identifiers to engine instances.
//
// Engines are independent: adding a language means adding an implementation
// of Engine and registering it, without touching existing engines.
package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrExecutionTimeout is the error text reported when an execution exceeds its bound.
const ErrExecutionTimeout = "execution timeout"

// ErrMemoryLimit is the error text reported when an execution outgrows its memory budget.
const ErrMemoryLimit = "memory limit exceeded"

// Engine validates, runs and compares output for a single language.
type Engine interface {
	// Metadata is pure and constant for the lifetime of the engine.
	Metadata() Metadata
	// Validate returns an *apperr.Error of kind validation naming the violated rule.
	Validate(code string) error
	// Execute runs code under a hard wall-clock bound of opts.Timeout.
	// A timeout is reported through the result, not as an error.
	Execute(ctx context.Context, code string, opts ExecuteOptions) (*Result, error)
	// CompareResult reports whether result matches expected after normalization.
	CompareResult(result *Result, expected string) bool
	// Cleanup releases held resources. It is safe to call at any time.
	Cleanup() error
}

// ExecuteOptions are the per-run knobs passed to Execute.
type ExecuteOptions struct {
	Timeout time.Duration
	Input   string
}

// Result is the normalized outcome of one execution.
type Result struct {
	Success          bool   `json:"success"`
	Output           string `json:"output"`
	Error            string `json:"error,omitempty"`
	ExecutionTimeMs  int64  `json:"executionTimeMs"`
	ExitCode         *int   `json:"exitCode,omitempty"`
	MemoryUsageBytes *int64 `json:"memoryUsageBytes,omitempty"`
}

// TimedOut reports whether the result represents an execution timeout.
func (r *Result) TimedOut() bool {
	return r != nil && !r.Success && r.Error == ErrExecutionTimeout
}

// Metadata describes an engine's runtime and its limits.
type Metadata struct {
	Language            string
	Version             string
	SupportedExtensions mapset.Set[string]
	MaxExecutionTime    time.Duration
	MaxMemoryBytes      int64
}

type metadataJSON struct {
	Language            string   `json:"language"`
	Version             string   `json:"version"`
	SupportedExtensions []string `json:"supportedExtensions"`
	MaxExecutionTimeMs  int64    `json:"maxExecutionTimeMs"`
	MaxMemoryBytes      int64    `json:"maxMemoryBytes"`
}

// MarshalJSON encodes extensions as a sorted list.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var exts []string
	if m.SupportedExtensions != nil {
		exts = m.SupportedExtensions.ToSlice()
	}
	sort.Strings(exts)
	return json.Marshal(metadataJSON{
		Language:            m.Language,
		Version:             m.Version,
		SupportedExtensions: exts,
		MaxExecutionTimeMs:  m.MaxExecutionTime.Milliseconds(),
		MaxMemoryBytes:      m.MaxMemoryBytes,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw metadataJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Language = raw.Language
	m.Version = raw.Version
	m.SupportedExtensions = mapset.NewThreadUnsafeSet(raw.SupportedExtensions...)
	m.MaxExecutionTime = time.Duration(raw.MaxExecutionTimeMs) * time.Millisecond
	m.MaxMemoryBytes = raw.MaxMemoryBytes
	return nil
}

// NewMetadata builds Metadata with an immutable-by-convention extension set.
func NewMetadata(language, version string, maxTime time.Duration, maxMemory int64, extensions ...string) Metadata {
	return Metadata{
		Language:            language,
		Version:             version,
		SupportedExtensions: mapset.NewThreadUnsafeSet(extensions...),
		MaxExecutionTime:    maxTime,
		MaxMemoryBytes:      maxMemory,
	}
}
