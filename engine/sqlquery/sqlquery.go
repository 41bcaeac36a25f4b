// Package sqlquery executes read-only SQL submissions against a dedicated
// PostgreSQL pool and returns the rows as a JSON array.
package sqlquery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/engine"
)

// Config holds the SQL engine limits.
type Config struct {
	MaxExecutionTime time.Duration
	MaxCodeBytes     int
	MaxRows          int
	Version          string
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxExecutionTime: 5 * time.Second,
		MaxCodeBytes:     16 << 10,
		MaxRows:          1000,
		Version:          "PostgreSQL",
	}
}

// Engine implements engine.Engine for SQL.
type Engine struct {
	logger  *zap.Logger
	config  Config
	querier Querier
	meta    engine.Metadata
}

var _ engine.Engine = (*Engine)(nil)

// New creates a SQL engine over querier.
func New(logger *zap.Logger, cfg Config, querier Querier) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = defaults.MaxExecutionTime
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaults.MaxRows
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	return &Engine{
		logger:  logger,
		config:  cfg,
		querier: querier,
		meta:    engine.NewMetadata("sql", cfg.Version, cfg.MaxExecutionTime, 0, ".sql"),
	}
}

// Metadata implements engine.Engine.
func (e *Engine) Metadata() engine.Metadata {
	return e.meta
}

// Validate implements engine.Engine.
func (e *Engine) Validate(code string) error {
	return validateQuery(code, e.config.MaxCodeBytes)
}

// Execute runs the query under the resolved timeout. The timeout is enforced
// both by context cancellation and by a server-side statement timeout.
func (e *Engine) Execute(ctx context.Context, code string, opts engine.ExecuteOptions) (*engine.Result, error) {
	if err := e.Validate(code); err != nil {
		return nil, err
	}
	timeout := engine.ResolveTimeout(e.meta, opts.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sw := engine.StartStopwatch()
	rows, err := e.querier.QueryRows(ctx, stripTerminator(code), e.config.MaxRows, timeout)
	elapsed := sw.ElapsedMs()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isStatementTimeout(err) {
			return engine.TimeoutResult("", elapsed, timeout), nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, apperr.Unexpected("sql execution cancelled", err)
		}
		return engine.FailureResult("", err.Error(), elapsed), nil
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return nil, apperr.Unexpected("encode query rows", err)
	}
	result := engine.SuccessResult(string(data), elapsed)
	result.ExitCode = engine.IntPtr(0)
	return result, nil
}

// CompareResult compares decoded row arrays structurally.
func (*Engine) CompareResult(result *engine.Result, expected string) bool {
	return engine.CompareStructured(result, expected)
}

// Cleanup closes the dedicated pool.
func (e *Engine) Cleanup() error {
	if e.querier != nil {
		e.querier.Close()
	}
	return nil
}
