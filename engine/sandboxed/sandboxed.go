// Package sandboxed implements engines for languages that must run out of
// process, delegating execution to a sandbox.SandboxExecutor.
package sandboxed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/sandbox"
)

// Config holds the limits of a sandboxed engine.
type Config struct {
	MaxExecutionTime time.Duration
	MemoryMB         int
	MaxCodeBytes     int
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxExecutionTime: 10 * time.Second,
		MemoryMB:         256,
		MaxCodeBytes:     64 << 10,
	}
}

// Engine implements engine.Engine on top of a sandbox executor.
type Engine struct {
	logger   *zap.Logger
	policy   Policy
	config   Config
	executor sandbox.SandboxExecutor
	meta     engine.Metadata
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine for policy's language.
func New(logger *zap.Logger, policy Policy, cfg Config, executor sandbox.SandboxExecutor) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = defaults.MaxExecutionTime
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaults.MemoryMB
	}
	return &Engine{
		logger:   logger.With(zap.String("language", policy.Language)),
		policy:   policy,
		config:   cfg,
		executor: executor,
		meta: engine.NewMetadata(policy.Language, policy.Version, cfg.MaxExecutionTime,
			int64(cfg.MemoryMB)<<20, policy.Extensions...),
	}
}

// Metadata implements engine.Engine.
func (e *Engine) Metadata() engine.Metadata {
	return e.meta
}

// Validate implements engine.Engine.
func (e *Engine) Validate(code string) error {
	if err := engine.CheckSize(code, e.config.MaxCodeBytes); err != nil {
		return err
	}
	var details []string
	for _, f := range e.policy.forbidden {
		if match := f.pattern.FindString(code); match != "" {
			details = append(details, fmt.Sprintf("%s (found %q)", f.what, strings.TrimSpace(match)))
		}
	}
	if len(details) > 0 {
		return apperr.Validation(apperr.RuleForbiddenOperation,
			fmt.Sprintf("%s code uses forbidden operations", e.policy.Language), details...)
	}
	for _, r := range e.policy.required {
		if !r.pattern.MatchString(code) {
			return apperr.Validation(apperr.RuleSyntax, r.message)
		}
	}
	return nil
}

// Execute implements engine.Engine.
func (e *Engine) Execute(ctx context.Context, code string, opts engine.ExecuteOptions) (*engine.Result, error) {
	if err := e.Validate(code); err != nil {
		return nil, err
	}
	timeout := engine.ResolveTimeout(e.meta, opts.Timeout)

	res, err := e.executor.Execute(ctx, sandbox.ExecuteRequest{
		Language: e.policy.Language,
		Code:     code,
		Stdin:    opts.Input,
		Timeout:  timeout,
		MemoryMB: e.config.MemoryMB,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, apperr.Unexpected("sandbox execution cancelled", err)
		}
		e.logger.Error("sandbox execution failed", zap.Error(err))
		return nil, apperr.Unexpected("sandbox execution failed", err)
	}

	elapsed := res.Duration.Milliseconds()
	if res.TimedOut {
		return engine.TimeoutResult(res.Stdout, elapsed, timeout), nil
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		result := engine.FailureResult(res.Stdout, msg, elapsed)
		result.ExitCode = engine.IntPtr(res.ExitCode)
		return result, nil
	}

	result := engine.SuccessResult(res.Stdout, elapsed)
	result.ExitCode = engine.IntPtr(0)
	return result, nil
}

// CompareResult implements engine.Engine.
func (*Engine) CompareResult(result *engine.Result, expected string) bool {
	return engine.CompareText(result, expected)
}

// Cleanup implements engine.Engine. Sandboxes are per execution.
func (*Engine) Cleanup() error {
	return nil
}
