// Package javascript runs JavaScript submissions inside an embedded goja
// interpreter.
//
// Every execution gets a fresh runtime whose global scope is reduced to an
// explicit allow-list of ECMAScript builtins plus console, input and
// readLine. eval, Reflect, Proxy and the binary buffer types are removed.
// Function and the constructors reachable through function prototypes are
// replaced by a stub that throws, so strings never become code.
//
// goja checks for interrupts between instructions only, so native work that
// could run unbounded is fenced before it starts: patterns that need the
// backtracking regexp engine are rejected, and string and array builders
// refuse results above configured lengths. A deadline or memory overrun
// interrupts the run; a run that ignores the interrupt is abandoned after a
// short grace.
package javascript

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/engine"
)

// Config holds the limits of the JavaScript engine.
type Config struct {
	MaxExecutionTime time.Duration
	// MaxMemoryBytes bounds heap growth during a run. Zero disables the check.
	MaxMemoryBytes   int64
	MaxCodeBytes     int
	MaxOutputBytes   int
	MaxCallStackSize int
	// MaxStringLength caps strings built by repeat, padStart, padEnd and join.
	MaxStringLength  int64
	// MaxArrayLength caps arrays handed to join, fill and Array.from.
	MaxArrayLength   int64
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxExecutionTime: 5 * time.Second,
		MaxMemoryBytes:   128 << 20,
		MaxCodeBytes:     64 << 10,
		MaxOutputBytes:   64 << 10,
		MaxCallStackSize: 1024,
		MaxStringLength:  1 << 22,
		MaxArrayLength:   1 << 22,
	}
}

const (
	// interruptGrace is how long a run gets to honour an interrupt.
	interruptGrace = 100 * time.Millisecond
	// memoryCheckInterval is the heap sampling period.
	memoryCheckInterval = 10 * time.Millisecond
)

// Engine implements engine.Engine for JavaScript.
type Engine struct {
	logger *zap.Logger
	config Config
	meta   engine.Metadata

	// prepare runs on each fresh runtime after the sandbox is installed.
	prepare func(*goja.Runtime)
}

var _ engine.Engine = (*Engine)(nil)

// New creates a JavaScript engine.
func New(logger *zap.Logger, cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = defaults.MaxExecutionTime
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaults.MaxOutputBytes
	}
	if cfg.MaxCallStackSize <= 0 {
		cfg.MaxCallStackSize = defaults.MaxCallStackSize
	}
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = defaults.MaxStringLength
	}
	if cfg.MaxArrayLength <= 0 {
		cfg.MaxArrayLength = defaults.MaxArrayLength
	}
	return &Engine{
		logger: logger,
		config: cfg,
		meta: engine.NewMetadata("javascript", "ECMAScript 5.1+ (goja)",
			cfg.MaxExecutionTime, cfg.MaxMemoryBytes, ".js", ".mjs", ".cjs"),
	}
}

// Metadata implements engine.Engine.
func (e *Engine) Metadata() engine.Metadata {
	return e.meta
}

// backtrackingSyntax matches regular expression syntax that goja hands to its
// backtracking engine: lookaround, named groups, backreferences and \S inside
// a class.
var backtrackingSyntax = regexp.MustCompile(`\(\?<|\(\?[=!]|\\[1-9]|\\k<|\[[^\]\n]*\\S`)

// Validate checks size, syntax and regular expression syntax. Forbidden
// constructs are the security validator's job.
func (e *Engine) Validate(code string) error {
	if err := engine.CheckSize(code, e.config.MaxCodeBytes); err != nil {
		return err
	}
	if _, err := goja.Parse("submission.js", code, parser.WithDisableSourceMaps); err != nil {
		return apperr.Validation(apperr.RuleSyntax, err.Error())
	}
	if m := backtrackingSyntax.FindString(code); m != "" {
		return apperr.Validation(apperr.RuleForbiddenOperation,
			"regular expressions with lookaround, named groups or backreferences are not supported", m)
	}
	return nil
}

type runOutcome struct {
	err   error
	panic any
}

// Execute runs code in a fresh sandboxed runtime.
func (e *Engine) Execute(ctx context.Context, code string, opts engine.ExecuteOptions) (*engine.Result, error) {
	timeout := engine.ResolveTimeout(e.meta, opts.Timeout)
	out := newOutputBuffer(e.config.MaxOutputBytes)
	vm := goja.New()
	vm.SetMaxCallStackSize(e.config.MaxCallStackSize)
	g := newGlobals(out, opts.Input, limits{
		maxString: e.config.MaxStringLength,
		maxArray:  e.config.MaxArrayLength,
	})
	if err := g.install(vm); err != nil {
		return nil, apperr.Unexpected("prepare javascript sandbox", err)
	}
	if e.prepare != nil {
		e.prepare(vm)
	}

	var memCheck <-chan time.Time
	var heap *heapWatch
	if e.config.MaxMemoryBytes > 0 {
		heap = newHeapWatch(e.config.MaxMemoryBytes)
		ticker := time.NewTicker(memoryCheckInterval)
		defer ticker.Stop()
		memCheck = ticker.C
	}

	sw := engine.StartStopwatch()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan runOutcome, 1)
	go func() {
		var outcome runOutcome
		defer func() {
			if p := recover(); p != nil {
				outcome.panic = p
			}
			done <- outcome
		}()
		_, outcome.err = vm.RunString(code)
	}()

	var outcome runOutcome
wait:
	for {
		select {
		case outcome = <-done:
			break wait
		case <-memCheck:
			if heap.exceeded() {
				return e.abandon(vm, done, out, sw, engine.ErrMemoryLimit), nil
			}
		case <-ctx.Done():
			return e.abandon(vm, done, out, sw, engine.ErrExecutionTimeout), nil
		}
	}
	elapsed := sw.ElapsedMs()

	if outcome.panic != nil {
		e.logger.Error("javascript runtime panicked", zap.Any("panic", outcome.panic))
		return engine.FailureResult(out.String(), fmt.Sprintf("runtime error: %v", outcome.panic), elapsed), nil
	}
	if outcome.err != nil {
		return engine.FailureResult(out.String(), describe(outcome.err), elapsed), nil
	}

	result := engine.SuccessResult(out.String(), elapsed)
	result.ExitCode = engine.IntPtr(0)
	return result, nil
}

// abandon interrupts the run and waits a short grace for it to stop. A run
// still inside a native call is left behind. The reported time is the real
// time spent.
func (e *Engine) abandon(vm *goja.Runtime, done <-chan runOutcome, out *outputBuffer, sw engine.Stopwatch, reason string) *engine.Result {
	vm.Interrupt(errors.New(reason))
	grace := time.NewTimer(interruptGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		e.logger.Warn("javascript run ignored interrupt, abandoning it",
			zap.String("reason", reason), zap.Int64("elapsed_ms", sw.ElapsedMs()))
	}
	return engine.FailureResult(out.String(), reason, sw.ElapsedMs())
}

func describe(err error) string {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return exc.Value().String()
	}
	var stack *goja.StackOverflowError
	if errors.As(err, &stack) {
		return "maximum call stack size exceeded"
	}
	return err.Error()
}

// CompareResult implements engine.Engine.
func (*Engine) CompareResult(result *engine.Result, expected string) bool {
	return engine.CompareText(result, expected)
}

// Cleanup implements engine.Engine. Runtimes are per execution, so nothing is held.
func (*Engine) Cleanup() error {
	return nil
}
