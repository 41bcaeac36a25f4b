package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// LocalExecutor implements SandboxExecutor using local execution (for development only)
type LocalExecutor struct {
	logger    *zap.Logger
	config    *Config
	cmdRunner CommandRunner
	fs        FileSystem
}

// LocalExecutorOption defines a functional option for LocalExecutor
type LocalExecutorOption func(*LocalExecutor)

// WithLocalCommandRunner sets the CommandRunner for LocalExecutor
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalExecutorOption {
	return func(l *LocalExecutor) {
		l.cmdRunner = cmdRunner
	}
}

// WithLocalFileSystem sets the FileSystem for LocalExecutor
func WithLocalFileSystem(fs FileSystem) LocalExecutorOption {
	return func(l *LocalExecutor) {
		l.fs = fs
	}
}

// NewLocalExecutor creates a new LocalExecutor. The child process gets a
// minimal environment instead of the server's.
func NewLocalExecutor(logger *zap.Logger, config *Config, opts ...LocalExecutorOption) *LocalExecutor {
	executor := &LocalExecutor{
		logger: logger,
		config: config,
		cmdRunner: &RealCommandRunner{
			Env:            []string{"PATH=/usr/local/go/bin:/usr/local/bin:/usr/bin:/bin", "HOME=/tmp", "LANG=C.UTF-8"},
			MaxOutputBytes: config.MaxOutputBytes,
		},
		fs: &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs the code locally (WARNING: This is not secure and should only be used for development)
func (l *LocalExecutor) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	codeFileName, err := GetCodeFileName(req.Language)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("invalid language: %w", err)
	}
	runCmd, err := GetRunCommand(req.Language)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to get run command: %w", err)
	}

	tempDir, err := l.fs.MkdirTemp("", "codearena-exec-*")
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := l.fs.RemoveAll(tempDir); rmErr != nil {
			l.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	if writeErr := l.fs.WriteFile(filepath.Join(tempDir, codeFileName), []byte(req.Code), FilePermission); writeErr != nil {
		return ExecuteResult{}, fmt.Errorf("failed to write user code: %w", writeErr)
	}

	timeout := resolveTimeout(req, l.config)
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	script := fmt.Sprintf("cd %q && %s", tempDir, runCmd)
	start := time.Now()
	stdout, stderr, exitCode, err := l.cmdRunner.RunCommand(ctxWithTimeout, []string{"sh", "-c", script}, req.Stdin)
	duration := time.Since(start)

	if ctxWithTimeout.Err() == context.DeadlineExceeded {
		return ExecuteResult{
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: -1,
			TimedOut: true,
			Duration: duration,
		}, nil
	}
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to execute command: %w", err)
	}

	return ExecuteResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}
