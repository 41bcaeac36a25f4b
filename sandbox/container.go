package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Container runtimes
const (
	RuntimeDocker = "docker"
	RuntimePodman = "podman"
)

// ContainerExecutor implements SandboxExecutor using a Docker-compatible CLI
type ContainerExecutor struct {
	runtime   string
	logger    *zap.Logger
	config    *Config
	cmdRunner CommandRunner
	fs        FileSystem
}

// ContainerExecutorOption defines a functional option for ContainerExecutor
type ContainerExecutorOption func(*ContainerExecutor)

// WithCommandRunner sets the CommandRunner for ContainerExecutor
func WithCommandRunner(cmdRunner CommandRunner) ContainerExecutorOption {
	return func(c *ContainerExecutor) {
		c.cmdRunner = cmdRunner
	}
}

// WithFileSystem sets the FileSystem for ContainerExecutor
func WithFileSystem(fs FileSystem) ContainerExecutorOption {
	return func(c *ContainerExecutor) {
		c.fs = fs
	}
}

// NewContainerExecutor creates a new ContainerExecutor for runtime ("docker" or "podman")
func NewContainerExecutor(logger *zap.Logger, runtime string, config *Config, opts ...ContainerExecutorOption) *ContainerExecutor {
	executor := &ContainerExecutor{
		runtime:   runtime,
		logger:    logger,
		config:    config,
		cmdRunner: &RealCommandRunner{MaxOutputBytes: config.MaxOutputBytes},
		fs:        &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs the code in a throwaway container
func (c *ContainerExecutor) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	codeFileName, err := GetCodeFileName(req.Language)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("invalid language: %w", err)
	}
	runCmd, err := GetRunCommand(req.Language)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to get run command: %w", err)
	}

	tempDir, err := c.fs.MkdirTemp("", "codearena-exec-*")
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := c.fs.RemoveAll(tempDir); rmErr != nil {
			c.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	workdirPath := filepath.Join(tempDir, "workdir")
	if mkdirErr := c.fs.MkdirAll(workdirPath, DirPermission); mkdirErr != nil {
		return ExecuteResult{}, fmt.Errorf("failed to create workdir: %w", mkdirErr)
	}
	if writeErr := c.fs.WriteFile(filepath.Join(workdirPath, codeFileName), []byte(req.Code), FilePermission); writeErr != nil {
		return ExecuteResult{}, fmt.Errorf("failed to write user code: %w", writeErr)
	}

	containerName := "codearena-exec-" + uuid.NewString()
	cmdArgs := c.buildArgs(containerName, workdirPath, req)
	cmdArgs = append(cmdArgs, GetImage(c.config.Images, req.Language), "sh", "-c", runCmd)

	timeout := resolveTimeout(req, c.config)
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(ctxWithTimeout, cmdArgs, req.Stdin)
	duration := time.Since(start)

	if ctxWithTimeout.Err() == context.DeadlineExceeded {
		c.removeContainer(containerName)
		return ExecuteResult{
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: -1,
			TimedOut: true,
			Duration: duration,
		}, nil
	}
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to execute container: %w", err)
	}

	return ExecuteResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func (c *ContainerExecutor) buildArgs(containerName, workdirPath string, req ExecuteRequest) []string {
	memoryMB := req.MemoryMB
	if memoryMB <= 0 {
		memoryMB = c.config.MemoryMB
	}
	pidsLimit := c.config.PidsLimit
	if pidsLimit <= 0 {
		pidsLimit = 64
	}

	args := []string{
		c.runtime, "run",
		"--name", containerName,
		"--rm",
		"-v", fmt.Sprintf("%s:/workdir", workdirPath),
		"--workdir", "/workdir",
		"--memory", fmt.Sprintf("%dm", memoryMB),
		"--memory-swap", fmt.Sprintf("%dm", memoryMB),
		"--pids-limit", fmt.Sprintf("%d", pidsLimit),
		"--read-only",
		"--tmpfs", "/tmp:rw,exec,size=256m",
		"--ulimit", "fsize=10000000",
		"--security-opt", "no-new-privileges:true",
		"--user", "nobody",
		"--cap-drop", "ALL",
	}

	if req.Network && c.config.NetworkEnabled {
		args = append(args, "--network", "bridge")
	} else {
		args = append(args, "--network", "none")
	}
	if req.Stdin != "" {
		args = append(args, "-i")
	}
	return args
}

// removeContainer force-removes a container that outlived its deadline.
func (c *ContainerExecutor) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, _, err := c.cmdRunner.RunCommand(ctx, []string{c.runtime, "rm", "-f", name}, ""); err != nil {
		c.logger.Warn("failed to remove container after timeout", zap.String("container", name), zap.Error(err))
	}
}
