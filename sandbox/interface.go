package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ExecuteRequest represents the parameters for code execution
type ExecuteRequest struct {
	Language string
	Code     string
	Stdin    string
	Timeout  time.Duration
	MemoryMB int
	Network  bool
}

// ExecuteResult represents the result of code execution
type ExecuteResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// SandboxExecutor defines the interface for sandbox execution
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// Config holds configuration shared by the executors
type Config struct {
	DefaultTimeout time.Duration
	MemoryMB       int
	NetworkEnabled bool
	PidsLimit      int
	MaxOutputBytes int
	Images         map[string]string
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string, stdin string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct {
	// Env replaces the inherited environment when non-nil.
	Env []string
	// MaxOutputBytes caps each of stdout and stderr; 0 means unlimited.
	MaxOutputBytes int
}

// RunCommand executes the given command with arguments
func (r RealCommandRunner) RunCommand(ctx context.Context, args []string, stdin string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input
	cmd.WaitDelay = time.Second
	if r.Env != nil {
		cmd.Env = r.Env
	}
	if stdin != "" {
		cmd.Stdin = bytes.NewBufferString(stdin)
	}

	stdoutBuf := &limitedBuffer{limit: r.MaxOutputBytes}
	stderrBuf := &limitedBuffer{limit: r.MaxOutputBytes}
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	err = cmd.Run()

	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return stdoutBuf.String(), stderrBuf.String(), 0, err
		}
		exitCode = exitError.ExitCode()
	}
	if ctx.Err() != nil {
		return stdoutBuf.String(), stderrBuf.String(), exitCode, ctx.Err()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// limitedBuffer discards writes past its limit while reporting them as
// written, so a chatty process cannot exhaust host memory.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit > 0 {
		remaining := b.limit - b.buf.Len()
		if remaining <= 0 {
			return len(p), nil
		}
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
			return len(p), nil
		}
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// LanguageName constants
const (
	LanguagePython = "python"
	LanguageGo     = "go"
	LanguageCPP    = "cpp"
)

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0644
)

// Filename constants
const (
	FilenamePython = "main.py"
	FilenameGo     = "main.go"
	FilenameCPP    = "main.cpp"
)

// Default images per language
const (
	ImagePython = "python:3.12-alpine"
	ImageGo     = "golang:1.25-alpine"
	ImageCPP    = "gcc:14"
)

// GetCodeFileName returns the appropriate filename based on the language
func GetCodeFileName(language string) (string, error) {
	switch language {
	case LanguagePython:
		return FilenamePython, nil
	case LanguageGo:
		return FilenameGo, nil
	case LanguageCPP:
		return FilenameCPP, nil
	default:
		return "", fmt.Errorf("unsupported language: %s", language)
	}
}

// GetRunCommand returns the appropriate run command based on the language
func GetRunCommand(language string) (string, error) {
	switch language {
	case LanguagePython:
		return fmt.Sprintf("python3 -I -S %s", FilenamePython), nil
	case LanguageGo:
		return fmt.Sprintf("GOCACHE=/tmp/gocache GOFLAGS=-mod=mod go build -o /tmp/app %s && /tmp/app", FilenameGo), nil
	case LanguageCPP:
		return fmt.Sprintf("g++ -std=c++17 -O2 -o /tmp/app %s && /tmp/app", FilenameCPP), nil
	default:
		return "", fmt.Errorf("unsupported language: %s", language)
	}
}

// GetImage returns the configured image for language, or the default.
func GetImage(images map[string]string, language string) string {
	if image, ok := images[language]; ok && image != "" {
		return image
	}
	switch language {
	case LanguagePython:
		return ImagePython
	case LanguageGo:
		return ImageGo
	case LanguageCPP:
		return ImageCPP
	default:
		return "alpine:latest"
	}
}

// resolveTimeout returns the request timeout, falling back to the default.
func resolveTimeout(req ExecuteRequest, cfg *Config) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if cfg.DefaultTimeout > 0 {
		return cfg.DefaultTimeout
	}
	return 10 * time.Second
}
