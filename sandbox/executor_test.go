package sandbox

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type commandCall struct {
	args  []string
	stdin string
}

type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu            sync.Mutex
	calls         []commandCall
	defaultResult commandResult
	// blockUntilDone makes RunCommand wait for ctx cancellation.
	blockUntilDone bool
}

func (m *MockCommandRunner) RunCommand(ctx context.Context, args []string, stdin string) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, commandCall{args: args, stdin: stdin})
	first := len(m.calls) == 1
	m.mu.Unlock()

	if m.blockUntilDone && first {
		<-ctx.Done()
		return "partial", "", -1, ctx.Err()
	}
	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) Calls() []commandCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]commandCall(nil), m.calls...)
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	mkdirTempErr  error
	writeFileErr  error
	writeFileData map[string][]byte
	removed       []string
}

func (m *MockFileSystem) MkdirTemp(_, _ string) (string, error) {
	if m.mkdirTempErr != nil {
		return "", m.mkdirTempErr
	}
	return "/tmp/test", nil
}

func (m *MockFileSystem) MkdirAll(_ string, _ os.FileMode) error {
	return nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	if m.writeFileErr != nil {
		return m.writeFileErr
	}
	if m.writeFileData == nil {
		m.writeFileData = make(map[string][]byte)
	}
	m.writeFileData[filename] = data
	return nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.removed = append(m.removed, path)
	return nil
}

func testConfig() *Config {
	return &Config{
		DefaultTimeout: 5 * time.Second,
		MemoryMB:       128,
		PidsLimit:      32,
	}
}

func TestContainerExecutorConstructors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("defaults", func(t *testing.T) {
		executor := NewContainerExecutor(logger, RuntimeDocker, testConfig())
		require.NotNil(t, executor)
		assert.Equal(t, RuntimeDocker, executor.runtime)
		assert.IsType(t, &RealCommandRunner{}, executor.cmdRunner)
		assert.IsType(t, &RealFileSystem{}, executor.fs)
	})

	t.Run("with options", func(t *testing.T) {
		runner := &MockCommandRunner{}
		fs := &MockFileSystem{}
		executor := NewContainerExecutor(logger, RuntimePodman, testConfig(), WithCommandRunner(runner), WithFileSystem(fs))
		assert.Equal(t, runner, executor.cmdRunner)
		assert.Equal(t, fs, executor.fs)
		assert.Equal(t, RuntimePodman, executor.runtime)
	})
}

func TestContainerExecutorExecute(t *testing.T) {
	runner := &MockCommandRunner{defaultResult: commandResult{stdout: "hello\n", exitCode: 0}}
	fs := &MockFileSystem{}
	executor := NewContainerExecutor(zaptest.NewLogger(t), RuntimeDocker, testConfig(), WithCommandRunner(runner), WithFileSystem(fs))

	result, err := executor.Execute(context.Background(), ExecuteRequest{
		Language: LanguagePython,
		Code:     "print('hello')",
		Stdin:    "1 2",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.TimedOut)

	assert.Equal(t, []byte("print('hello')"), fs.writeFileData["/tmp/test/workdir/main.py"])
	assert.Contains(t, fs.removed, "/tmp/test")

	calls := runner.Calls()
	require.Len(t, calls, 1)
	args := strings.Join(calls[0].args, " ")
	assert.True(t, strings.HasPrefix(args, "docker run --name codearena-exec-"))
	for _, want := range []string{
		"--rm", "--network none", "--memory 128m", "--pids-limit 32", "--read-only",
		"--cap-drop ALL", "--user nobody", "--security-opt no-new-privileges:true", "-i",
		ImagePython + " sh -c python3 -I -S main.py",
	} {
		assert.Contains(t, args, want)
	}
	assert.Equal(t, "1 2", calls[0].stdin)
}

func TestContainerExecutorNetworkRequiresConfig(t *testing.T) {
	runner := &MockCommandRunner{}
	executor := NewContainerExecutor(zaptest.NewLogger(t), RuntimeDocker, testConfig(), WithCommandRunner(runner), WithFileSystem(&MockFileSystem{}))

	_, err := executor.Execute(context.Background(), ExecuteRequest{Language: LanguageGo, Code: "package main", Network: true})
	require.NoError(t, err)
	assert.Contains(t, strings.Join(runner.Calls()[0].args, " "), "--network none")
}

func TestContainerExecutorTimeout(t *testing.T) {
	runner := &MockCommandRunner{blockUntilDone: true}
	executor := NewContainerExecutor(zaptest.NewLogger(t), RuntimePodman, testConfig(), WithCommandRunner(runner), WithFileSystem(&MockFileSystem{}))

	result, err := executor.Execute(context.Background(), ExecuteRequest{
		Language: LanguageCPP,
		Code:     "int main(){for(;;);}",
		Timeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
	assert.Equal(t, "partial", result.Stdout)

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"podman", "rm", "-f"}, calls[1].args[:3])
	assert.Equal(t, calls[0].args[3], calls[1].args[3])
}

func TestContainerExecutorErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("unsupported language", func(t *testing.T) {
		executor := NewContainerExecutor(logger, RuntimeDocker, testConfig(), WithCommandRunner(&MockCommandRunner{}), WithFileSystem(&MockFileSystem{}))
		_, err := executor.Execute(context.Background(), ExecuteRequest{Language: "ruby", Code: "puts 1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid language")
	})

	t.Run("temp dir failure", func(t *testing.T) {
		fs := &MockFileSystem{mkdirTempErr: errors.New("disk full")}
		executor := NewContainerExecutor(logger, RuntimeDocker, testConfig(), WithCommandRunner(&MockCommandRunner{}), WithFileSystem(fs))
		_, err := executor.Execute(context.Background(), ExecuteRequest{Language: LanguagePython, Code: "print(1)"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("runtime failure", func(t *testing.T) {
		runner := &MockCommandRunner{defaultResult: commandResult{err: errors.New("docker: not found")}}
		executor := NewContainerExecutor(logger, RuntimeDocker, testConfig(), WithCommandRunner(runner), WithFileSystem(&MockFileSystem{}))
		_, err := executor.Execute(context.Background(), ExecuteRequest{Language: LanguagePython, Code: "print(1)"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to execute container")
	})
}

func TestLocalExecutor(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("defaults use minimal environment", func(t *testing.T) {
		executor := NewLocalExecutor(logger, testConfig())
		runner, ok := executor.cmdRunner.(*RealCommandRunner)
		require.True(t, ok)
		for _, kv := range runner.Env {
			assert.False(t, strings.HasPrefix(kv, "DATABASE_URL="))
		}
		assert.Contains(t, runner.Env, "HOME=/tmp")
	})

	t.Run("runs in temp dir", func(t *testing.T) {
		runner := &MockCommandRunner{defaultResult: commandResult{stdout: "ok", exitCode: 3}}
		fs := &MockFileSystem{}
		executor := NewLocalExecutor(logger, testConfig(), WithLocalCommandRunner(runner), WithLocalFileSystem(fs))

		result, err := executor.Execute(context.Background(), ExecuteRequest{Language: LanguagePython, Code: "print(1)"})
		require.NoError(t, err)
		assert.Equal(t, 3, result.ExitCode)
		assert.Equal(t, "ok", result.Stdout)
		assert.Equal(t, []byte("print(1)"), fs.writeFileData["/tmp/test/main.py"])

		calls := runner.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, []string{"sh", "-c"}, calls[0].args[:2])
		assert.Contains(t, calls[0].args[2], `cd "/tmp/test"`)
	})

	t.Run("timeout", func(t *testing.T) {
		runner := &MockCommandRunner{blockUntilDone: true}
		executor := NewLocalExecutor(logger, testConfig(), WithLocalCommandRunner(runner), WithLocalFileSystem(&MockFileSystem{}))
		result, err := executor.Execute(context.Background(), ExecuteRequest{Language: LanguageGo, Code: "package main", Timeout: 10 * time.Millisecond})
		require.NoError(t, err)
		assert.True(t, result.TimedOut)
	})
}

func TestNewExecutor(t *testing.T) {
	logger := zaptest.NewLogger(t)

	for _, backend := range []string{RuntimeDocker, RuntimePodman, "local"} {
		executor, err := NewExecutor(logger, testConfig(), backend)
		require.NoError(t, err, backend)
		assert.NotNil(t, executor)
	}

	_, err := NewExecutor(logger, testConfig(), "firecracker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backend")
}

func TestRealCommandRunner(t *testing.T) {
	runner := RealCommandRunner{MaxOutputBytes: 4}

	_, _, _, err := runner.RunCommand(context.Background(), nil, "")
	require.Error(t, err)

	stdout, _, exitCode, err := runner.RunCommand(context.Background(), []string{"sh", "-c", "echo 123456789; exit 2"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, exitCode)
	assert.Equal(t, "1234", stdout)
}
