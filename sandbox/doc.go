// Package sandbox provides process-level isolation for compiled and
// interpreted languages that cannot run in-process.
//
// The package defines the SandboxExecutor interface and provides concrete
// implementations for different backends. ContainerExecutor runs code in a
// throwaway Docker or Podman container with no network, dropped
// capabilities, a read-only root filesystem and memory and process limits.
// LocalExecutor runs code directly on the host and exists for development
// only.
//
// Every executor enforces the request timeout as a hard wall-clock bound: on
// expiry the container is force-removed or the process killed, and the
// result is flagged TimedOut rather than returned as an error.
//
// Usage:
//
//	executor, err := sandbox.NewExecutor(logger, config)
//	result, err := executor.Execute(ctx, sandbox.ExecuteRequest{
//	    Language: "python",
//	    Code:     "print('Hello, World!')",
//	    Timeout:  5 * time.Second,
//	})
package sandbox
