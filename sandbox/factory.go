package sandbox

import (
	"fmt"

	"go.uber.org/zap"
)

// NewExecutor creates an appropriate sandbox executor for backend
func NewExecutor(logger *zap.Logger, config *Config, backend string) (SandboxExecutor, error) {
	switch backend {
	case RuntimeDocker, RuntimePodman:
		return NewContainerExecutor(logger, backend, config), nil
	case "local":
		logger.Warn("local sandbox backend enabled; submitted code runs on the host")
		return NewLocalExecutor(logger, config), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}
