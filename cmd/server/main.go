package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/config"
	"github.com/isdmx/codearena/engine/builtin"
	"github.com/isdmx/codearena/execution"
	"github.com/isdmx/codearena/logger"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,

			// Infrastructure
			newCache,
			newSandboxExecutor,
			newSQLQuerier,
			newQuestionRepository,
			newEventBus,

			// Domain
			builtin.NewRegistry,
			execution.NewService,
			newQueueManager,

			// Transports
			newMCPServer,
		),

		fx.Invoke(
			registerRegistryCleanup,
			startMCP,
			startREST,
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}
