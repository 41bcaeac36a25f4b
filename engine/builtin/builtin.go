// Package builtin assembles the engine registry from configuration.
package builtin

import (
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codearena/config"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/engine/javascript"
	"github.com/isdmx/codearena/engine/sandboxed"
	"github.com/isdmx/codearena/engine/sqlquery"
	"github.com/isdmx/codearena/sandbox"
)

// NewRegistry registers an engine for every enabled language. The sql engine
// needs querier and the sandboxed languages need executor; a language whose
// dependency is nil is skipped with a warning.
func NewRegistry(cfg *config.Config, logger *zap.Logger, executor sandbox.SandboxExecutor, querier sqlquery.Querier) *engine.Registry {
	registry := engine.NewRegistry()

	if lang, ok := enabled(cfg, "javascript"); ok {
		jsCfg := javascript.DefaultConfig()
		jsCfg.MaxExecutionTime = timeoutOr(lang, jsCfg.MaxExecutionTime)
		jsCfg.MaxCodeBytes = lang.MaxCodeBytes
		if lang.MemoryMB > 0 {
			jsCfg.MaxMemoryBytes = int64(lang.MemoryMB) << 20
		}
		registry.Register("javascript", javascript.New(logger.Named("javascript"), jsCfg))
	}

	if lang, ok := enabled(cfg, "sql"); ok {
		if querier == nil {
			logger.Warn("sql engine disabled: no sql_engine.url configured")
		} else {
			sqlCfg := sqlquery.DefaultConfig()
			sqlCfg.MaxExecutionTime = timeoutOr(lang, sqlCfg.MaxExecutionTime)
			sqlCfg.MaxCodeBytes = lang.MaxCodeBytes
			if cfg.SQLEngine.MaxRows > 0 {
				sqlCfg.MaxRows = cfg.SQLEngine.MaxRows
			}
			registry.Register("sql", sqlquery.New(logger.Named("sql"), sqlCfg, querier))
		}
	}

	policies := []sandboxed.Policy{sandboxed.PythonPolicy(), sandboxed.GoPolicy(), sandboxed.CPPPolicy()}
	for _, policy := range policies {
		lang, ok := enabled(cfg, policy.Language)
		if !ok {
			continue
		}
		if executor == nil {
			logger.Warn("sandboxed engine disabled: no sandbox executor", zap.String("language", policy.Language))
			continue
		}
		sbCfg := sandboxed.DefaultConfig()
		sbCfg.MaxExecutionTime = timeoutOr(lang, sbCfg.MaxExecutionTime)
		sbCfg.MaxCodeBytes = lang.MaxCodeBytes
		if lang.MemoryMB > 0 {
			sbCfg.MemoryMB = lang.MemoryMB
		}
		registry.Register(policy.Language, sandboxed.New(logger.Named(policy.Language), policy, sbCfg, executor))
	}

	logger.Info("engine registry ready", zap.Strings("languages", registry.SortedLanguages()))
	return registry
}

func enabled(cfg *config.Config, name string) (config.Language, bool) {
	lang, ok := cfg.Languages[name]
	return lang, ok && lang.Enabled
}

func timeoutOr(lang config.Language, fallback time.Duration) time.Duration {
	if d := lang.Timeout(); d > 0 {
		return d
	}
	return fallback
}
