// Package config provides application configuration management.
//
// The config package loads an optional .env file, then the application's
// configuration from YAML files, with every key defaulted and overridable
// through CODEARENA_* environment variables. It covers the MCP and REST
// servers, logging, the sandbox backend, the result cache, the question
// store, the SQL engine pool, the job queue and per-language settings.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server transport: %s\n", cfg.Server.Transport)
package config
