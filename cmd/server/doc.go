// Package main is the entry point for the codearena server.
//
// The server validates and executes user submissions in JavaScript, SQL,
// Python, Go and C++, caches deterministic results and compares output with
// the expected answers of stored questions. It exposes the execution service
// and per-language job queues as Model Context Protocol tools (stdio or HTTP
// transport) and, when server.rest_port is set, as a JSON REST API.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
