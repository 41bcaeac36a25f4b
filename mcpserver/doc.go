// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the execution service and the job queue as
// MCP tools using the mark3labs/mcp-go library: execute_code, validate_code
// and list_languages for synchronous use, and enqueue_code, job_status,
// cancel_job and queue_stats for queued execution. Tool results are JSON
// text; classified failures come back as tool errors carrying the error
// kind and, for validation failures, the violated rule.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, executionService, queueManager)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
