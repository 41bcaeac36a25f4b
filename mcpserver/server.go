package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/config"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/execution"
	"github.com/isdmx/codearena/logger"
	"github.com/isdmx/codearena/queue"
)

// Executions is the execution service surface exposed as tools.
type Executions interface {
	ExecuteCode(ctx context.Context, req execution.Request, callerID string) (*execution.Response, error)
	ValidateCode(code, language string) (bool, error)
	SupportedLanguages() []string
	EngineMetadata(ctx context.Context, language string) (engine.Metadata, error)
}

// Jobs is the queue surface exposed as tools.
type Jobs interface {
	Enqueue(req execution.Request, callerID string, priority int) (string, error)
	JobStatus(id, language string) (queue.Status, error)
	Cancel(id, language string) bool
	Stats(language string) (queue.Stats, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	execs     Executions
	jobs      Jobs
	mcpServer *server.MCPServer
}

// New creates a new MCPServer. jobs may be nil, in which case the queue
// tools are not registered.
func New(cfg *config.Config, logger *zap.Logger, execs Executions, jobs Jobs) (*MCPServer, error) {
	if execs == nil {
		return nil, fmt.Errorf("mcpserver: execution service is required")
	}
	s := &MCPServer{
		config: cfg,
		logger: logger,
		execs:  execs,
		jobs:   jobs,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("server.rest_port", cfg.Server.RESTPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.String("cache.backend", cfg.Cache.Backend),
		zap.Strings("languages.enabled", cfg.EnabledLanguages()),
	)

	s.mcpServer = server.NewMCPServer("codearena", "Validated, cached code execution")

	s.registerExecutionTools()
	if jobs != nil {
		s.registerQueueTools()
	}

	return s, nil
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func (s *MCPServer) registerExecutionTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "execute_code",
		Description: "Validate and run code, optionally comparing the output with a question's expected answer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code":        stringProp("Source code to run"),
				"language":    stringProp("Language identifier; detected from the code when omitted"),
				"question_id": stringProp("Question whose expected answer the output is compared with"),
				"input":       stringProp("Text passed to the program on stdin"),
				"timeout_ms":  intProp("Requested wall-clock bound, capped by the engine maximum"),
				"caller_id":   stringProp("Identity whose progress cache is invalidated"),
			},
			Required: []string{"code"},
		},
	}, s.handleExecuteCode)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "validate_code",
		Description: "Resolve the language and run engine validation without executing",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code":     stringProp("Source code to check"),
				"language": stringProp("Language identifier"),
			},
			Required: []string{"code", "language"},
		},
	}, s.handleValidateCode)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_languages",
		Description: "List supported languages, or describe one engine when language is given",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": stringProp("Language whose engine metadata is returned"),
			},
		},
	}, s.handleListLanguages)
}

func (s *MCPServer) registerQueueTools() {
	jobProps := map[string]any{
		"job_id":   stringProp("Job identifier returned by enqueue_code"),
		"language": stringProp("Language queue the job was placed on"),
	}

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "enqueue_code",
		Description: "Queue code for asynchronous execution and return the job id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code":        stringProp("Source code to run"),
				"language":    stringProp("Language identifier; detected from the code when omitted"),
				"question_id": stringProp("Question whose expected answer the output is compared with"),
				"input":       stringProp("Text passed to the program on stdin"),
				"timeout_ms":  intProp("Requested wall-clock bound"),
				"priority":    intProp("Lower values are served first"),
				"caller_id":   stringProp("Identity of the submitter"),
			},
			Required: []string{"code"},
		},
	}, s.handleEnqueueCode)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "job_status",
		Description: "Report the state and result of a queued job",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: jobProps,
			Required:   []string{"job_id", "language"},
		},
	}, s.handleJobStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "cancel_job",
		Description: "Remove a job that has not started yet",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: jobProps,
			Required:   []string{"job_id", "language"},
		},
	}, s.handleCancelJob)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "queue_stats",
		Description: "Count jobs per state in a language queue",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": stringProp("Language queue to inspect"),
			},
			Required: []string{"language"},
		},
	}, s.handleQueueStats)
}

func executionRequest(request mcp.CallToolRequest) (execution.Request, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return execution.Request{}, fmt.Errorf("code parameter is required: %w", err)
	}
	return execution.Request{
		Code:       code,
		Language:   request.GetString("language", ""),
		QuestionID: request.GetString("question_id", ""),
		Input:      request.GetString("input", ""),
		TimeoutMs:  request.GetInt("timeout_ms", 0),
	}, nil
}

func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := executionRequest(request)
	if err != nil {
		return nil, err
	}
	s.logger.Info("code execution requested",
		append(logger.Code(req.Code),
			zap.String("language", req.Language),
			zap.String("question_id", req.QuestionID))...)

	resp, err := s.execs.ExecuteCode(ctx, req, request.GetString("caller_id", ""))
	if err != nil {
		return s.errorResult("execute_code", err), nil
	}
	return jsonResult(resp)
}

func (s *MCPServer) handleValidateCode(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}
	if _, err := s.execs.ValidateCode(code, language); err != nil {
		return s.errorResult("validate_code", err), nil
	}
	return jsonResult(map[string]bool{"valid": true})
}

func (s *MCPServer) handleListLanguages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language := request.GetString("language", "")
	if language == "" {
		return jsonResult(map[string][]string{"languages": s.execs.SupportedLanguages()})
	}
	meta, err := s.execs.EngineMetadata(ctx, language)
	if err != nil {
		return s.errorResult("list_languages", err), nil
	}
	return jsonResult(meta)
}

func (s *MCPServer) handleEnqueueCode(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := executionRequest(request)
	if err != nil {
		return nil, err
	}
	id, err := s.jobs.Enqueue(req, request.GetString("caller_id", ""), request.GetInt("priority", 0))
	if err != nil {
		return s.errorResult("enqueue_code", err), nil
	}
	s.logger.Info("job enqueued", append(logger.Code(req.Code), zap.String("job_id", id))...)
	return jsonResult(map[string]string{"jobId": id})
}

func jobRef(request mcp.CallToolRequest) (id, language string, err error) {
	if id, err = request.RequireString("job_id"); err != nil {
		return "", "", fmt.Errorf("job_id parameter is required: %w", err)
	}
	if language, err = request.RequireString("language"); err != nil {
		return "", "", fmt.Errorf("language parameter is required: %w", err)
	}
	return id, language, nil
}

func (s *MCPServer) handleJobStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, language, err := jobRef(request)
	if err != nil {
		return nil, err
	}
	status, err := s.jobs.JobStatus(id, language)
	if err != nil {
		return s.errorResult("job_status", err), nil
	}
	return jsonResult(status)
}

func (s *MCPServer) handleCancelJob(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, language, err := jobRef(request)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]bool{"cancelled": s.jobs.Cancel(id, language)})
}

func (s *MCPServer) handleQueueStats(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}
	stats, err := s.jobs.Stats(language)
	if err != nil {
		return s.errorResult("queue_stats", err), nil
	}
	return jsonResult(stats)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}, nil
}

// errorResult reports a classified failure as a tool error so clients can
// read the kind and violated rule.
func (s *MCPServer) errorResult(tool string, err error) *mcp.CallToolResult {
	payload := apperr.ToPayload(err)
	if payload.Kind == apperr.KindUnexpected {
		s.logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
	} else {
		s.logger.Info("tool rejected request",
			zap.String("tool", tool),
			zap.String("kind", string(payload.Kind)),
			zap.String("rule", payload.Rule))
	}
	data, _ := json.Marshal(map[string]apperr.Payload{"error": payload})
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
