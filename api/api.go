package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/execution"
	"github.com/isdmx/codearena/logger"
	"github.com/isdmx/codearena/queue"
)

// CallerHeader carries the caller identity.
const CallerHeader = "X-Caller-ID"

// Executions is the execution service surface served over HTTP.
type Executions interface {
	ExecuteCode(ctx context.Context, req execution.Request, callerID string) (*execution.Response, error)
	ValidateCode(code, language string) (bool, error)
	SupportedLanguages() []string
	EngineMetadata(ctx context.Context, language string) (engine.Metadata, error)
}

// Jobs is the queue surface served over HTTP.
type Jobs interface {
	Enqueue(req execution.Request, callerID string, priority int) (string, error)
	JobStatus(id, language string) (queue.Status, error)
	Cancel(id, language string) bool
	Stats(language string) (queue.Stats, error)
}

// Handler holds the dependencies of the REST handlers.
type Handler struct {
	logger *zap.Logger
	execs  Executions
	jobs   Jobs
}

// NewHandler creates a Handler. jobs may be nil, in which case the job
// routes are not registered.
func NewHandler(logger *zap.Logger, execs Executions, jobs Jobs) *Handler {
	return &Handler{logger: logger, execs: execs, jobs: jobs}
}

// NewRouter builds the gin engine with all routes installed.
func NewRouter(logger *zap.Logger, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(logger), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/executions", h.execute)
		v1.POST("/validations", h.validate)
		v1.GET("/languages", h.languages)
		v1.GET("/languages/:language", h.language)
	}
	if h.jobs != nil {
		v1.POST("/jobs", h.enqueue)
		v1.GET("/jobs/:language/:id", h.jobStatus)
		v1.DELETE("/jobs/:language/:id", h.cancelJob)
		v1.GET("/queues/:language/stats", h.queueStats)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": apperr.Payload{Kind: apperr.KindNotFound, Message: "route not found"}})
	})
	return r
}

// NewServer wraps router in an http.Server listening on port.
func NewServer(port int, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve runs srv until it is shut down. A graceful shutdown is not an error.
func Serve(logger *zap.Logger, srv *http.Server) error {
	logger.Info("starting REST API", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

type executeBody struct {
	Code       string `json:"code"`
	Language   string `json:"language"`
	QuestionID string `json:"questionId"`
	Input      string `json:"input"`
	TimeoutMs  int    `json:"timeoutMs"`
	Priority   int    `json:"priority"`
}

func (b executeBody) request() execution.Request {
	return execution.Request{
		Code:       b.Code,
		Language:   b.Language,
		QuestionID: b.QuestionID,
		Input:      b.Input,
		TimeoutMs:  b.TimeoutMs,
	}
}

func (h *Handler) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.fail(c, apperr.Validationf(apperr.RuleMalformedRequest, "malformed request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) fail(c *gin.Context, err error) {
	payload := apperr.ToPayload(err)
	if payload.Kind == apperr.KindUnexpected {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": payload})
}

func (h *Handler) execute(c *gin.Context) {
	var body executeBody
	if !h.bind(c, &body) {
		return
	}
	h.logger.Debug("execution requested", append(logger.Code(body.Code), zap.String("language", body.Language))...)

	resp, err := h.execs.ExecuteCode(c.Request.Context(), body.request(), c.GetHeader(CallerHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) validate(c *gin.Context) {
	var body executeBody
	if !h.bind(c, &body) {
		return
	}
	if _, err := h.execs.ValidateCode(body.Code, body.Language); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (h *Handler) languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": h.execs.SupportedLanguages()})
}

func (h *Handler) language(c *gin.Context) {
	meta, err := h.execs.EngineMetadata(c.Request.Context(), c.Param("language"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *Handler) enqueue(c *gin.Context) {
	var body executeBody
	if !h.bind(c, &body) {
		return
	}
	id, err := h.jobs.Enqueue(body.request(), c.GetHeader(CallerHeader), body.Priority)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": id})
}

func (h *Handler) jobStatus(c *gin.Context) {
	status, err := h.jobs.JobStatus(c.Param("id"), c.Param("language"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) cancelJob(c *gin.Context) {
	if !h.jobs.Cancel(c.Param("id"), c.Param("language")) {
		h.fail(c, apperr.NotFound("job %s is not waiting in %s queue", c.Param("id"), c.Param("language")))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) queueStats(c *gin.Context) {
	stats, err := h.jobs.Stats(c.Param("language"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
