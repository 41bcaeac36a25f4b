// Package execution runs submissions end to end: security screening, engine
// resolution and validation, expected-output lookup, result caching and
// execution.
package execution

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/cache"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/logger"
	"github.com/isdmx/codearena/question"
	"github.com/isdmx/codearena/security"
)

// Request is one submission. It is never mutated after creation.
type Request struct {
	Code       string `json:"code"`
	Language   string `json:"language,omitempty"`
	QuestionID string `json:"questionId,omitempty"`
	Input      string `json:"input,omitempty"`
	TimeoutMs  int    `json:"timeoutMs,omitempty"`
}

// Response is the outcome of ExecuteCode. MatchesExpected is set only when a
// question supplied an expected answer.
type Response struct {
	Success         bool           `json:"success"`
	Result          *engine.Result `json:"result"`
	MatchesExpected *bool          `json:"matchesExpected,omitempty"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
}

func (r *Response) clone() *Response {
	out := *r
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	if r.MatchesExpected != nil {
		m := *r.MatchesExpected
		out.MatchesExpected = &m
	}
	return &out
}

// Service executes submissions against the registered engines.
type Service struct {
	logger    *zap.Logger
	registry  *engine.Registry
	questions question.Repository
	cache     *cache.Cache
	flights   singleflight.Group
}

// NewService creates a Service. questions may be nil, in which case any
// request naming a question fails with not found.
func NewService(logger *zap.Logger, registry *engine.Registry, questions question.Repository, c *cache.Cache) *Service {
	return &Service{
		logger:    logger,
		registry:  registry,
		questions: questions,
		cache:     c,
	}
}

// ExecuteCode screens, validates and runs req. callerID may be empty; when
// present together with a question id, the caller's cached progress is
// invalidated.
func (s *Service) ExecuteCode(ctx context.Context, req Request, callerID string) (*Response, error) {
	start := time.Now()

	if check := security.Validate(req.Code, req.Language); !check.Safe {
		return nil, apperr.Validation(apperr.RuleSecurityViolation,
			"code rejected by security validation: "+strings.Join(check.Threats, "; "), check.Threats...)
	}

	lang, err := s.resolveLanguage(req)
	if err != nil {
		return nil, err
	}

	eng, ok := s.registry.Get(lang)
	if !ok {
		return nil, apperr.NotFound("no engine registered for language %s", lang)
	}

	if err := eng.Validate(req.Code); err != nil {
		return nil, err
	}

	var expected *string
	if req.QuestionID != "" {
		q, err := s.question(ctx, req.QuestionID)
		if err != nil {
			return nil, err
		}
		if security.CanonicalLanguage(q.Language) != lang {
			return nil, apperr.Validationf(apperr.RuleLanguageMismatch,
				"question %s expects %s, got %s", req.QuestionID, q.Language, lang)
		}
		expected = &q.Answer
	}

	fingerprint := cache.FingerprintWithInput(req.Code, lang, req.QuestionID, req.Input)
	log := s.logger.With(append(logger.Code(req.Code), zap.String("language", lang))...)

	if resp, hit := s.cached(ctx, fingerprint); hit {
		log.Debug("execution served from cache")
		s.invalidateProgress(ctx, callerID, req.QuestionID)
		return resp, nil
	}

	ch := s.flights.DoChan(fingerprint, func() (any, error) {
		// Callers share this run; it must not die with the first caller.
		runCtx := context.WithoutCancel(ctx)
		if resp, hit := s.cached(runCtx, fingerprint); hit {
			return resp, nil
		}
		return s.run(runCtx, eng, req, expected, fingerprint)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, apperr.Unexpected("execution abandoned by caller", ctx.Err())
	}
	if res.Err != nil {
		log.Error("execution failed", zap.Error(res.Err))
		return nil, res.Err
	}

	resp := res.Val.(*Response).clone()
	s.invalidateProgress(ctx, callerID, req.QuestionID)
	log.Info("execution finished",
		zap.Bool("success", resp.Success),
		zap.Bool("shared", res.Shared),
		zap.Int64("execution_ms", resp.ExecutionTimeMs),
		zap.Duration("total", time.Since(start)))
	return resp, nil
}

func (s *Service) run(ctx context.Context, eng engine.Engine, req Request, expected *string, fingerprint string) (*Response, error) {
	opts := engine.ExecuteOptions{Input: req.Input}
	if req.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	result, err := eng.Execute(ctx, req.Code, opts)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Unexpected("execute code", err)
	}

	resp := &Response{
		Success:         result.Success,
		Result:          result,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
	if expected != nil {
		matches := result.Success && eng.CompareResult(result, *expected)
		resp.MatchesExpected = &matches
	}

	if result.Success {
		s.cache.SetJSON(ctx, cache.NamespaceResult, cache.ResultKey(fingerprint), resp)
	}
	return resp, nil
}

func (s *Service) cached(ctx context.Context, fingerprint string) (*Response, bool) {
	var resp Response
	if !s.cache.GetJSON(ctx, cache.ResultKey(fingerprint), &resp) {
		return nil, false
	}
	return &resp, true
}

// CachedResponse returns the cached response for req without executing it.
func (s *Service) CachedResponse(ctx context.Context, req Request) (*Response, bool) {
	lang, err := s.resolveLanguage(req)
	if err != nil {
		return nil, false
	}
	return s.cached(ctx, cache.FingerprintWithInput(req.Code, lang, req.QuestionID, req.Input))
}

func (s *Service) invalidateProgress(ctx context.Context, callerID, questionID string) {
	if callerID == "" || questionID == "" {
		return
	}
	s.cache.InvalidateProgress(ctx, callerID)
}

// resolveLanguage returns the canonical registered language of req.
func (s *Service) resolveLanguage(req Request) (string, error) {
	lang := security.CanonicalLanguage(req.Language)
	if lang == "" {
		lang = security.DetectLanguage(req.Code)
		if lang == "" {
			return "", apperr.Validation(apperr.RuleUnsupportedLanguage,
				"language not specified and could not be detected", s.registry.SortedLanguages()...)
		}
	}
	if !s.registry.Has(lang) {
		name := req.Language
		if name == "" {
			name = lang
		}
		return "", engine.UnsupportedLanguage(name, s.registry.SortedLanguages())
	}
	return lang, nil
}

// question loads a question cache-first, filling the cache on a store hit.
func (s *Service) question(ctx context.Context, id string) (*question.Question, error) {
	var q question.Question
	if s.cache.GetJSON(ctx, cache.QuestionKey(id), &q) {
		return &q, nil
	}
	if s.questions == nil {
		return nil, apperr.NotFound("question %s not found", id)
	}
	found, err := s.questions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, cache.NamespaceQuestion, cache.QuestionKey(id), found)
	return found, nil
}

// ValidateCode runs language resolution and engine validation without
// executing anything.
func (s *Service) ValidateCode(code, language string) (bool, error) {
	req := Request{Code: code, Language: language}
	lang, err := s.resolveLanguage(req)
	if err != nil {
		return false, err
	}
	eng, ok := s.registry.Get(lang)
	if !ok {
		return false, apperr.NotFound("no engine registered for language %s", lang)
	}
	if err := eng.Validate(code); err != nil {
		return false, err
	}
	return true, nil
}

// SupportedLanguages lists registered languages in lexical order.
func (s *Service) SupportedLanguages() []string {
	return s.registry.SortedLanguages()
}

// EngineMetadata returns an engine's metadata, cache-first.
func (s *Service) EngineMetadata(ctx context.Context, language string) (engine.Metadata, error) {
	lang := security.CanonicalLanguage(language)
	eng, ok := s.registry.Get(lang)
	if !ok {
		return engine.Metadata{}, apperr.NotFound("language %q is not supported; supported languages: %s",
			language, strings.Join(s.registry.SortedLanguages(), ", "))
	}

	var meta engine.Metadata
	if s.cache.GetJSON(ctx, cache.RuntimeKey(lang), &meta) {
		return meta, nil
	}
	meta = eng.Metadata()
	s.cache.SetJSON(ctx, cache.NamespaceRuntime, cache.RuntimeKey(lang), meta)
	return meta, nil
}
