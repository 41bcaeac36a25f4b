package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/cache"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/engine/javascript"
	"github.com/isdmx/codearena/question"
)

// countingEngine echoes a fixed output and counts executions.
type countingEngine struct {
	language string
	output   string
	success  bool
	err      error
	delay    time.Duration
	calls    atomic.Int32
	lastOpts engine.ExecuteOptions
	mu       sync.Mutex
}

func (e *countingEngine) Metadata() engine.Metadata {
	return engine.NewMetadata(e.language, "test", 2*time.Second, 1<<20, ".x")
}

func (e *countingEngine) Validate(code string) error {
	return engine.CheckSize(code, 0)
}

func (e *countingEngine) Execute(_ context.Context, _ string, opts engine.ExecuteOptions) (*engine.Result, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.lastOpts = opts
	e.mu.Unlock()
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	if !e.success {
		return engine.FailureResult(e.output, "boom", 3), nil
	}
	return engine.SuccessResult(e.output, 3), nil
}

func (e *countingEngine) CompareResult(result *engine.Result, expected string) bool {
	return engine.CompareText(result, expected)
}

func (*countingEngine) Cleanup() error { return nil }

type fixture struct {
	svc   *Service
	py    *countingEngine
	cache *cache.Cache
	store *cache.MemoryStore
	repo  *countingRepo
}

type countingRepo struct {
	question.Repository
	calls atomic.Int32
}

func (r *countingRepo) GetByID(ctx context.Context, id string) (*question.Question, error) {
	r.calls.Add(1)
	return r.Repository.GetByID(ctx, id)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	registry := engine.NewRegistry()
	py := &countingEngine{language: "python", output: "3\n", success: true}
	registry.Register("python", py)
	registry.Register("javascript", javascript.New(logger, javascript.DefaultConfig()))

	repo := &countingRepo{Repository: question.NewMemoryRepository(
		question.Question{ID: "q1", Answer: "3", Language: "Python", IsActive: true},
		question.Question{ID: "q-js", Answer: "2", Language: "javascript", IsActive: true},
		question.Question{ID: "q-old", Answer: "3", Language: "python", IsActive: false},
	)}

	store := cache.NewMemoryStore(0)
	c := cache.New(store, logger, cache.Options{})
	return &fixture{
		svc:   NewService(logger, registry, repo, c),
		py:    py,
		cache: c,
		store: store,
		repo:  repo,
	}
}

func TestExecuteCodeJavaScript(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.ExecuteCode(context.Background(), Request{Code: "console.log(1+1)", Language: "JAVASCRIPT"}, "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "2", resp.Result.Output)
	assert.Nil(t, resp.MatchesExpected)
}

func TestExecuteCodeRejectsUnsafeCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ExecuteCode(context.Background(), Request{
		Code:     "require('fs').readFileSync('/etc/passwd')",
		Language: "JAVASCRIPT",
	}, "")
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Equal(t, apperr.RuleSecurityViolation, appErr.Rule)
	assert.Contains(t, appErr.Message, "filesystem access")
	assert.NotEmpty(t, appErr.Details)
}

func TestExecuteCodeCachesIdenticalSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Code: "print(1+2)", Language: "python"}

	first, err := f.svc.ExecuteCode(ctx, req, "")
	require.NoError(t, err)
	second, err := f.svc.ExecuteCode(ctx, req, "")
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.py.calls.Load())
	assert.Equal(t, first, second)

	_, err = f.svc.ExecuteCode(ctx, Request{Code: "print(1+2)", Language: "python", Input: "7"}, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.py.calls.Load())
}

func TestExecuteCodeDoesNotCacheFailures(t *testing.T) {
	f := newFixture(t)
	f.py.success = false
	ctx := context.Background()
	req := Request{Code: "print(1/0)", Language: "python"}

	resp, err := f.svc.ExecuteCode(ctx, req, "")
	require.NoError(t, err)
	assert.False(t, resp.Success)

	_, err = f.svc.ExecuteCode(ctx, req, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.py.calls.Load())
}

func TestExecuteCodeSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.py.delay = 50 * time.Millisecond
	req := Request{Code: "print(1+2)", Language: "python"}

	var wg sync.WaitGroup
	results := make([]*Response, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.svc.ExecuteCode(context.Background(), req, "")
			assert.NoError(t, err)
			results[i] = resp
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.py.calls.Load())
	for _, resp := range results {
		require.NotNil(t, resp)
		assert.Equal(t, "3", resp.Result.Output)
	}
	results[0].Result.Output = "mutated"
	assert.Equal(t, "3", results[1].Result.Output)
}

func TestExecuteCodeQuestion(t *testing.T) {
	ctx := context.Background()

	t.Run("matches expected", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.svc.ExecuteCode(ctx, Request{Code: "print(1+2)", Language: "python", QuestionID: "q1"}, "")
		require.NoError(t, err)
		require.NotNil(t, resp.MatchesExpected)
		assert.True(t, *resp.MatchesExpected)
	})

	t.Run("wrong answer", func(t *testing.T) {
		f := newFixture(t)
		f.py.output = "4"
		resp, err := f.svc.ExecuteCode(ctx, Request{Code: "print(2+2)", Language: "python", QuestionID: "q1"}, "")
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.False(t, *resp.MatchesExpected)
	})

	t.Run("failed run never matches", func(t *testing.T) {
		f := newFixture(t)
		f.py.success = false
		resp, err := f.svc.ExecuteCode(ctx, Request{Code: "print(3)", Language: "python", QuestionID: "q1"}, "")
		require.NoError(t, err)
		assert.False(t, *resp.MatchesExpected)
	})

	t.Run("question is cached after store hit", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ExecuteCode(ctx, Request{Code: "print(1+2)", Language: "python", QuestionID: "q1"}, "")
		require.NoError(t, err)
		_, err = f.svc.ExecuteCode(ctx, Request{Code: "print(3)", Language: "python", QuestionID: "q1"}, "")
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.repo.calls.Load())
		assert.True(t, f.cache.Exists(ctx, cache.QuestionKey("q1")))
	})

	t.Run("language mismatch", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ExecuteCode(ctx, Request{Code: "print(1+2)", Language: "python", QuestionID: "q-js"}, "")
		appErr, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.RuleLanguageMismatch, appErr.Rule)
		assert.Zero(t, f.py.calls.Load())
	})

	t.Run("inactive question", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ExecuteCode(ctx, Request{Code: "print(1+2)", Language: "python", QuestionID: "q-old"}, "")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("progress invalidated for caller", func(t *testing.T) {
		f := newFixture(t)
		f.cache.SetJSON(ctx, cache.NamespaceProgress, cache.ProgressKey("u1", "q1"), map[string]int{"solved": 1})
		f.cache.SetJSON(ctx, cache.NamespaceProgress, cache.ProgressKey("u2", "q1"), map[string]int{"solved": 1})

		_, err := f.svc.ExecuteCode(ctx, Request{Code: "print(1+2)", Language: "python", QuestionID: "q1"}, "u1")
		require.NoError(t, err)
		assert.False(t, f.cache.Exists(ctx, cache.ProgressKey("u1", "q1")))
		assert.True(t, f.cache.Exists(ctx, cache.ProgressKey("u2", "q1")))
	})
}

func TestExecuteCodeLanguageResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("detected when omitted", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.svc.ExecuteCode(ctx, Request{Code: "def f():\n    return 1\nprint(f())"}, "")
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, int32(1), f.py.calls.Load())
	})

	t.Run("unsupported lists registered languages", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ExecuteCode(ctx, Request{Code: "puts 1", Language: "ruby"}, "")
		appErr, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.RuleUnsupportedLanguage, appErr.Rule)
		assert.Contains(t, appErr.Message, "javascript, python")
	})

	t.Run("undetectable", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ExecuteCode(ctx, Request{Code: "???"}, "")
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})
}

func TestExecuteCodeEngineValidationIsVerbatim(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ExecuteCode(context.Background(), Request{Code: "let x = ;", Language: "javascript"}, "")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.RuleSyntax, appErr.Rule)
}

func TestExecuteCodeTimeoutCapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ExecuteCode(ctx, Request{Code: "print(1)", Language: "python", TimeoutMs: 500}, "")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, f.py.lastOpts.Timeout)

	_, err = f.svc.ExecuteCode(ctx, Request{Code: "print(2)", Language: "python"}, "")
	require.NoError(t, err)
	assert.Zero(t, f.py.lastOpts.Timeout)
}

func TestExecuteCodeEngineFailure(t *testing.T) {
	f := newFixture(t)
	f.py.err = errors.New("sandbox crashed")

	_, err := f.svc.ExecuteCode(context.Background(), Request{Code: "print(1)", Language: "python"}, "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnexpected))
}

func TestExecuteCodeJavaScriptTimeout(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.ExecuteCode(context.Background(), Request{Code: "while(true){}", Language: "javascript", TimeoutMs: 100}, "")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.Result.TimedOut())
	assert.InDelta(t, 100, resp.ExecutionTimeMs, 50)
}

func TestValidateCode(t *testing.T) {
	f := newFixture(t)

	ok, err := f.svc.ValidateCode("console.log(1)", "javascript")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.ValidateCode("console.log(", "javascript")
	assert.False(t, ok)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	ok, err = f.svc.ValidateCode("x", "cobol")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Zero(t, f.py.calls.Load())
}

func TestEngineMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	meta, err := f.svc.EngineMetadata(ctx, "Python")
	require.NoError(t, err)
	assert.Equal(t, "python", meta.Language)
	assert.True(t, f.cache.Exists(ctx, cache.RuntimeKey("python")))

	cached, err := f.svc.EngineMetadata(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, meta.MaxExecutionTime, cached.MaxExecutionTime)
	assert.True(t, cached.SupportedExtensions.Contains(".x"))

	_, err = f.svc.EngineMetadata(ctx, "cobol")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	assert.Equal(t, []string{"javascript", "python"}, f.svc.SupportedLanguages())
}

func TestCachedResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Code: "print(1+2)", Language: "python"}

	_, hit := f.svc.CachedResponse(ctx, req)
	assert.False(t, hit)

	_, err := f.svc.ExecuteCode(ctx, req, "")
	require.NoError(t, err)

	resp, hit := f.svc.CachedResponse(ctx, req)
	require.True(t, hit)
	assert.Equal(t, "3", resp.Result.Output)
}
