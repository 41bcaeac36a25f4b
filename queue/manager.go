package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/execution"
	"github.com/isdmx/codearena/security"
)

// Languages is the registry view the manager needs.
type Languages interface {
	Has(language string) bool
	SortedLanguages() []string
}

// Limits are the per-language worker settings.
type Limits struct {
	Concurrency int
	// StallAfter overrides Options.StallAfter when positive.
	StallAfter time.Duration
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Options Options
	// Limits by canonical language; missing languages use DefaultLimits.
	Limits        map[string]Limits
	DefaultLimits Limits
	// StalledCheckInterval is how often active jobs are checked; <= 0 disables.
	StalledCheckInterval time.Duration
}

// Status is the caller-facing view of a job.
type Status struct {
	ID       string              `json:"id"`
	Language string              `json:"language"`
	State    State               `json:"state"`
	Attempts int                 `json:"attempts"`
	Priority int                 `json:"priority"`
	Result   *execution.Response `json:"result,omitempty"`
	Error    *StatusError        `json:"error,omitempty"`
}

// StatusError describes the last failure of a job.
type StatusError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type lane struct {
	queue *Queue
	pool  *Pool
}

// Manager owns one queue and one worker pool per language, created lazily on
// first reference and kept for the life of the process.
type Manager struct {
	logger    *zap.Logger
	executor  Executor
	languages Languages
	events    *EventBus
	cfg       ManagerConfig

	lanes  *xsync.MapOf[string, *lane]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager. Workers run until Close.
func NewManager(logger *zap.Logger, executor Executor, languages Languages, events *EventBus, cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.DefaultLimits.Concurrency < 1 {
		cfg.DefaultLimits.Concurrency = 1
	}
	return &Manager{
		logger:    logger,
		executor:  executor,
		languages: languages,
		events:    events,
		cfg:       cfg,
		lanes:     xsync.NewMapOf[string, *lane](),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (m *Manager) limits(language string) Limits {
	if l, ok := m.cfg.Limits[language]; ok && l.Concurrency > 0 {
		return l
	}
	return m.cfg.DefaultLimits
}

// resolve canonicalizes language and checks it is registered.
func (m *Manager) resolve(language string) (string, error) {
	lang := security.CanonicalLanguage(language)
	if !m.languages.Has(lang) {
		return "", engine.UnsupportedLanguage(language, m.languages.SortedLanguages())
	}
	return lang, nil
}

// lane returns the lane of a resolved language, starting it on first use.
func (m *Manager) lane(lang string) *lane {
	l, _ := m.lanes.LoadOrCompute(lang, func() *lane {
		limits := m.limits(lang)
		opts := m.cfg.Options
		if limits.StallAfter > 0 {
			opts.StallAfter = limits.StallAfter
		}
		q := New(lang, opts, m.events)
		l := &lane{queue: q, pool: NewPool(q, m.executor, limits.Concurrency, m.logger)}
		m.start(l)
		return l
	})
	return l
}

func (m *Manager) start(l *lane) {
	select {
	case <-m.ctx.Done():
		l.queue.Close()
		return
	default:
	}

	m.logger.Info("starting queue",
		zap.String("queue", l.queue.Name()),
		zap.Int("concurrency", l.pool.Concurrency()))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := l.pool.Run(m.ctx); err != nil {
			m.logger.Error("worker pool stopped", zap.String("queue", l.queue.Name()), zap.Error(err))
		}
	}()

	if m.cfg.StalledCheckInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.cfg.StalledCheckInterval)
			defer ticker.Stop()
			for {
				select {
				case <-m.ctx.Done():
					return
				case <-ticker.C:
					l.queue.CheckStalled()
				}
			}
		}()
	}
}

// Enqueue adds req to its language's queue and returns the job id. A lower
// priority value is served first. When req has no language it is detected.
func (m *Manager) Enqueue(req execution.Request, callerID string, priority int) (string, error) {
	language := req.Language
	if language == "" {
		language = security.DetectLanguage(req.Code)
	}
	lang, err := m.resolve(language)
	if err != nil {
		return "", err
	}
	if err := engine.CheckSize(req.Code, 0); err != nil {
		return "", err
	}

	req.Language = lang
	job := Job{
		ID:       uuid.NewString(),
		Language: lang,
		Request:  req,
		CallerID: callerID,
		Priority: priority,
	}
	if err := m.lane(lang).queue.Add(job); err != nil {
		if appErr, ok := apperr.As(err); ok {
			return "", appErr
		}
		return "", apperr.Unexpected("enqueue job", err)
	}
	return job.ID, nil
}

// JobStatus returns the state of job id in language's queue.
func (m *Manager) JobStatus(id, language string) (Status, error) {
	lang, err := m.resolve(language)
	if err != nil {
		return Status{}, err
	}
	job, ok := m.lane(lang).queue.Get(id)
	if !ok {
		return Status{}, apperr.NotFound("job %s not found in %s queue", id, lang)
	}
	status := Status{
		ID:       job.ID,
		Language: job.Language,
		State:    job.State,
		Attempts: job.Attempts,
		Priority: job.Priority,
		Result:   job.Result,
	}
	if job.Error != "" && job.State != StateCompleted {
		status.Error = &StatusError{Kind: job.ErrorKind, Message: job.Error}
	}
	return status, nil
}

// Cancel removes a job that has not started. It reports false for unknown,
// active or finished jobs.
func (m *Manager) Cancel(id, language string) bool {
	lang, err := m.resolve(language)
	if err != nil {
		return false
	}
	return m.lane(lang).queue.Remove(id)
}

// Stats returns the counts of language's queue.
func (m *Manager) Stats(language string) (Stats, error) {
	lang, err := m.resolve(language)
	if err != nil {
		return Stats{}, err
	}
	return m.lane(lang).queue.Stats(), nil
}

// Languages lists the languages whose queues have been created.
func (m *Manager) Languages() []string {
	var names []string
	m.lanes.Range(func(name string, _ *lane) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Close stops all workers and waits for in-flight attempts to return.
func (m *Manager) Close() {
	// Lanes close before workers are cancelled so an interrupted run lands
	// in a terminal state instead of a retry timer that Close would drop.
	m.lanes.Range(func(_ string, l *lane) bool {
		l.queue.Close()
		return true
	})
	m.cancel()
	m.wg.Wait()
}
