package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/orchestrator"
	"github.com/p-blackswan/crewflow/internal/project"
	"github.com/p-blackswan/crewflow/lru"
)

// Runner executes one project end to end. *orchestrator.Orchestrator
// satisfies it.
type Runner interface {
	RunProject(ctx context.Context, request string, opts ...orchestrator.RunOption) (orchestrator.Result, error)
}

// EngineConfig sizes the run engine.
type EngineConfig struct {
	Workers   int
	QueueSize int
	CacheSize int
	// CacheTTL bounds how long finished runs stay cached; 0 keeps them
	// until evicted by size.
	CacheTTL time.Duration
}

// job is the mutable engine-side record behind a Run.
type job struct {
	mu              sync.RWMutex
	run             Run
	cancelRequested bool
	cancel          context.CancelFunc
}

func (j *job) snapshot() Run {
	j.mu.RLock()
	defer j.mu.RUnlock()
	r := j.run
	r.State = j.run.State.Clone()
	return r
}

// Engine executes submitted runs on a fixed worker pool. Runs in flight are
// tracked in memory; finished runs are kept in an LRU cache and, when a
// project store is configured, remain readable from it after eviction.
type Engine struct {
	runner  Runner
	store   *project.Store
	results *lru.Cache[string, Run]
	queue   chan *job
	workers int
	logger  zerolog.Logger

	mu     sync.Mutex
	active map[string]*job

	// gate orders Submit's running check and enqueue against Stop's drain.
	gate    sync.RWMutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewEngine creates a run engine. store may be nil.
func NewEngine(cfg EngineConfig, runner Runner, store *project.Store, logger zerolog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	e := &Engine{
		runner:  runner,
		store:   store,
		queue:   make(chan *job, cfg.QueueSize),
		workers: cfg.Workers,
		active:  make(map[string]*job),
		logger:  logger.With().Str("component", "run_engine").Logger(),
	}
	e.results = lru.New(cfg.CacheSize,
		lru.WithTTL[string, Run](cfg.CacheTTL),
		lru.WithOnEvict(func(id string, _ Run) {
			e.logger.Debug().Str("project_id", id).Msg("result dropped from cache")
		}),
	)
	return e
}

// Start launches the workers.
func (e *Engine) Start(ctx context.Context) {
	if e.running.Swap(true) {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info().Int("workers", e.workers).Msg("run engine started")
}

// Stop cancels runs in flight, waits for the workers and rejects whatever is
// still queued.
func (e *Engine) Stop() {
	e.gate.Lock()
	wasRunning := e.running.Swap(false)
	e.gate.Unlock()
	if !wasRunning {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	for {
		select {
		case j := <-e.queue:
			e.finish(j, orchestrator.Result{}, errors.New("run engine stopped"))
		default:
			e.logger.Info().Msg("run engine stopped")
			return
		}
	}
}

// Submit enqueues a request and returns the queued run.
func (e *Engine) Submit(request, submittedBy string) (Run, error) {
	if strings.TrimSpace(request) == "" {
		return Run{}, fmt.Errorf("%w: request is required", apperrors.ErrInvalidInput)
	}

	e.gate.RLock()
	defer e.gate.RUnlock()
	if !e.running.Load() {
		return Run{}, fmt.Errorf("%w: run engine is not running", apperrors.ErrUnavailable)
	}

	j := &job{run: Run{
		ID:          uuid.New().String(),
		Request:     request,
		Status:      RunQueued,
		SubmittedBy: submittedBy,
		CreatedAt:   time.Now().UTC(),
	}}
	id := j.run.ID

	e.mu.Lock()
	e.active[id] = j
	e.mu.Unlock()

	// Snapshot before enqueueing; a worker may pick the run up immediately.
	snap := j.snapshot()

	select {
	case e.queue <- j:
		e.logger.Info().Str("project_id", id).Str("submitted_by", submittedBy).Msg("run enqueued")
		return snap, nil
	default:
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()

		j.mu.Lock()
		j.run.Status = RunRejected
		j.run.Error = "run queue is full"
		j.mu.Unlock()
		return j.snapshot(), fmt.Errorf("%w: run queue is full", apperrors.ErrUnavailable)
	}
}

// Get returns the latest view of a run.
func (e *Engine) Get(ctx context.Context, id string) (Run, error) {
	e.mu.Lock()
	j, ok := e.active[id]
	e.mu.Unlock()
	if ok {
		snap := j.snapshot()
		if snap.Status == RunRunning && e.store != nil {
			if st, err := e.store.Get(ctx, id); err == nil {
				snap.State = st
				snap.Phase = st.Phase
			}
		}
		return snap, nil
	}

	if r, ok := e.results.Get(id); ok {
		return r, nil
	}

	if e.store != nil {
		st, err := e.store.Get(ctx, id)
		if err != nil {
			return Run{}, err
		}
		return runFromState(st), nil
	}
	return Run{}, fmt.Errorf("project %s: %w", id, apperrors.ErrNotFound)
}

// Cancel stops a queued or running run. The run still finishes through the
// orchestrator, which records it as Failed with a cancellation reason.
func (e *Engine) Cancel(ctx context.Context, id string) (Run, error) {
	e.mu.Lock()
	j, ok := e.active[id]
	e.mu.Unlock()

	if ok {
		j.mu.Lock()
		j.cancelRequested = true
		if j.cancel != nil {
			j.cancel()
		}
		j.mu.Unlock()
		e.logger.Info().Str("project_id", id).Msg("run cancellation requested")
		return j.snapshot(), nil
	}

	r, err := e.Get(ctx, id)
	if err != nil {
		return Run{}, err
	}
	if r.Status == RunFinished || r.Status == RunRejected {
		return r, fmt.Errorf("project %s: %w", id, apperrors.ErrTerminalState)
	}
	// Persisted but not tracked here: owned by a process that is gone.
	return r, fmt.Errorf("project %s is not running in this process: %w", id, apperrors.ErrNotFound)
}

// List returns runs in flight followed by finished ones, newest first.
func (e *Engine) List(ctx context.Context, q ListProjectsQuery) ([]Run, int, error) {
	var phase project.Phase
	if q.Phase != "" {
		p, err := project.ParsePhase(q.Phase)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		phase = p
	}
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	seen := make(map[string]bool)
	var out []Run

	e.mu.Lock()
	for id, j := range e.active {
		seen[id] = true
		snap := j.snapshot()
		if phase == "" || snap.Phase == phase {
			out = append(out, snap)
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	var finished []Run
	if e.store != nil {
		states, err := e.store.List(ctx, project.ListQuery{Phase: phase, Limit: offset + limit})
		if err != nil {
			return nil, 0, err
		}
		for _, st := range states {
			if !seen[st.ID] {
				seen[st.ID] = true
				finished = append(finished, runFromState(st))
			}
		}
	} else {
		for _, id := range e.results.Keys() {
			r, ok := e.results.Peek(id)
			if !ok || seen[id] || (phase != "" && r.Phase != phase) {
				continue
			}
			finished = append(finished, r)
		}
		sort.Slice(finished, func(i, j int) bool { return finished[i].CreatedAt.After(finished[j].CreatedAt) })
	}
	out = append(out, finished...)

	total := len(out)
	if offset >= total {
		return []Run{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	log := e.logger.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.queue:
			e.execute(ctx, j, log)
		}
	}
}

func (e *Engine) execute(ctx context.Context, j *job, log zerolog.Logger) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now().UTC()
	j.mu.Lock()
	j.cancel = cancel
	if j.cancelRequested {
		cancel()
	}
	j.run.Status = RunRunning
	j.run.StartedAt = &now
	id, request := j.run.ID, j.run.Request
	j.mu.Unlock()

	log.Info().Str("project_id", id).Msg("run executing")
	res, err := e.runner.RunProject(runCtx, request, orchestrator.WithProjectID(id))
	e.finish(j, res, err)
}

// finish records the outcome. The cache is filled before the run leaves the
// active set so a concurrent Get always finds it.
func (e *Engine) finish(j *job, res orchestrator.Result, err error) {
	now := time.Now().UTC()
	j.mu.Lock()
	j.cancel = nil
	j.run.FinishedAt = &now
	if err != nil {
		j.run.Status = RunRejected
		j.run.Error = err.Error()
	} else {
		j.run.Status = RunFinished
		j.run.Phase = res.FinalPhase
		j.run.State = res.State
		if res.State != nil {
			j.run.Error = res.State.FailureReason
		}
	}
	j.mu.Unlock()

	snap := j.snapshot()
	e.results.Put(snap.ID, snap)

	e.mu.Lock()
	delete(e.active, snap.ID)
	e.mu.Unlock()

	e.logger.Info().
		Str("project_id", snap.ID).
		Str("status", string(snap.Status)).
		Str("phase", string(snap.Phase)).
		Msg("run finished")
}
