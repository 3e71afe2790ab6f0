package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/datalodge/record-archiver/pkg/backup"
	"github.com/datalodge/record-archiver/pkg/policy"
	"github.com/datalodge/record-archiver/pkg/sourcestore"
)

// ErrNotRestorable indicates a source record that was never marked
// archived, so there is no backup to restore from.
var ErrNotRestorable = errors.New("record has no archived backup")

const defaultHistoryLimit = 100

// Engine orchestrates archival runs: candidate discovery, rule matching,
// bounded-concurrency task execution, write-back and aggregation.
type Engine struct {
	policies *policy.Manager
	backups  *backup.Manager
	store    sourcestore.Store

	maxConcurrent int64
	historyLimit  int

	mu      sync.Mutex
	active  map[string]*Task
	history []*Task
	stats   LifetimeStats

	logger *zap.Logger
	now    func() time.Time
}

// Option provides mechanism to configure Engine.
type Option func(e *Engine) error

// WithLogger sets the logger for Engine.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// WithMaxConcurrent bounds the number of concurrently executing tasks.
// This gate is independent of the backup manager's write gate; sizing it
// at or above the write gate avoids starving the task fan-out.
func WithMaxConcurrent(n int64) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return errors.New("max concurrent tasks must be positive")
		}
		e.maxConcurrent = n
		return nil
	}
}

// WithHistoryLimit bounds the recent-task history buffer.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return errors.New("history limit must be positive")
		}
		e.historyLimit = n
		return nil
	}
}

// New creates an Engine with given collaborators and options.
func New(policies *policy.Manager, backups *backup.Manager, store sourcestore.Store, opts ...Option) (*Engine, error) {
	if policies == nil || backups == nil || store == nil {
		return nil, errors.New("engine requires policy manager, backup manager and source store")
	}
	e := &Engine{
		policies:      policies,
		backups:       backups,
		store:         store,
		maxConcurrent: 8,
		historyLimit:  defaultHistoryLimit,
		active:        make(map[string]*Task),
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		e.logger = l
	}
	return e, nil
}

func metadataOf(c sourcestore.Candidate) policy.Metadata {
	return policy.Metadata{
		CreatedAt:              c.CreatedAt,
		LastAccessed:           c.LastAccessed,
		DataSizeBytes:          c.SizeBytes,
		ManualArchiveRequested: c.ManualArchiveRequested,
	}
}

// Run performs one archival run over candidates matching the optional
// provider and endpoint filters. With dryRun set, tasks are planned and
// counted but never executed. A failing candidate query propagates to the
// caller; no partial summary is fabricated for a run that never started.
func (e *Engine) Run(ctx context.Context, provider, endpoint string, dryRun bool) (*Summary, error) {
	start := e.now()
	runID := uuid.NewString()

	candidates, err := e.store.FindCandidates(ctx, provider, endpoint)
	if err != nil {
		e.logger.Error("candidate query failed", zap.String("run_id", runID), zap.Error(err))
		return nil, err
	}

	var tasks []*Task
	for _, cand := range candidates {
		if ctx.Err() != nil {
			// Cancellation stops task creation; anything already created
			// still runs to completion below.
			break
		}
		for _, rule := range e.policies.RulesFor(cand.Provider, cand.Endpoint) {
			if !e.policies.Evaluate(rule, metadataOf(cand)) {
				continue
			}
			// First matching rule wins; remaining rules for this candidate
			// are ignored for this run.
			tasks = append(tasks, e.newTask(cand, rule))
			break
		}
	}

	summary := &Summary{
		RunID:           runID,
		CandidatesFound: len(candidates),
		Planned:         len(tasks),
		DryRun:          dryRun,
	}

	if dryRun {
		// Planned tasks are counted but never executed, so they leave the
		// active map without entering the terminal history.
		e.mu.Lock()
		for _, t := range tasks {
			delete(e.active, t.ID)
		}
		e.mu.Unlock()
		summary.Seconds = e.now().Sub(start).Seconds()
		e.logger.Info("dry run finished",
			zap.String("run_id", runID),
			zap.Int("candidates", summary.CandidatesFound),
			zap.Int("planned", summary.Planned),
		)
		return summary, nil
	}

	sem := semaphore.NewWeighted(e.maxConcurrent)
	g := new(errgroup.Group)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				e.retire(t, TaskFailed, fmt.Sprintf("not started: %v", err))
				return nil
			}
			defer sem.Release(1)
			e.execute(ctx, t)
			return nil
		})
	}
	// Task failures are captured on the tasks themselves; the group never
	// carries an error across sibling tasks.
	_ = g.Wait()

	for _, t := range tasks {
		summary.Processed++
		switch t.State {
		case TaskCompleted:
			summary.Succeeded++
			summary.OriginalMB += float64(t.Backup.OriginalBytes) / (1024 * 1024)
			summary.CompressedMB += float64(t.Backup.CompressedBytes) / (1024 * 1024)
			summary.AvgRatio += t.Backup.Ratio
		case TaskSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	if summary.Succeeded > 0 {
		summary.AvgRatio /= float64(summary.Succeeded)
	}
	summary.Seconds = e.now().Sub(start).Seconds()

	e.updateLifetime(summary)

	e.logger.Info("archival run finished",
		zap.String("run_id", runID),
		zap.Int("candidates", summary.CandidatesFound),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.String("archived", humanize.Bytes(uint64(summary.OriginalMB*1024*1024))),
		zap.Float64("avg_ratio", summary.AvgRatio),
	)
	return summary, nil
}

func (e *Engine) newTask(cand sourcestore.Candidate, rule policy.Rule) *Task {
	t := &Task{
		ID:        newTaskID(cand.ID, rule.ID, e.now()),
		Candidate: cand,
		RecordID:  cand.ID,
		Rule:      rule,
		State:     TaskPending,
		CreatedAt: e.now(),
	}
	e.mu.Lock()
	e.active[t.ID] = t
	e.mu.Unlock()
	return t
}

// execute drives one task through its state machine. All failures end on
// the task; nothing propagates to sibling tasks.
func (e *Engine) execute(ctx context.Context, t *Task) {
	t.State = TaskAnalyzing
	if t.Candidate.Payload == nil {
		e.retire(t, TaskSkipped, "no payload to archive")
		return
	}

	t.State = TaskBackingUp
	rec := e.backups.Backup(ctx, t.Candidate.ID, t.Candidate.Provider, t.Candidate.Endpoint, t.Candidate.Payload, t.Rule)
	t.Backup = rec
	if rec.Status != backup.StatusCompleted {
		e.retire(t, TaskFailed, rec.Error)
		return
	}

	if err := e.store.MarkArchived(ctx, t.Candidate.ID, rec.ID, e.now()); err != nil {
		// The backup file is valid and intentionally retained: a future
		// run over the same record can reconcile the write-back.
		e.retire(t, TaskFailed, fmt.Sprintf("write-back: %v", err))
		return
	}

	e.retire(t, TaskCompleted, "")
}

// retire moves a task into a terminal state and from the active map to the
// bounded history buffer.
func (e *Engine) retire(t *Task, state TaskState, msg string) {
	done := e.now()
	t.State = state
	t.Error = msg
	t.FinishedAt = &done

	e.mu.Lock()
	delete(e.active, t.ID)
	e.history = append(e.history, t)
	if len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}
	e.mu.Unlock()
}

// updateLifetime folds one run into the engine-lifetime counters. It runs
// on the orchestrating goroutine after all tasks finished, so the fields
// need no extra synchronization beyond the engine mutex.
func (e *Engine) updateLifetime(s *Summary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Runs++
	e.stats.ItemsProcessed += s.Processed
	e.stats.BackupsCreated += s.Succeeded
	e.stats.ArchivedMB += s.OriginalMB
	e.stats.AvgRunSeconds += (s.Seconds - e.stats.AvgRunSeconds) / float64(e.stats.Runs)
}

// Restore resolves the archived record's backup id from the source store
// and delegates to the backup manager.
func (e *Engine) Restore(ctx context.Context, recordID string) (interface{}, error) {
	cand, err := e.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !cand.Archived || cand.BackupID == "" {
		return nil, fmt.Errorf("record %s: %w", recordID, ErrNotRestorable)
	}
	return e.backups.Restore(ctx, cand.BackupID)
}

// Stats returns a copy of the engine-lifetime counters.
func (e *Engine) Stats() LifetimeStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// History returns the recent terminal tasks, oldest first.
func (e *Engine) History() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Task, len(e.history))
	copy(out, e.history)
	return out
}

// ActiveTasks returns the tasks currently executing.
func (e *Engine) ActiveTasks() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Task, 0, len(e.active))
	for _, t := range e.active {
		out = append(out, t)
	}
	return out
}
