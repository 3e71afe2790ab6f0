package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datalodge/record-archiver/pkg/backup"
	"github.com/datalodge/record-archiver/pkg/compression"
	"github.com/datalodge/record-archiver/pkg/policy"
	"github.com/datalodge/record-archiver/pkg/sourcestore"
	"github.com/datalodge/record-archiver/pkg/storage"
)

type stubStore struct {
	mu         sync.Mutex
	candidates []sourcestore.Candidate
	archived   map[string]string
	failQuery  error
	failMark   error
}

func newStubStore(candidates ...sourcestore.Candidate) *stubStore {
	return &stubStore{candidates: candidates, archived: make(map[string]string)}
}

func (s *stubStore) FindCandidates(ctx context.Context, provider, endpoint string) ([]sourcestore.Candidate, error) {
	if s.failQuery != nil {
		return nil, s.failQuery
	}
	var out []sourcestore.Candidate
	for _, c := range s.candidates {
		if provider != "" && c.Provider != provider {
			continue
		}
		if endpoint != "" && c.Endpoint != endpoint {
			continue
		}
		if c.Archived {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *stubStore) MarkArchived(ctx context.Context, recordID, backupID string, at time.Time) error {
	if s.failMark != nil {
		return s.failMark
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived[recordID] = backupID
	for i := range s.candidates {
		if s.candidates[i].ID == recordID {
			s.candidates[i].Archived = true
			s.candidates[i].BackupID = backupID
		}
	}
	return nil
}

func (s *stubStore) Get(ctx context.Context, recordID string) (*sourcestore.Candidate, error) {
	for i := range s.candidates {
		if s.candidates[i].ID == recordID {
			c := s.candidates[i]
			return &c, nil
		}
	}
	return nil, sourcestore.ErrRecordNotFound
}

func ageRule(id string, priority, maxAgeDays int) policy.Rule {
	return policy.Rule{
		ID:            id,
		Name:          id,
		Trigger:       policy.TriggerAgeBased,
		Condition:     policy.Condition{MaxAgeDays: maxAgeDays},
		Target:        storage.LocationLocalDisk,
		Compression:   compression.TypeGzip,
		RetentionDays: 90,
		Enabled:       true,
		Priority:      priority,
	}
}

func candidate(id string, age time.Duration, payload interface{}) sourcestore.Candidate {
	return sourcestore.Candidate{
		ID:        id,
		Provider:  "github",
		Endpoint:  "/users",
		CreatedAt: time.Now().Add(-age),
		SizeBytes: 1024,
		Payload:   payload,
	}
}

func newTestEngine(t *testing.T, store sourcestore.Store, rules ...policy.Rule) (*Engine, *backup.Manager) {
	t.Helper()
	pm, err := policy.NewManager(
		policy.WithLogger(zap.NewNop()),
		policy.WithCatalog([]*policy.Policy{{
			ID:       "test",
			Provider: policy.WildcardProvider,
			Enabled:  true,
			Rules:    rules,
		}}),
	)
	require.NoError(t, err)

	bm, err := backup.NewManager(
		backup.Config{BasePath: t.TempDir(), MaxConcurrent: 2, VerifyIntegrity: true},
		backup.WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	e, err := New(pm, bm, store, WithLogger(zap.NewNop()), WithMaxConcurrent(4))
	require.NoError(t, err)
	return e, bm
}

func TestRunArchivesAndRestores(t *testing.T) {
	payload := map[string]interface{}{"login": "octocat", "id": float64(583231)}
	store := newStubStore(candidate("rec-1", 31*24*time.Hour, payload))
	e, _ := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	summary, err := e.Run(context.Background(), "", "", false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.CandidatesFound)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.GreaterOrEqual(t, summary.AvgRatio, 0.0)

	require.Contains(t, store.archived, "rec-1")

	restored, err := e.Restore(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestRunFirstMatchWins(t *testing.T) {
	store := newStubStore(candidate("rec-1", 100*24*time.Hour, map[string]interface{}{"n": 1}))
	e, bm := newTestEngine(t, store,
		ageRule("low-priority", 1, 30),
		ageRule("high-priority", 10, 30),
	)

	summary, err := e.Run(context.Background(), "", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed, "exactly one task per candidate")

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, "high-priority", history[0].Rule.ID)
	assert.Len(t, bm.Find("", "", backup.StatusCompleted), 1)
}

func TestRunDryRun(t *testing.T) {
	store := newStubStore(candidate("rec-1", 31*24*time.Hour, map[string]interface{}{"n": 1}))
	e, bm := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	summary, err := e.Run(context.Background(), "", "", true)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.CandidatesFound)
	assert.Equal(t, 1, summary.Planned)
	assert.Equal(t, 0, summary.Processed)
	assert.Empty(t, store.archived, "dry run must not write back")
	assert.Empty(t, bm.Find("", "", ""), "dry run must not create backups")
	assert.Empty(t, e.ActiveTasks())
}

func TestRunSkipsPayloadlessCandidate(t *testing.T) {
	store := newStubStore(candidate("rec-1", 31*24*time.Hour, nil))
	e, _ := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	summary, err := e.Run(context.Background(), "", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Empty(t, store.archived)
}

func TestRunWriteBackFailureKeepsBackup(t *testing.T) {
	store := newStubStore(candidate("rec-1", 31*24*time.Hour, map[string]interface{}{"n": 1}))
	store.failMark = errors.New("store unavailable")
	e, bm := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	summary, err := e.Run(context.Background(), "", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Succeeded)

	// The backup itself succeeded and is retained for reconciliation.
	completed := bm.Find("", "", backup.StatusCompleted)
	require.Len(t, completed, 1)

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, TaskFailed, history[0].State)
	assert.Contains(t, history[0].Error, "write-back")
}

func TestRunNoMatchingPolicies(t *testing.T) {
	store := newStubStore(candidate("rec-1", time.Hour, map[string]interface{}{"n": 1}))
	// Rule threshold far above the candidate's age: no task is created.
	e, _ := newTestEngine(t, store, ageRule("age-300d", 1, 300))

	summary, err := e.Run(context.Background(), "", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CandidatesFound)
	assert.Equal(t, 0, summary.Planned)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Succeeded+summary.Failed+summary.Skipped)
}

func TestRunQueryFailurePropagates(t *testing.T) {
	store := newStubStore()
	store.failQuery = errors.New("database gone")
	e, _ := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	summary, err := e.Run(context.Background(), "", "", false)
	require.Error(t, err)
	assert.Nil(t, summary, "no partial summary for a run that never started")
}

func TestRunSummaryReconciles(t *testing.T) {
	store := newStubStore(
		candidate("ok", 31*24*time.Hour, map[string]interface{}{"n": 1}),
		candidate("empty", 31*24*time.Hour, nil),
	)
	e, _ := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	summary, err := e.Run(context.Background(), "", "", false)
	require.NoError(t, err)
	assert.Equal(t, summary.Processed, summary.Succeeded+summary.Failed+summary.Skipped)
}

func TestLifetimeStatsRunningMean(t *testing.T) {
	store := newStubStore(candidate("rec-1", 31*24*time.Hour, map[string]interface{}{"n": 1}))
	e, _ := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	_, err := e.Run(context.Background(), "", "", false)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), "", "", false)
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 1, stats.BackupsCreated, "second run sees the record archived")
	assert.GreaterOrEqual(t, stats.AvgRunSeconds, 0.0)
}

func TestRestoreNeverArchived(t *testing.T) {
	store := newStubStore(candidate("rec-1", time.Hour, map[string]interface{}{"n": 1}))
	e, _ := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	_, err := e.Restore(context.Background(), "rec-1")
	assert.ErrorIs(t, err, ErrNotRestorable)

	_, err = e.Restore(context.Background(), "ghost")
	assert.ErrorIs(t, err, sourcestore.ErrRecordNotFound)
}

func TestRunCancelledContextCreatesNoTasks(t *testing.T) {
	store := newStubStore(
		candidate("rec-1", 31*24*time.Hour, map[string]interface{}{"n": 1}),
		candidate("rec-2", 31*24*time.Hour, map[string]interface{}{"n": 2}),
	)
	e, _ := newTestEngine(t, store, ageRule("age-30d", 1, 30))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := e.Run(ctx, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Planned)
	assert.Empty(t, store.archived)
}
