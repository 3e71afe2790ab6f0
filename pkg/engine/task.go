package engine

import (
	"fmt"
	"time"

	"github.com/datalodge/record-archiver/pkg/backup"
	"github.com/datalodge/record-archiver/pkg/policy"
	"github.com/datalodge/record-archiver/pkg/sourcestore"
)

// TaskState is the lifecycle state of an archival task:
// pending -> analyzing -> backing_up -> completed | failed | skipped.
// Terminal states are final; no retries happen within a run.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskAnalyzing TaskState = "analyzing"
	TaskBackingUp TaskState = "backing_up"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskSkipped   TaskState = "skipped"
)

// Task binds a candidate record, its matched rule and the resulting backup
// record. A task is owned by the engine goroutine executing it; once
// terminal it moves to the bounded history and is immutable.
type Task struct {
	ID         string                `json:"id"`
	Candidate  sourcestore.Candidate `json:"-"`
	RecordID   string                `json:"record_id"`
	Rule       policy.Rule           `json:"rule"`
	Backup     *backup.Record        `json:"backup,omitempty"`
	State      TaskState             `json:"state"`
	Error      string                `json:"error,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// newTaskID stays unique across repeated runs over the same record because
// of the timestamp component.
func newTaskID(recordID, ruleID string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%d", recordID, ruleID, ts.UnixNano())
}

// Summary aggregates the counters of one engine run.
// Succeeded + Failed + Skipped == Processed always holds.
type Summary struct {
	RunID           string  `json:"run_id"`
	CandidatesFound int     `json:"candidates_found"`
	Planned         int     `json:"planned"`
	Processed       int     `json:"processed"`
	Succeeded       int     `json:"succeeded"`
	Failed          int     `json:"failed"`
	Skipped         int     `json:"skipped"`
	OriginalMB      float64 `json:"original_mb"`
	CompressedMB    float64 `json:"compressed_mb"`
	AvgRatio        float64 `json:"avg_compression_ratio"`
	Seconds         float64 `json:"seconds"`
	DryRun          bool    `json:"dry_run"`
}

// LifetimeStats are engine-lifetime counters across runs. AvgRunSeconds is
// a running mean so the full run history need not be retained.
type LifetimeStats struct {
	Runs           int     `json:"runs"`
	ItemsProcessed int     `json:"items_processed"`
	BackupsCreated int     `json:"backups_created"`
	ArchivedMB     float64 `json:"archived_mb"`
	AvgRunSeconds  float64 `json:"avg_run_seconds"`
}
