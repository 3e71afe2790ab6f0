package policy

import (
	"fmt"
	"time"

	"github.com/datalodge/record-archiver/pkg/compression"
	"github.com/datalodge/record-archiver/pkg/storage"
)

// TriggerType is the category of condition that makes a rule fire.
type TriggerType string

const (
	TriggerAgeBased   TriggerType = "age_based"
	TriggerSizeBased  TriggerType = "size_based"
	TriggerUsageBased TriggerType = "usage_based"
	TriggerManual     TriggerType = "manual"
)

// Condition carries the trigger-specific threshold for a rule. Only the
// field matching the rule's trigger is consulted.
type Condition struct {
	MaxAgeDays    int     `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	MaxSizeMB     float64 `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxUnusedDays int     `json:"max_unused_days,omitempty" yaml:"max_unused_days,omitempty"`
}

// Rule is one archival rule. Immutable after creation.
type Rule struct {
	ID            string           `json:"id" yaml:"id"`
	Name          string           `json:"name" yaml:"name"`
	Trigger       TriggerType      `json:"trigger" yaml:"trigger"`
	Condition     Condition        `json:"condition" yaml:"condition"`
	Target        storage.Location `json:"target" yaml:"target"`
	Compression   compression.Type `json:"compression" yaml:"compression"`
	RetentionDays int              `json:"retention_days" yaml:"retention_days"`
	Enabled       bool             `json:"enabled" yaml:"enabled"`
	Priority      int              `json:"priority" yaml:"priority"`
	LastApplied   *time.Time       `json:"last_applied,omitempty" yaml:"-"`
}

// Validate checks the rule invariants.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	if r.RetentionDays <= 0 {
		return fmt.Errorf("rule %s: retention_days must be positive", r.ID)
	}
	switch r.Trigger {
	case TriggerAgeBased, TriggerSizeBased, TriggerUsageBased, TriggerManual:
	default:
		return fmt.Errorf("rule %s: unknown trigger %q", r.ID, r.Trigger)
	}
	return nil
}

// Metadata is the candidate-record view a rule condition is evaluated
// against. Zero values mean the field is absent.
type Metadata struct {
	CreatedAt              time.Time
	LastAccessed           *time.Time
	DataSizeBytes          int64
	ManualArchiveRequested bool
}
