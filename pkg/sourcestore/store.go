package sourcestore

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound indicates an unknown source record identifier.
var ErrRecordNotFound = errors.New("source record not found")

// Candidate is one raw API-response row the archival engine may archive.
// Payload arrives already deserialized.
type Candidate struct {
	ID                     string
	Provider               string
	Endpoint               string
	CreatedAt              time.Time
	LastAccessed           *time.Time
	SizeBytes              int64
	Payload                interface{}
	ManualArchiveRequested bool

	Archived   bool
	BackupID   string
	ArchivedAt *time.Time
}

// Store is the query/write-back contract the archival engine consumes.
type Store interface {
	// FindCandidates returns unarchived rows matching the optional provider
	// and endpoint filters, ascending by creation time.
	FindCandidates(ctx context.Context, provider, endpoint string) ([]Candidate, error)

	// MarkArchived marks a record archived, stamping it with the backup
	// identifier. Repeated calls with the same backup id are safe.
	MarkArchived(ctx context.Context, recordID, backupID string, at time.Time) error

	// Get returns one record by identifier, archived or not.
	Get(ctx context.Context, recordID string) (*Candidate, error)
}
