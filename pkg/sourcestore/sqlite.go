package sourcestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// RawResponse is the relational row shape of a raw API response.
type RawResponse struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Provider     string    `gorm:"index;size:128"`
	Endpoint     string    `gorm:"index;size:512"`
	CreatedAt    time.Time `gorm:"index"`
	LastAccessed *time.Time
	SizeBytes    int64
	PayloadJSON  string `gorm:"type:text"`
	// ManualArchive flags a record for the manual archival trigger.
	ManualArchive bool
	Archived      bool   `gorm:"index"`
	BackupID      string `gorm:"index;size:128"`
	ArchivedAt    *time.Time
}

// SQLite implements Store on a local SQLite database.
type SQLite struct {
	db *gorm.DB
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the SQLite store at path, retrying transient
// open failures with exponential backoff.
func Open(path string) (*SQLite, error) {
	var db *gorm.DB
	op := func() error {
		var err error
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("open source store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&RawResponse{}); err != nil {
		return nil, fmt.Errorf("migrate source store: %w", err)
	}
	return &SQLite{db: db}, nil
}

func toCandidate(row RawResponse) Candidate {
	var payload interface{}
	if row.PayloadJSON != "" {
		// Rows with unparseable payloads surface as payload-less candidates
		// and end up skipped, not failed.
		_ = json.Unmarshal([]byte(row.PayloadJSON), &payload)
	}
	return Candidate{
		ID:                     row.ID,
		Provider:               row.Provider,
		Endpoint:               row.Endpoint,
		CreatedAt:              row.CreatedAt,
		LastAccessed:           row.LastAccessed,
		SizeBytes:              row.SizeBytes,
		Payload:                payload,
		ManualArchiveRequested: row.ManualArchive,
		Archived:               row.Archived,
		BackupID:               row.BackupID,
		ArchivedAt:             row.ArchivedAt,
	}
}

func (s *SQLite) FindCandidates(ctx context.Context, provider, endpoint string) ([]Candidate, error) {
	q := s.db.WithContext(ctx).Model(&RawResponse{}).Where("archived = ?", false)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if endpoint != "" {
		q = q.Where("endpoint = ?", endpoint)
	}

	var rows []RawResponse
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCandidate(row))
	}
	return out, nil
}

func (s *SQLite) MarkArchived(ctx context.Context, recordID, backupID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&RawResponse{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"archived":    true,
			"backup_id":   backupID,
			"archived_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("mark archived %s: %w", recordID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark archived %s: %w", recordID, ErrRecordNotFound)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, recordID string) (*Candidate, error) {
	var row RawResponse
	err := s.db.WithContext(ctx).First(&row, "id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("record %s: %w", recordID, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", recordID, err)
	}
	c := toCandidate(row)
	return &c, nil
}

// Insert stores a raw response row, serializing the payload to JSON. Used
// for seeding and tests; production rows are written by the collector.
func (s *SQLite) Insert(ctx context.Context, c Candidate) error {
	raw, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", c.ID, err)
	}
	row := RawResponse{
		ID:            c.ID,
		Provider:      c.Provider,
		Endpoint:      c.Endpoint,
		CreatedAt:     c.CreatedAt,
		LastAccessed:  c.LastAccessed,
		SizeBytes:     c.SizeBytes,
		PayloadJSON:   string(raw),
		ManualArchive: c.ManualArchiveRequested,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert record %s: %w", c.ID, err)
	}
	return nil
}
