package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/datalodge/record-archiver/pkg/compression"
	"github.com/datalodge/record-archiver/pkg/policy"
	"github.com/datalodge/record-archiver/pkg/storage"
	"github.com/datalodge/record-archiver/pkg/storage/local"
	"github.com/datalodge/record-archiver/pkg/storage/s3"
)

var (
	// ErrNotFound indicates an unknown backup identifier.
	ErrNotFound = errors.New("backup not found")

	// ErrIntegrity indicates a checksum mismatch between the stored backup
	// and its recorded checksum.
	ErrIntegrity = errors.New("backup integrity check failed")

	// ErrSerialization indicates a payload that cannot be represented as
	// canonical JSON.
	ErrSerialization = errors.New("payload serialization failed")
)

// Config holds the recognized backup manager options.
type Config struct {
	BasePath         string `json:"base_path" yaml:"base_path"`
	MaxConcurrent    int64  `json:"max_concurrent" yaml:"max_concurrent"`
	VerifyIntegrity  bool   `json:"verify_integrity" yaml:"verify_integrity"`
	CleanupAfterDays int    `json:"cleanup_after_days" yaml:"cleanup_after_days"`
	CompressionLevel int    `json:"compression_level" yaml:"compression_level"`
	// Deduplicate is recorded for the configuration surface but backups are
	// written whole, one artifact per record.
	Deduplicate bool `json:"deduplicate" yaml:"deduplicate"`
	// Cloud parameters are reserved; no cloud tier is implemented.
	Cloud s3.Config `json:"cloud" yaml:"cloud"`
}

// Manager persists, verifies, restores and purges backup artifacts. The
// number of in-flight physical writes is bounded by Config.MaxConcurrent.
type Manager struct {
	cfg   Config
	disk  storage.Backend
	cloud storage.Backend
	sem   *semaphore.Weighted

	mu      sync.RWMutex
	records map[string]*Record

	logger *zap.Logger
	now    func() time.Time
}

// Option provides mechanism to configure Manager.
type Option func(m *Manager) error

// WithLogger sets the logger for Manager.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		m.now = now
		return nil
	}
}

// WithBackend overrides the local storage backend, used in tests.
func WithBackend(b storage.Backend) Option {
	return func(m *Manager) error {
		if b == nil {
			return errors.New("nil storage backend")
		}
		m.disk = b
		return nil
	}
}

// NewManager creates a Manager with given config and options.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	m := &Manager{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		records: make(map[string]*Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		m.logger = l
	}
	if m.disk == nil {
		d, err := local.New(cfg.BasePath)
		if err != nil {
			return nil, err
		}
		m.disk = d
	}
	m.cloud = s3.New(cfg.Cloud)
	return m, nil
}

func (m *Manager) backendFor(loc storage.Location) (storage.Backend, error) {
	switch loc {
	case storage.LocationLocalDisk:
		return m.disk, nil
	case storage.LocationS3:
		return m.cloud, nil
	default:
		return nil, fmt.Errorf("location %q: %w", loc, storage.ErrUnsupportedTarget)
	}
}

// Backup serializes, compresses, checksums and persists one record payload
// under the matched rule. It always returns a Record; any failure is
// captured on the record's status and error message so that one failure
// cannot abort a batch caller.
func (m *Manager) Backup(ctx context.Context, recordID, provider, endpoint string, payload interface{}, rule policy.Rule) *Record {
	now := m.now()
	rec := &Record{
		ID:          newBackupID(provider, endpoint, recordID, now),
		RecordID:    recordID,
		Provider:    provider,
		Endpoint:    endpoint,
		Location:    rule.Target,
		Compression: rule.Compression,
		Status:      StatusPending,
		CreatedAt:   now,
	}
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.fail(rec, fmt.Errorf("acquire backup slot: %w", err))
		return rec
	}
	defer m.sem.Release(1)

	m.setStatus(rec, StatusInProgress)

	raw, err := json.Marshal(payload)
	if err != nil {
		m.fail(rec, fmt.Errorf("%w: %v", ErrSerialization, err))
		return rec
	}

	codec, err := compression.NewCodec(rule.Compression, m.cfg.CompressionLevel)
	if err != nil {
		m.fail(rec, err)
		return rec
	}
	compressed, err := codec.Compress(raw)
	if err != nil {
		m.fail(rec, fmt.Errorf("compress: %w", err))
		return rec
	}

	rec.OriginalBytes = int64(len(raw))
	rec.CompressedBytes = int64(len(compressed))
	rec.Ratio = ratio(rec.OriginalBytes, rec.CompressedBytes)
	rec.Checksum = checksum(compressed)
	rec.Path = objectKey(provider, rec.ID, now, codec.Ext())

	backend, err := m.backendFor(rule.Target)
	if err != nil {
		m.fail(rec, err)
		return rec
	}
	if err := backend.PutObject(rec.Path, compressed); err != nil {
		m.fail(rec, fmt.Errorf("write backup: %w", err))
		return rec
	}

	if m.cfg.VerifyIntegrity {
		written, err := backend.GetObject(rec.Path)
		if err != nil {
			m.fail(rec, fmt.Errorf("verify read: %w", err))
			return rec
		}
		if checksum(written) != rec.Checksum {
			m.corrupt(rec, "post-write checksum mismatch")
			return rec
		}
	}

	m.complete(rec)
	m.logger.Debug("backup completed",
		zap.String("backup_id", rec.ID),
		zap.Int64("original_bytes", rec.OriginalBytes),
		zap.Int64("compressed_bytes", rec.CompressedBytes),
		zap.Float64("ratio", rec.Ratio),
	)
	return rec
}

// Restore reads back a backup, verifies its checksum and returns the
// decompressed payload. A checksum mismatch returns ErrIntegrity rather
// than altered data.
func (m *Manager) Restore(ctx context.Context, backupID string) (interface{}, error) {
	rec, ok := m.Get(backupID)
	if !ok {
		return nil, fmt.Errorf("backup %s: %w", backupID, ErrNotFound)
	}

	backend, err := m.backendFor(rec.Location)
	if err != nil {
		return nil, err
	}
	compressed, err := backend.GetObject(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("read backup %s: %w", backupID, err)
	}
	if checksum(compressed) != rec.Checksum {
		m.logger.Error("restore checksum mismatch",
			zap.String("backup_id", backupID), zap.String("path", rec.Path))
		return nil, fmt.Errorf("backup %s: %w", backupID, ErrIntegrity)
	}

	codec, err := compression.NewCodec(rec.Compression, m.cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	raw, err := codec.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress backup %s: %w", backupID, err)
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("backup %s: %w: %v", backupID, ErrSerialization, err)
	}
	return payload, nil
}

// Cleanup deletes backup files and records older than the cutoff and
// returns how many records were removed. Filesystem errors on individual
// files are logged and skipped.
func (m *Manager) Cleanup(olderThanDays int) int {
	cutoff := m.now().AddDate(0, 0, -olderThanDays)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		backend, err := m.backendFor(rec.Location)
		if err == nil {
			err = backend.DeleteObject(rec.Path)
		}
		if err != nil {
			m.logger.Warn("cleanup skipped backup",
				zap.String("backup_id", id), zap.Error(err))
			continue
		}
		delete(m.records, id)
		removed++
	}
	return removed
}

// Get returns the backup record with the given identifier.
func (m *Manager) Get(backupID string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[backupID]
	return rec, ok
}

// Find filters backup records by provider, endpoint and status. Empty
// filter values match everything. Results are sorted newest first.
func (m *Manager) Find(provider, endpoint string, status Status) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, rec := range m.records {
		if provider != "" && rec.Provider != provider {
			continue
		}
		if endpoint != "" && rec.Endpoint != endpoint {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stats is a read-only aggregation over the backup records.
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"by_status"`
	OriginalBytes   int64          `json:"original_bytes"`
	CompressedBytes int64          `json:"compressed_bytes"`
	AvgRatio        float64        `json:"avg_ratio"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{ByStatus: map[Status]int{}}
	var ratioSum float64
	var completed int
	for _, rec := range m.records {
		s.Total++
		s.ByStatus[rec.Status]++
		if rec.Status == StatusCompleted {
			s.OriginalBytes += rec.OriginalBytes
			s.CompressedBytes += rec.CompressedBytes
			ratioSum += rec.Ratio
			completed++
		}
	}
	if completed > 0 {
		s.AvgRatio = ratioSum / float64(completed)
	}
	return s
}

func (m *Manager) setStatus(rec *Record, st Status) {
	m.mu.Lock()
	rec.Status = st
	m.mu.Unlock()
}

func (m *Manager) complete(rec *Record) {
	done := m.now()
	m.mu.Lock()
	rec.Status = StatusCompleted
	rec.CompletedAt = &done
	m.mu.Unlock()
}

func (m *Manager) fail(rec *Record, err error) {
	done := m.now()
	m.mu.Lock()
	rec.Status = StatusFailed
	rec.Error = err.Error()
	rec.CompletedAt = &done
	m.mu.Unlock()
	m.logger.Warn("backup failed", zap.String("backup_id", rec.ID), zap.Error(err))
}

func (m *Manager) corrupt(rec *Record, msg string) {
	done := m.now()
	m.mu.Lock()
	rec.Status = StatusCorrupted
	rec.Error = msg
	rec.CompletedAt = &done
	m.mu.Unlock()
	m.logger.Error("backup corrupted", zap.String("backup_id", rec.ID), zap.String("reason", msg))
}
