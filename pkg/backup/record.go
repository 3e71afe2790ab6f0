package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/datalodge/record-archiver/pkg/compression"
	"github.com/datalodge/record-archiver/pkg/storage"
)

// Status is the lifecycle state of a backup record. Transitions are
// monotonic: pending -> in_progress -> completed | failed | corrupted.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCorrupted  Status = "corrupted"
)

const backupTimeLayout = "20060102_150405"

// Record describes one persisted backup artifact.
type Record struct {
	ID              string           `json:"id"`
	RecordID        string           `json:"record_id"`
	Provider        string           `json:"provider"`
	Endpoint        string           `json:"endpoint"`
	Location        storage.Location `json:"location"`
	Compression     compression.Type `json:"compression"`
	OriginalBytes   int64            `json:"original_bytes"`
	CompressedBytes int64            `json:"compressed_bytes"`
	// Ratio is the percentage reduction achieved by compression,
	// (1 - compressed/original) * 100, or 0 when the original is empty.
	Ratio       float64    `json:"compression_ratio"`
	Checksum    string     `json:"checksum"`
	Path        string     `json:"path"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// newBackupID builds a filesystem-safe backup identifier of the form
// {provider}_{endpoint}_{YYYYMMDD_HHMMSS}_{8-hex-hash}. The hash component
// keeps identifiers unique even when two backups of the same record share a
// wall-clock second.
func newBackupID(provider, endpoint, recordID string, ts time.Time) string {
	sum := sha256.Sum256([]byte(provider + endpoint + recordID + ts.Format(time.RFC3339Nano)))
	return fmt.Sprintf("%s_%s_%s_%s",
		sanitize(provider),
		sanitize(endpoint),
		ts.Format(backupTimeLayout),
		hex.EncodeToString(sum[:4]),
	)
}

// objectKey is the storage key of a backup artifact:
// {provider}/{YYYY}/{MM}/{backup_id}.json{ext}.
func objectKey(provider, backupID string, ts time.Time, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%s.json%s",
		sanitize(provider), ts.Format("2006"), ts.Format("01"), backupID, ext)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func ratio(original, compressed int64) float64 {
	if original == 0 {
		return 0
	}
	return (1 - float64(compressed)/float64(original)) * 100
}
