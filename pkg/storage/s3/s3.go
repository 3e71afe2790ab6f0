package s3

import (
	"fmt"

	"github.com/datalodge/record-archiver/pkg/storage"
)

// Config holds the reserved cloud storage parameters. They are accepted by
// the configuration surface but no working S3 backend exists yet.
type Config struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
}

// Backend is a placeholder for the S3 storage tier. Every operation fails
// with storage.ErrUnsupportedTarget so that callers see a loud, declared
// failure instead of a silent no-op.
type Backend struct {
	cfg Config
}

var _ storage.Backend = (*Backend)(nil)

func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

func (b *Backend) PutObject(key string, data []byte) error {
	return fmt.Errorf("s3 put %q: %w", key, storage.ErrUnsupportedTarget)
}

func (b *Backend) GetObject(key string) ([]byte, error) {
	return nil, fmt.Errorf("s3 get %q: %w", key, storage.ErrUnsupportedTarget)
}

func (b *Backend) DeleteObject(key string) error {
	return fmt.Errorf("s3 delete %q: %w", key, storage.ErrUnsupportedTarget)
}
