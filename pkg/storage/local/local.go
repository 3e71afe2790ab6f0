package local

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/datalodge/record-archiver/pkg/storage"
)

// Disk stores backup artifacts on the local filesystem under a base path.
type Disk struct {
	base string
}

var _ storage.Backend = (*Disk)(nil)

// New returns a local-disk backend rooted at base.
func New(base string) (*Disk, error) {
	if base == "" {
		return nil, fmt.Errorf("local backend: empty base path")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	return &Disk{base: base}, nil
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.base, filepath.FromSlash(key))
}

// PutObject writes to a temp file in the target directory and renames it
// into place so that a partial write is never visible under the final key.
func (d *Disk) PutObject(key string, data []byte) error {
	dst := d.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (d *Disk) GetObject(key string) ([]byte, error) {
	return os.ReadFile(d.path(key))
}

func (d *Disk) DeleteObject(key string) error {
	return os.Remove(d.path(key))
}
