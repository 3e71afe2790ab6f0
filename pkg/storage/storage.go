package storage

import "errors"

// Location is the kind of storage tier a backup is written to.
type Location string

const (
	LocationLocalDisk   Location = "local_disk"
	LocationS3          Location = "s3"
	LocationDistributed Location = "distributed"
)

// ErrUnsupportedTarget is returned when a backup targets a storage tier
// that has no working implementation. Callers must treat it as a declared
// failure, never as a silent fallback to local disk.
var ErrUnsupportedTarget = errors.New("storage target not implemented")

// ParseLocation parses a storage location from its config representation.
func ParseLocation(s string) (Location, error) {
	switch Location(s) {
	case LocationLocalDisk, LocationS3, LocationDistributed:
		return Location(s), nil
	case "":
		return LocationLocalDisk, nil
	default:
		return "", errors.New("unknown storage location " + s)
	}
}

// A Backend stores backup artifacts under relative keys.
type Backend interface {
	// PutObject stores data under key, creating parent directories as needed.
	PutObject(key string, data []byte) error

	// GetObject reads back the object stored under key.
	GetObject(key string) ([]byte, error)

	// DeleteObject removes the object stored under key.
	DeleteObject(key string) error
}
