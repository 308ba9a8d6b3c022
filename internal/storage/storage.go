// Package storage defines where configuration artifacts live and how they
// are named.
package storage

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"
)

// TimestampLayout is the fixed-width timestamp embedded in artifact names.
// Lexical order of names equals chronological order because of it.
const TimestampLayout = "20060102150405"

const (
	namePrefix = "config-"
	nameSuffix = ".xml"
)

// BackupMetadata describes a single artifact stored in a backend.
type BackupMetadata struct {
	// Key is the unique identifier within the backend (path or object key).
	Key string
	// FileName is the artifact name, e.g. "config-20240101000000.xml".
	FileName string
	// Size is the artifact size in bytes.
	Size int64
	// CreatedAt is parsed from FileName; zero when the name has no valid
	// timestamp.
	CreatedAt time.Time
}

// Backend is the interface every storage provider implements.
type Backend interface {
	// Type returns the backend type identifier (e.g. "s3", "local").
	Type() string
	// Name returns a display name for this backend instance. Defaults to
	// Type() but can be overridden in config.
	Name() string
	// SetName overrides the display name returned by Name().
	SetName(name string)
	// Upload stores an artifact and returns metadata for the stored object.
	Upload(ctx context.Context, fileName string, data io.Reader, size int64) (*BackupMetadata, error)
	// Download retrieves an artifact by key. Caller must close the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, *BackupMetadata, error)
	// List returns all artifacts, newest first.
	List(ctx context.Context) ([]BackupMetadata, error)
	// Delete removes an artifact by key.
	Delete(ctx context.Context, key string) error
}

// FormatBackupName builds the artifact name for t:
// config-<YYYYMMDDHHMMSS>.xml, in t's location.
func FormatBackupName(t time.Time) string {
	return namePrefix + t.Format(TimestampLayout) + nameSuffix
}

// IsBackupName reports whether name follows the config-*.xml convention.
func IsBackupName(name string) bool {
	return len(name) >= len(namePrefix)+len(nameSuffix) &&
		strings.HasPrefix(name, namePrefix) &&
		strings.HasSuffix(name, nameSuffix)
}

// ParseBackupName extracts the embedded timestamp, interpreted in local
// time like the clock that produced it.
func ParseBackupName(name string) (time.Time, bool) {
	if !IsBackupName(name) {
		return time.Time{}, false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	t, err := time.ParseInLocation(TimestampLayout, ts, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SortNewestFirst orders artifacts by file name, descending.
func SortNewestFirst(backups []BackupMetadata) {
	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].FileName > backups[j].FileName
	})
}
