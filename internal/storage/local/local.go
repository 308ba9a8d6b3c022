// Package local stores configuration artifacts in a flat directory.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"opnsensectl/internal/fault"
	"opnsensectl/internal/storage"
)

var _ storage.Backend = (*Backend)(nil)

// Backend stores artifacts as <dir>/<fileName>.
type Backend struct {
	dir  string
	name string
}

// New creates a local backend rooted at dir. The directory is created on
// the first upload.
func New(dir string) *Backend {
	return &Backend{dir: dir}
}

func (b *Backend) Type() string { return "local" }

func (b *Backend) Name() string {
	if b.name != "" {
		return b.name
	}
	return b.Type()
}

func (b *Backend) SetName(name string) { b.name = name }

// Dir returns the directory the backend writes into.
func (b *Backend) Dir() string { return b.dir }

// Path returns the full path of fileName inside the backend directory.
func (b *Backend) Path(fileName string) string {
	return filepath.Join(b.dir, fileName)
}

// Upload writes data to <dir>/<fileName>, creating dir when missing. A
// partially written file is removed when the copy fails.
func (b *Backend) Upload(ctx context.Context, fileName string, data io.Reader, size int64) (*storage.BackupMetadata, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fault.LocalIO(errors.Wrapf(err, "create directory %s", b.dir), "check that the output directory is writable")
	}

	path := b.Path(fileName)
	file, err := os.Create(path)
	if err != nil {
		return nil, fault.LocalIO(errors.Wrapf(err, "create file %s", path), "")
	}

	written, err := io.Copy(file, data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fault.LocalIO(errors.Wrapf(err, "write %s", path), "")
	}

	created, _ := storage.ParseBackupName(fileName)
	return &storage.BackupMetadata{
		Key:       path,
		FileName:  fileName,
		Size:      written,
		CreatedAt: created,
	}, nil
}

// Download opens an artifact by key. A key without a directory part is
// resolved inside the backend directory.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, *storage.BackupMetadata, error) {
	path := b.resolve(key)
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fault.LocalIO(errors.Wrapf(err, "open %s", path), "check the backup file path")
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fault.LocalIO(errors.Wrapf(err, "stat %s", path), "")
	}

	name := filepath.Base(path)
	created, _ := storage.ParseBackupName(name)
	return file, &storage.BackupMetadata{
		Key:       path,
		FileName:  name,
		Size:      info.Size(),
		CreatedAt: created,
	}, nil
}

// List returns the config-*.xml files directly inside the directory, newest
// first. A missing directory yields an error wrapping fs.ErrNotExist.
func (b *Backend) List(ctx context.Context) ([]storage.BackupMetadata, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.LocalIO(errors.Wrapf(err, "backup directory %s", b.dir), "run a backup first or pass --output-dir")
		}
		return nil, fault.LocalIO(errors.Wrapf(err, "list directory %s", b.dir), "")
	}

	var backups []storage.BackupMetadata
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !storage.IsBackupName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		created, _ := storage.ParseBackupName(entry.Name())
		backups = append(backups, storage.BackupMetadata{
			Key:       b.Path(entry.Name()),
			FileName:  entry.Name(),
			Size:      info.Size(),
			CreatedAt: created,
		})
	}

	storage.SortNewestFirst(backups)
	return backups, nil
}

// Delete removes an artifact by key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	path := b.resolve(key)
	if err := os.Remove(path); err != nil {
		return fault.LocalIO(errors.Wrapf(err, "delete %s", path), "")
	}
	return nil
}

func (b *Backend) resolve(key string) string {
	if filepath.Base(key) == key {
		return b.Path(key)
	}
	return key
}
