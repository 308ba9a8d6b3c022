// Package backup runs the backup and restore workflows against an appliance
// and the configured storage backends.
package backup

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"opnsensectl/internal/fault"
	"opnsensectl/internal/logging"
	"opnsensectl/internal/opnsense"
	"opnsensectl/internal/storage"
	"opnsensectl/internal/storage/local"
)

// Mirror is an offsite backend that receives a copy of every artifact, with
// the retention policy applied to it after each upload.
type Mirror struct {
	Backend   storage.Backend
	Retention storage.RetentionPolicy
}

// Orchestrator runs backup, restore and prune. It is not safe for
// concurrent use.
type Orchestrator struct {
	appliance opnsense.Appliance
	local     *local.Backend
	mirrors   []Mirror
	retention storage.RetentionPolicy
	log       *zap.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMirrors sets the offsite backends.
func WithMirrors(m ...Mirror) Option {
	return func(o *Orchestrator) { o.mirrors = append(o.mirrors, m...) }
}

// WithRetention sets the policy prune applies to the local directory.
func WithRetention(p storage.RetentionPolicy) Option {
	return func(o *Orchestrator) { o.retention = p }
}

// WithLogger injects the logger. A nil logger discards output.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNop(l) }
}

// WithClock overrides the clock used to name artifacts.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator writing artifacts into outputDir. appliance
// may be nil for operations that never talk to the appliance (prune).
func New(appliance opnsense.Appliance, outputDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		appliance: appliance,
		local:     local.New(outputDir),
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Backup asks the appliance for a fresh configuration export, downloads it
// and saves it as outputDir/config-<timestamp>.xml. It returns the saved
// path. Mirrors receive a copy afterwards; their failures are logged only.
func (o *Orchestrator) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(o.local.Dir(), 0o755); err != nil {
		o.log.Error("Failed to create backup directory", zap.String("dir", o.local.Dir()), zap.Error(err))
		return "", fault.LocalIO(errors.Wrapf(err, "create directory %s", o.local.Dir()), "check that the output directory is writable")
	}

	o.log.Info("Creating backup through OPNsense API...")
	res, err := o.appliance.CreateBackup(ctx)
	if err != nil {
		o.log.Error("Failed to create backup", zap.Error(err))
		return "", err
	}
	if !res.Truthy() {
		o.log.Error("Failed to create backup", zap.String("response", res.Pretty()))
		return "", fault.Remote(&fault.RemoteError{
			Endpoint:   opnsense.EndpointBackupCreate,
			StatusCode: res.StatusCode,
			Detail:     "empty response",
		})
	}

	remoteName := res.Field("filename")
	if remoteName == "" {
		o.log.Error("Backup filename not found in API response", zap.String("response", res.Pretty()))
		return "", fault.Remote(&fault.RemoteError{
			Endpoint:   opnsense.EndpointBackupCreate,
			StatusCode: res.StatusCode,
			Detail:     "response has no filename",
		})
	}

	o.log.Info("Downloading backup file", zap.String("file", remoteName))
	data, err := o.appliance.DownloadBackup(ctx, remoteName)
	if err != nil {
		o.log.Error("Error downloading backup", zap.String("file", remoteName), zap.Error(err))
		return "", err
	}

	fileName := storage.FormatBackupName(o.now())
	meta, err := o.local.Upload(ctx, fileName, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		o.log.Error("Error saving backup", zap.String("file", fileName), zap.Error(err))
		return "", err
	}
	o.logSummary(data)
	o.log.Info("Backup saved", zap.String("path", meta.Key), zap.Int64("bytes", meta.Size))

	o.mirror(ctx, fileName, data)
	return meta.Key, nil
}

func (o *Orchestrator) logSummary(data []byte) {
	summary, err := ParseConfigSummary(data)
	if err != nil {
		o.log.Warn("Saved artifact is not an OPNsense configuration document", zap.Error(err))
		return
	}
	o.log.Debug("Configuration exported",
		zap.String("host", summary.FQDN()),
		zap.String("version", summary.Version))
}

func (o *Orchestrator) mirror(ctx context.Context, fileName string, data []byte) {
	for _, m := range o.mirrors {
		meta, err := m.Backend.Upload(ctx, fileName, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			o.log.Warn("Failed to upload backup", zap.String("backend", m.Backend.Name()), zap.Error(err))
			continue
		}
		o.log.Info("Uploaded backup",
			zap.String("backend", m.Backend.Name()),
			zap.String("key", meta.Key),
			zap.Int64("bytes", meta.Size))

		deleted, err := storage.ApplyRetention(ctx, m.Backend, m.Retention, o.log)
		if err != nil {
			o.log.Warn("Retention cleanup failed", zap.String("backend", m.Backend.Name()), zap.Error(err))
		} else if deleted > 0 {
			o.log.Info("Cleaned up old backups", zap.String("backend", m.Backend.Name()), zap.Int("deleted", deleted))
		}
	}
}

// RestoreFile uploads a local configuration file to the appliance. A missing
// or non-regular file fails before any request is made. On success the
// appliance reboots to apply the configuration; RestoreFile does not wait
// for it.
func (o *Orchestrator) RestoreFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		o.log.Error("Configuration file not found", zap.String("path", path), zap.Error(err))
		return fault.LocalIO(errors.Wrapf(err, "open %s", path), "pass an existing backup file or run list")
	}
	defer f.Close()

	info, err := f.Stat()
	if err == nil && !info.Mode().IsRegular() {
		err = errors.Newf("%s is not a regular file", path)
	}
	if err != nil {
		o.log.Error("Configuration file not readable", zap.String("path", path), zap.Error(err))
		return fault.LocalIO(errors.Wrapf(err, "stat %s", path), "pass a backup file, not a directory")
	}

	o.log.Info("Restoring configuration", zap.String("path", path))
	return o.restore(ctx, filepath.Base(path), f)
}

// RestoreFrom downloads key from backend and restores it.
func (o *Orchestrator) RestoreFrom(ctx context.Context, backend storage.Backend, key string) error {
	o.log.Info("Downloading backup", zap.String("backend", backend.Name()), zap.String("key", key))
	rc, meta, err := backend.Download(ctx, key)
	if err != nil {
		o.log.Error("Failed to download backup", zap.String("backend", backend.Name()), zap.String("key", key), zap.Error(err))
		return err
	}
	defer rc.Close()

	o.log.Info("Restoring configuration", zap.String("backend", backend.Name()), zap.String("file", meta.FileName))
	return o.restore(ctx, meta.FileName, rc)
}

func (o *Orchestrator) restore(ctx context.Context, fileName string, r io.Reader) error {
	res, err := o.appliance.RestoreBackup(ctx, fileName, r)
	if err != nil {
		o.log.Error("Failed to restore configuration", zap.String("file", fileName), zap.Error(err))
		return err
	}
	if !res.Truthy() {
		o.log.Error("Failed to restore configuration", zap.String("file", fileName), zap.String("response", res.Pretty()))
		return fault.Remote(&fault.RemoteError{
			Endpoint:   opnsense.EndpointBackupRestore,
			StatusCode: res.StatusCode,
			Detail:     "restore not acknowledged",
		})
	}

	o.log.Info("Successfully initiated configuration restore", zap.String("file", fileName))
	o.log.Info("OPNsense will reboot to apply the configuration")
	return nil
}

// Prune applies the local retention policy to the output directory and each
// mirror's policy to the mirror. It returns the total number of artifacts
// deleted; failures on one backend do not stop the others.
func (o *Orchestrator) Prune(ctx context.Context) (int, error) {
	targets := append([]Mirror{{Backend: o.local, Retention: o.retention}}, o.mirrors...)

	var total int
	var errs error
	for _, t := range targets {
		if t.Retention.IsZero() {
			o.log.Debug("No retention policy, skipping", zap.String("backend", t.Backend.Name()))
			continue
		}
		deleted, err := storage.ApplyRetention(ctx, t.Backend, t.Retention, o.log)
		if err != nil {
			o.log.Error("Retention cleanup failed", zap.String("backend", t.Backend.Name()), zap.Error(err))
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "prune %s", t.Backend.Name()))
			continue
		}
		o.log.Info("Pruned backups", zap.String("backend", t.Backend.Name()), zap.Int("deleted", deleted))
		total += deleted
	}
	return total, errs
}
