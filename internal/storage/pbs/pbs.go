// Package pbs mirrors configuration artifacts to a Proxmox Backup Server
// through the proxmox-backup-client CLI.
package pbs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"opnsensectl/internal/fault"
	"opnsensectl/internal/storage"
)

const (
	clientBinary = "proxmox-backup-client"
	// archiveName is the blob each snapshot carries. PBS appends ".blob".
	archiveName = "config.conf"
	// DefaultBackupID groups the snapshots of one firewall.
	DefaultBackupID = "opnsense"
)

var _ storage.Backend = (*Backend)(nil)

// Config holds the settings for a Proxmox Backup Server backend.
type Config struct {
	Server      string `yaml:"server"`
	Port        int    `yaml:"port"` // default 8007
	Datastore   string `yaml:"datastore"`
	Namespace   string `yaml:"namespace"`
	Username    string `yaml:"username"` // e.g. "backup@pbs" or "user@pbs!token"
	Password    string `yaml:"password"` // password or API token secret
	Fingerprint string `yaml:"fingerprint"`
	BackupID    string `yaml:"backupId"`
}

// runner executes proxmox-backup-client with args and the given extra
// environment.
type runner func(ctx context.Context, env []string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, env []string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, clientBinary, args...)
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Backend stores each artifact as a host/<backupID>/<time> snapshot holding
// one blob archive.
type Backend struct {
	repository  string
	namespace   string
	password    string
	fingerprint string
	backupID    string
	name        string
	run         runner
}

// New creates a PBS backend. It fails when proxmox-backup-client is not on
// PATH.
func New(cfg Config) (*Backend, error) {
	if _, err := exec.LookPath(clientBinary); err != nil {
		return nil, fault.Configuration(errors.Wrap(err, "pbs: "+clientBinary+" not found"), "install the Proxmox Backup client")
	}
	return newBackend(cfg, execRunner)
}

func newBackend(cfg Config, run runner) (*Backend, error) {
	if cfg.Server == "" {
		return nil, fault.Configurationf("pbs: server is required")
	}
	if cfg.Datastore == "" {
		return nil, fault.Configurationf("pbs: datastore is required")
	}
	id := cfg.BackupID
	if id == "" {
		id = DefaultBackupID
	}
	return &Backend{
		repository:  buildRepository(cfg.Username, cfg.Server, cfg.Port, cfg.Datastore),
		namespace:   cfg.Namespace,
		password:    cfg.Password,
		fingerprint: cfg.Fingerprint,
		backupID:    id,
		run:         run,
	}, nil
}

func (b *Backend) Type() string { return "pbs" }

func (b *Backend) Name() string {
	if b.name != "" {
		return b.name
	}
	return b.Type()
}

func (b *Backend) SetName(name string) { b.name = name }

// env keeps the client from prompting.
func (b *Backend) env() []string {
	var env []string
	if b.password != "" {
		env = append(env, "PBS_PASSWORD="+b.password)
	}
	if b.fingerprint != "" {
		env = append(env, "PBS_FINGERPRINT="+b.fingerprint)
	}
	return env
}

func (b *Backend) baseArgs() []string {
	args := []string{"--repository", b.repository}
	if b.namespace != "" {
		args = append(args, "--ns", b.namespace)
	}
	return args
}

func (b *Backend) exec(ctx context.Context, what string, args ...string) ([]byte, []byte, error) {
	stdout, stderr, err := b.run(ctx, b.env(), append(args, b.baseArgs()...)...)
	if err != nil {
		return nil, nil, fault.Connectivity(
			errors.Wrapf(err, "pbs: %s: %s", what, strings.TrimSpace(string(stderr))),
			"check the PBS repository, credentials and fingerprint")
	}
	return stdout, stderr, nil
}

// Upload writes data to a temporary file and backs it up as a new snapshot.
// The snapshot time is set from the artifact name so both agree.
func (b *Backend) Upload(ctx context.Context, fileName string, data io.Reader, size int64) (*storage.BackupMetadata, error) {
	tmp, err := os.CreateTemp("", "opnsense-pbs-*.xml")
	if err != nil {
		return nil, fault.LocalIO(errors.Wrap(err, "pbs: create temp file"), "")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmp, data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fault.LocalIO(errors.Wrap(err, "pbs: write temp file"), "")
	}

	args := []string{"backup", fmt.Sprintf("%s:%s", archiveName, tmpPath), "--backup-id", b.backupID}
	created, dated := storage.ParseBackupName(fileName)
	if dated {
		args = append(args, "--backup-time", fmt.Sprint(created.Unix()))
	}
	stdout, stderr, err := b.exec(ctx, "backup", args...)
	if err != nil {
		return nil, err
	}

	snapshot := parseSnapshotFromOutput(string(stdout)+"\n"+string(stderr), b.backupID)
	if snapshot == "" {
		if !dated {
			created = time.Now()
		}
		snapshot = snapshotKey(b.backupID, created)
	}

	return &storage.BackupMetadata{
		Key:       snapshot,
		FileName:  fileName,
		Size:      written,
		CreatedAt: created,
	}, nil
}

// Download restores the snapshot's archive into a temporary file. The file
// is removed when the reader is closed.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, *storage.BackupMetadata, error) {
	key = b.resolve(key)
	tmp, err := os.CreateTemp("", "opnsense-pbs-restore-*.xml")
	if err != nil {
		return nil, nil, fault.LocalIO(errors.Wrap(err, "pbs: create temp file"), "")
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if _, _, err := b.exec(ctx, "restore "+key, "restore", key, archiveName, tmpPath); err != nil {
		os.Remove(tmpPath)
		return nil, nil, err
	}

	file, err := os.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, nil, fault.LocalIO(errors.Wrap(err, "pbs: open restored file"), "")
	}
	var size int64
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	_, ts := parseSnapshotKey(key)
	meta := &storage.BackupMetadata{Key: key, Size: size}
	if !ts.IsZero() {
		meta.CreatedAt = ts.Local()
		meta.FileName = storage.FormatBackupName(meta.CreatedAt)
	}
	return &tempFileReader{file: file, path: tmpPath}, meta, nil
}

// List returns the host/<backupID> snapshots, newest first.
func (b *Backend) List(ctx context.Context) ([]storage.BackupMetadata, error) {
	output, _, err := b.exec(ctx, "list snapshots", "snapshot", "list", "--output-format", "json")
	if err != nil {
		return nil, err
	}

	var snapshots []snapshotInfo
	if err := json.Unmarshal(output, &snapshots); err != nil {
		return nil, errors.Wrap(err, "pbs: parse snapshot list")
	}

	var backups []storage.BackupMetadata
	for _, snap := range snapshots {
		if snap.BackupType != "host" || snap.BackupID != b.backupID {
			continue
		}
		ts := time.Unix(snap.BackupTime, 0).Local()
		meta := storage.BackupMetadata{
			Key:       snapshotKey(snap.BackupID, ts),
			FileName:  storage.FormatBackupName(ts),
			CreatedAt: ts,
		}
		if snap.Size != nil {
			meta.Size = *snap.Size
		}
		backups = append(backups, meta)
	}

	storage.SortNewestFirst(backups)
	return backups, nil
}

// Delete forgets a snapshot.
func (b *Backend) Delete(ctx context.Context, key string) error {
	key = b.resolve(key)
	_, _, err := b.exec(ctx, "forget "+key, "snapshot", "forget", key)
	return err
}

// resolve accepts an artifact name in place of a snapshot path.
func (b *Backend) resolve(key string) string {
	if t, ok := storage.ParseBackupName(key); ok {
		return snapshotKey(b.backupID, t)
	}
	return key
}

type snapshotInfo struct {
	BackupType string `json:"backup-type"`
	BackupID   string `json:"backup-id"`
	BackupTime int64  `json:"backup-time"`
	Size       *int64 `json:"size"`
}

// tempFileReader removes its file on Close.
type tempFileReader struct {
	file *os.File
	path string
}

func (r *tempFileReader) Read(p []byte) (int, error) {
	return r.file.Read(p)
}

func (r *tempFileReader) Close() error {
	err := r.file.Close()
	os.Remove(r.path)
	return err
}

func snapshotKey(backupID string, t time.Time) string {
	return fmt.Sprintf("host/%s/%s", backupID, t.UTC().Format(time.RFC3339))
}

// parseSnapshotFromOutput finds "Starting backup: host/<id>/<time>" in the
// client output.
func parseSnapshotFromOutput(output, backupID string) string {
	const prefix = "Starting backup: "
	target := "host/" + backupID + "/"
	for _, line := range strings.Split(output, "\n") {
		if idx := strings.Index(line, prefix); idx >= 0 {
			snapshot := strings.TrimSpace(line[idx+len(prefix):])
			if strings.HasPrefix(snapshot, target) {
				return snapshot
			}
		}
	}
	return ""
}

// parseSnapshotKey splits host/<id>/<RFC3339 time>.
func parseSnapshotKey(key string) (backupID string, backupTime time.Time) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		return "", time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, parts[2])
	return parts[1], t
}

// buildRepository renders user@server:port:datastore.
func buildRepository(username, server string, port int, datastore string) string {
	if username == "" {
		username = "root@pam"
	}
	if port == 0 {
		port = 8007
	}
	return fmt.Sprintf("%s@%s:%d:%s", username, server, port, datastore)
}
