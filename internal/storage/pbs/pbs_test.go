package pbs

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opnsensectl/internal/fault"
	"opnsensectl/internal/storage"
)

type call struct {
	env  []string
	args []string
}

type fakeClient struct {
	calls  []call
	stdout string
	stderr string
	err    error
	// onRun sees the arguments before the fake answers.
	onRun func(args []string)
}

func (f *fakeClient) run(_ context.Context, env []string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{env: env, args: args})
	if f.onRun != nil {
		f.onRun(args)
	}
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func newTestBackend(t *testing.T, cfg Config, client *fakeClient) *Backend {
	t.Helper()
	if cfg.Server == "" {
		cfg.Server = "pbs.local"
	}
	if cfg.Datastore == "" {
		cfg.Datastore = "store1"
	}
	b, err := newBackend(cfg, client.run)
	require.NoError(t, err)
	return b
}

func TestBuildRepository(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		server    string
		port      int
		datastore string
		want      string
	}{
		{"full config", "backup@pbs", "pbs.example.com", 8007, "store1", "backup@pbs@pbs.example.com:8007:store1"},
		{"api token", "user@pbs!token", "192.168.1.10", 9007, "backups", "user@pbs!token@192.168.1.10:9007:backups"},
		{"default username", "", "pbs.local", 8007, "data", "root@pam@pbs.local:8007:data"},
		{"default port", "admin@pam", "pbs.local", 0, "data", "admin@pam@pbs.local:8007:data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildRepository(tt.username, tt.server, tt.port, tt.datastore))
		})
	}
}

func TestParseSnapshotFromOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		id     string
		want   string
	}{
		{
			name: "standard output",
			output: `Starting backup protocol (zstd)
Starting backup: host/opnsense/2026-02-06T12:00:00Z
Upload statistics: 52 KiB`,
			id:   "opnsense",
			want: "host/opnsense/2026-02-06T12:00:00Z",
		},
		{"other backup id", "Starting backup: host/fw2/2026-02-06T12:00:00Z\n", "opnsense", ""},
		{"no starting line", "Upload complete\nDuration: 1s", "opnsense", ""},
		{"empty", "", "opnsense", ""},
		{"surrounding whitespace", "  Starting backup: host/opnsense/2026-02-06T12:00:00Z  \n", "opnsense", "host/opnsense/2026-02-06T12:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSnapshotFromOutput(tt.output, tt.id))
		})
	}
}

func TestParseSnapshotKey(t *testing.T) {
	id, ts := parseSnapshotKey("host/opnsense/2025-12-31T23:59:59Z")
	assert.Equal(t, "opnsense", id)
	assert.True(t, ts.Equal(time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)))

	id, ts = parseSnapshotKey("host/opnsense/not-a-time")
	assert.Equal(t, "opnsense", id)
	assert.True(t, ts.IsZero())

	id, ts = parseSnapshotKey("host/opnsense")
	assert.Empty(t, id)
	assert.True(t, ts.IsZero())
}

func TestNewValidation(t *testing.T) {
	client := &fakeClient{}
	_, err := newBackend(Config{Datastore: "store1"}, client.run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is required")
	assert.Equal(t, fault.KindConfiguration, fault.KindOf(err))

	_, err = newBackend(Config{Server: "pbs.local"}, client.run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "datastore is required")
}

func TestNameAndDefaults(t *testing.T) {
	b := newTestBackend(t, Config{}, &fakeClient{})
	assert.Equal(t, "pbs", b.Type())
	assert.Equal(t, "pbs", b.Name())
	assert.Equal(t, DefaultBackupID, b.backupID)
	b.SetName("vault")
	assert.Equal(t, "vault", b.Name())
}

func TestBaseArgs(t *testing.T) {
	b := newTestBackend(t, Config{Username: "backup@pbs"}, &fakeClient{})
	assert.Equal(t, []string{"--repository", "backup@pbs@pbs.local:8007:store1"}, b.baseArgs())

	b = newTestBackend(t, Config{Namespace: "firewalls"}, &fakeClient{})
	assert.Equal(t, []string{"--repository", "root@pam@pbs.local:8007:store1", "--ns", "firewalls"}, b.baseArgs())
}

func TestUpload(t *testing.T) {
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	name := storage.FormatBackupName(created)

	client := &fakeClient{}
	client.onRun = func(args []string) {
		// The temp file must hold the payload while the client runs.
		spec := strings.TrimPrefix(args[1], archiveName+":")
		data, err := os.ReadFile(spec)
		require.NoError(t, err)
		assert.Equal(t, "<opnsense/>", string(data))
		client.stdout = "Starting backup: host/opnsense/" + created.UTC().Format(time.RFC3339) + "\n"
	}
	b := newTestBackend(t, Config{Password: "s3cret", Fingerprint: "aa:bb"}, client)

	meta, err := b.Upload(context.Background(), name, strings.NewReader("<opnsense/>"), 11)
	require.NoError(t, err)
	assert.Equal(t, name, meta.FileName)
	assert.Equal(t, int64(11), meta.Size)
	assert.Equal(t, "host/opnsense/"+created.UTC().Format(time.RFC3339), meta.Key)
	assert.True(t, meta.CreatedAt.Equal(created))

	require.Len(t, client.calls, 1)
	c := client.calls[0]
	assert.Equal(t, []string{"PBS_PASSWORD=s3cret", "PBS_FINGERPRINT=aa:bb"}, c.env)
	assert.Equal(t, "backup", c.args[0])
	assert.Contains(t, strings.Join(c.args, " "), "--backup-id opnsense")
	assert.Contains(t, strings.Join(c.args, " "), "--backup-time 1")
	assert.Contains(t, c.args, "--repository")
}

func TestUploadFailureIsConnectivity(t *testing.T) {
	client := &fakeClient{err: errors.New("exit status 255"), stderr: "authentication failed\n"}
	b := newTestBackend(t, Config{}, client)

	_, err := b.Upload(context.Background(), "config-20240506070809.xml", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.Equal(t, fault.KindConnectivity, fault.KindOf(err))
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestList(t *testing.T) {
	client := &fakeClient{stdout: `[
		{"backup-type":"host","backup-id":"opnsense","backup-time":1700000000,"size":1200},
		{"backup-type":"host","backup-id":"opnsense","backup-time":1710000000},
		{"backup-type":"host","backup-id":"fw2","backup-time":1720000000},
		{"backup-type":"vm","backup-id":"opnsense","backup-time":1730000000}
	]`}
	b := newTestBackend(t, Config{}, client)

	backups, err := b.List(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].CreatedAt.Equal(time.Unix(1710000000, 0)))
	assert.Equal(t, storage.FormatBackupName(time.Unix(1710000000, 0).Local()), backups[0].FileName)
	assert.Equal(t, int64(1200), backups[1].Size)
	assert.Equal(t, "host/opnsense/"+time.Unix(1700000000, 0).UTC().Format(time.RFC3339), backups[1].Key)

	assert.Equal(t, []string{"snapshot", "list", "--output-format", "json"}, client.calls[0].args[:4])
}

func TestListBadJSON(t *testing.T) {
	b := newTestBackend(t, Config{}, &fakeClient{stdout: "not json"})
	_, err := b.List(context.Background())
	assert.Error(t, err)
}

func TestDeleteResolvesArtifactName(t *testing.T) {
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	client := &fakeClient{}
	b := newTestBackend(t, Config{}, client)

	require.NoError(t, b.Delete(context.Background(), storage.FormatBackupName(created)))
	require.Len(t, client.calls, 1)
	assert.Equal(t, []string{"snapshot", "forget", snapshotKey("opnsense", created)}, client.calls[0].args[:3])
}

func TestDownload(t *testing.T) {
	client := &fakeClient{}
	client.onRun = func(args []string) {
		require.Equal(t, "restore", args[0])
		require.NoError(t, os.WriteFile(args[3], []byte("<opnsense/>"), 0o600))
	}
	b := newTestBackend(t, Config{}, client)

	rc, meta, err := b.Download(context.Background(), "host/opnsense/2024-05-06T07:08:09Z")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<opnsense/>", string(data))
	assert.Equal(t, int64(11), meta.Size)
	assert.True(t, meta.CreatedAt.Equal(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)))

	path := rc.(*tempFileReader).path
	require.NoError(t, rc.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
