package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifact(created time.Time) BackupMetadata {
	name := FormatBackupName(created)
	return BackupMetadata{Key: name, FileName: name, Size: 1024, CreatedAt: created}
}

func keys(backups ...BackupMetadata) []string {
	var out []string
	for _, b := range backups {
		out = append(out, b.Key)
	}
	return out
}

func keptKeys(keep map[string]struct{}) []string {
	var out []string
	for k := range keep {
		out = append(out, k)
	}
	return out
}

func TestSelectBackupsToKeep_KeepLast(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	b1, b2, b3, b4 := artifact(now.Add(-3*time.Hour)), artifact(now.Add(-2*time.Hour)), artifact(now.Add(-time.Hour)), artifact(now)

	keep := selectBackupsToKeep([]BackupMetadata{b1, b2, b3, b4}, RetentionPolicy{KeepLast: 2})
	assert.ElementsMatch(t, keys(b3, b4), keptKeys(keep))
}

func TestSelectBackupsToKeep_Buckets(t *testing.T) {
	tests := []struct {
		name   string
		times  []time.Time
		policy RetentionPolicy
		kept   []int
	}{
		{
			name: "hourly keeps newest per hour",
			times: []time.Time{
				time.Date(2026, 6, 15, 10, 15, 0, 0, time.UTC),
				time.Date(2026, 6, 15, 10, 45, 0, 0, time.UTC),
				time.Date(2026, 6, 15, 11, 15, 0, 0, time.UTC),
				time.Date(2026, 6, 15, 11, 45, 0, 0, time.UTC),
			},
			policy: RetentionPolicy{KeepHourly: 2},
			kept:   []int{1, 3},
		},
		{
			name: "daily",
			times: []time.Time{
				time.Date(2026, 6, 13, 8, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 13, 20, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
			},
			policy: RetentionPolicy{KeepDaily: 3},
			kept:   []int{1, 2, 3},
		},
		{
			name: "weekly uses ISO weeks",
			times: []time.Time{
				time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 8, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 16, 12, 0, 0, 0, time.UTC),
			},
			policy: RetentionPolicy{KeepWeekly: 2},
			kept:   []int{1, 3},
		},
		{
			name: "monthly",
			times: []time.Time{
				time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 5, 12, 0, 0, 0, time.UTC),
			},
			policy: RetentionPolicy{KeepMonthly: 3},
			kept:   []int{1, 2, 3},
		},
		{
			name: "yearly",
			times: []time.Time{
				time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
				time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
			},
			policy: RetentionPolicy{KeepYearly: 2},
			kept:   []int{1, 2},
		},
		{
			name: "keep last larger than total",
			times: []time.Time{
				time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC),
				time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
			},
			policy: RetentionPolicy{KeepLast: 10},
			kept:   []int{0, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backups, want []BackupMetadata
			for _, ts := range tt.times {
				backups = append(backups, artifact(ts))
			}
			for _, i := range tt.kept {
				want = append(want, backups[i])
			}
			assert.ElementsMatch(t, keys(want...), keptKeys(selectBackupsToKeep(backups, tt.policy)))
		})
	}
}

func TestSelectBackupsToKeep_CombinedPolicy(t *testing.T) {
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	var backups []BackupMetadata
	for i := 0; i < 30; i++ {
		backups = append(backups, artifact(now.AddDate(0, 0, -i)))
	}

	keep := selectBackupsToKeep(backups, RetentionPolicy{KeepLast: 3, KeepDaily: 7, KeepWeekly: 4})
	for i := 0; i < 3; i++ {
		assert.Contains(t, keep, backups[i].Key)
	}
	assert.LessOrEqual(t, len(keep), 14)
	assert.GreaterOrEqual(t, len(keep), 7)
}

func TestClassifyRetentionBuckets(t *testing.T) {
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	newest, older := artifact(now), artifact(now.Add(-time.Hour))
	undated := BackupMetadata{Key: "config-manual.xml", FileName: "config-manual.xml"}

	labels := ClassifyRetentionBuckets([]BackupMetadata{older, undated, newest}, RetentionPolicy{KeepLast: 1, KeepDaily: 1})
	assert.Equal(t, []string{"latest", "daily"}, labels[newest.Key])
	assert.Empty(t, labels[older.Key])
	assert.Empty(t, labels[undated.Key])
}

// memBackend is an in-memory Backend for retention tests.
type memBackend struct {
	name      string
	items     map[string]BackupMetadata
	data      map[string][]byte
	deleteErr map[string]error
	listErr   error
	deleted   []string
}

func newMemBackend(backups ...BackupMetadata) *memBackend {
	m := &memBackend{name: "mem", items: map[string]BackupMetadata{}, data: map[string][]byte{}, deleteErr: map[string]error{}}
	for _, b := range backups {
		m.items[b.Key] = b
	}
	return m
}

func (m *memBackend) Type() string        { return "mem" }
func (m *memBackend) Name() string        { return m.name }
func (m *memBackend) SetName(name string) { m.name = name }

func (m *memBackend) Upload(ctx context.Context, fileName string, data io.Reader, size int64) (*BackupMetadata, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	created, _ := ParseBackupName(fileName)
	meta := BackupMetadata{Key: fileName, FileName: fileName, Size: int64(len(b)), CreatedAt: created}
	m.items[fileName] = meta
	m.data[fileName] = b
	return &meta, nil
}

func (m *memBackend) Download(ctx context.Context, key string) (io.ReadCloser, *BackupMetadata, error) {
	meta, ok := m.items[key]
	if !ok {
		return nil, nil, errors.Newf("not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(m.data[key])), &meta, nil
}

func (m *memBackend) List(ctx context.Context) ([]BackupMetadata, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []BackupMetadata
	for _, b := range m.items {
		out = append(out, b)
	}
	SortNewestFirst(out)
	return out, nil
}

func (m *memBackend) Delete(ctx context.Context, key string) error {
	if err := m.deleteErr[key]; err != nil {
		return err
	}
	delete(m.items, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func TestApplyRetention(t *testing.T) {
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	b0, b1, b2, b3 := artifact(now), artifact(now.Add(-time.Hour)), artifact(now.Add(-2*time.Hour)), artifact(now.Add(-3*time.Hour))
	undated := BackupMetadata{Key: "config-manual.xml", FileName: "config-manual.xml"}
	backend := newMemBackend(b0, b1, b2, b3, undated)
	backend.deleteErr[b3.Key] = errors.New("permission denied")

	deleted, err := ApplyRetention(context.Background(), backend, RetentionPolicy{KeepLast: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{b2.Key}, backend.deleted)

	remaining, err := backend.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, keys(b0, b1, b3, undated), keys(remaining...))
}

func TestApplyRetention_ZeroPolicyDeletesNothing(t *testing.T) {
	backend := newMemBackend(artifact(time.Now()), artifact(time.Now().Add(-time.Hour)))
	backend.listErr = errors.New("must not be listed")

	deleted, err := ApplyRetention(context.Background(), backend, RetentionPolicy{}, nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestApplyRetention_ListError(t *testing.T) {
	backend := newMemBackend()
	backend.listErr = errors.New("bucket gone")

	_, err := ApplyRetention(context.Background(), backend, RetentionPolicy{KeepLast: 1}, nil)
	assert.ErrorContains(t, err, "bucket gone")
}
