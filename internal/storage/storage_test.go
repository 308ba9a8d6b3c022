package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBackupName(t *testing.T) {
	ts := time.Date(2026, 2, 6, 12, 30, 45, 0, time.UTC)
	assert.Equal(t, "config-20260206123045.xml", FormatBackupName(ts))
}

func TestFormatBackupName_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2026, 2, 6, 8, 0, 0, 0, loc)
	assert.Equal(t, "config-20260206080000.xml", FormatBackupName(ts))
}

func TestIsBackupName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"config-20240101000000.xml", true},
		{"config-manual.xml", true},
		{"config-20240101000000.xml.bak", false},
		{"backup-20240101000000.xml", false},
		{"config-20240101000000.XML", false},
		{"config.xml", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBackupName(tt.name), tt.name)
	}
}

func TestParseBackupName(t *testing.T) {
	got, ok := ParseBackupName("config-20240229235959.xml")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, 0, time.Local), got)

	for _, bad := range []string{"config-manual.xml", "config-20241301000000.xml", "config-2024.xml", "notes.txt"} {
		_, ok := ParseBackupName(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseRoundTrip(t *testing.T) {
	ts := time.Date(2025, 7, 4, 9, 8, 7, 0, time.Local)
	got, ok := ParseBackupName(FormatBackupName(ts))
	assert.True(t, ok)
	assert.True(t, ts.Equal(got))
}

func TestSortNewestFirst(t *testing.T) {
	backups := []BackupMetadata{
		{FileName: "config-20230101000000.xml"},
		{FileName: "config-20240101000000.xml"},
		{FileName: "config-20231231235959.xml"},
	}
	SortNewestFirst(backups)
	assert.Equal(t, "config-20240101000000.xml", backups[0].FileName)
	assert.Equal(t, "config-20231231235959.xml", backups[1].FileName)
	assert.Equal(t, "config-20230101000000.xml", backups[2].FileName)
}
