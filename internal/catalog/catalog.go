// Package catalog lists the stored configuration artifacts and lets the
// operator pick one.
package catalog

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"opnsensectl/internal/fault"
	"opnsensectl/internal/logging"
	"opnsensectl/internal/prompt"
	"opnsensectl/internal/storage"
	"opnsensectl/internal/storage/local"
)

// DisplayLayout is how artifact timestamps are shown to the operator.
const DisplayLayout = "2006-01-02 15:04:05"

// ErrCancelled is returned by Select when the operator quits. It is not a
// failure.
var ErrCancelled = errors.Mark(errors.New("selection cancelled"), fault.ErrCancelled)

// Entry is one artifact as presented to the operator.
type Entry struct {
	Key       string    `json:"key"`
	FileName  string    `json:"fileName"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// HasTimestamp reports whether the file name carried a parsable timestamp.
func (e Entry) HasTimestamp() bool { return !e.CreatedAt.IsZero() }

// Created is the display timestamp, or "" when the name has none.
func (e Entry) Created() string {
	if !e.HasTimestamp() {
		return ""
	}
	return e.CreatedAt.Format(DisplayLayout)
}

// Label is the menu line for the entry.
func (e Entry) Label() string {
	if !e.HasTimestamp() {
		return e.FileName
	}
	return fmt.Sprintf("%s (created %s)", e.FileName, e.Created())
}

func fromMetadata(backups []storage.BackupMetadata) []Entry {
	entries := make([]Entry, 0, len(backups))
	for _, b := range backups {
		entries = append(entries, Entry{Key: b.Key, FileName: b.FileName, Size: b.Size, CreatedAt: b.CreatedAt})
	}
	return entries
}

// List returns the artifacts in dir, most recent first. A missing or
// unreadable directory is logged and yields an empty result.
func List(ctx context.Context, dir string, log *zap.Logger) []Entry {
	log = logging.OrNop(log)
	backups, err := local.New(dir).List(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Error("Backup directory not found", zap.String("dir", dir))
		} else {
			log.Error("Failed to list backup directory", zap.String("dir", dir), zap.Error(err))
		}
		return []Entry{}
	}

	entries := fromMetadata(backups)
	log.Info("Found backup files", zap.String("dir", dir), zap.Int("count", len(entries)))
	for i, e := range entries {
		log.Info(fmt.Sprintf("%d. %s", i+1, e.Label()))
	}
	return entries
}

// ListBackend returns the artifacts of any storage backend, most recent
// first.
func ListBackend(ctx context.Context, backend storage.Backend) ([]Entry, error) {
	backups, err := backend.List(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", backend.Name())
	}
	storage.SortNewestFirst(backups)
	return fromMetadata(backups), nil
}

// Select prints a numbered menu of entries and returns the chosen one.
// Answering "q" or "quit" returns ErrCancelled.
func Select(entries []Entry, in prompt.Provider) (Entry, error) {
	if len(entries) == 0 {
		return Entry{}, fault.Configurationf("no backups available to restore")
	}

	in.Println(fmt.Sprintf("Found %d backup files:", len(entries)))
	for i, e := range entries {
		in.Println(fmt.Sprintf("%d. %s", i+1, e.Label()))
	}

	answer, err := in.Ask("\nEnter the number of the backup to restore (or 'q' to quit): ")
	if err != nil {
		return Entry{}, fault.Configuration(errors.Wrap(err, "read selection"), "")
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "q" || answer == "quit" {
		return Entry{}, ErrCancelled
	}

	n, err := strconv.Atoi(answer)
	if err != nil {
		return Entry{}, fault.Configuration(errors.Newf("invalid input %q", answer), "enter a number from the list")
	}
	if n < 1 || n > len(entries) {
		return Entry{}, fault.Configuration(
			errors.Newf("invalid selection %d", n),
			fmt.Sprintf("choose a number between 1 and %d", len(entries)))
	}
	return entries[n-1], nil
}

// Render writes entries as an aligned table.
func Render(w io.Writer, entries []Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tFILE\tCREATED\tSIZE")
	for i, e := range entries {
		created := e.Created()
		if created == "" {
			created = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i+1, e.FileName, created, e.Size)
	}
	return tw.Flush()
}
