package storage

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"opnsensectl/internal/logging"
)

// RetentionPolicy defines how many artifacts to keep in each time bucket.
type RetentionPolicy struct {
	KeepLast    int `yaml:"keepLast" json:"keepLast"`
	KeepHourly  int `yaml:"keepHourly" json:"keepHourly"`
	KeepDaily   int `yaml:"keepDaily" json:"keepDaily"`
	KeepWeekly  int `yaml:"keepWeekly" json:"keepWeekly"`
	KeepMonthly int `yaml:"keepMonthly" json:"keepMonthly"`
	KeepYearly  int `yaml:"keepYearly" json:"keepYearly"`
}

// IsZero reports whether no rule is set. A zero policy prunes nothing.
func (p RetentionPolicy) IsZero() bool {
	return p == RetentionPolicy{}
}

// ApplyRetention lists the backend and deletes the artifacts the policy does
// not keep. Artifacts without a parsable timestamp are never deleted.
// Returns the number of artifacts deleted.
func ApplyRetention(ctx context.Context, backend Backend, policy RetentionPolicy, log *zap.Logger) (int, error) {
	log = logging.OrNop(log)
	if policy.IsZero() {
		return 0, nil
	}

	backups, err := backend.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) == 0 {
		return 0, nil
	}

	toKeep := selectBackupsToKeep(backups, policy)

	deleted := 0
	for _, b := range backups {
		if _, keep := toKeep[b.Key]; keep || b.CreatedAt.IsZero() {
			continue
		}
		if err := backend.Delete(ctx, b.Key); err != nil {
			log.Warn("Failed to delete old backup",
				zap.String("backend", backend.Name()),
				zap.String("file", b.FileName),
				zap.Error(err))
			continue
		}
		log.Debug("Deleted old backup", zap.String("backend", backend.Name()), zap.String("file", b.FileName))
		deleted++
	}

	return deleted, nil
}

// selectBackupsToKeep returns the set of keys to retain. Each artifact is
// assigned to time buckets and the newest one in each bucket is kept,
// restic/Borg style.
func selectBackupsToKeep(backups []BackupMetadata, policy RetentionPolicy) map[string]struct{} {
	keep := make(map[string]struct{})
	for key, labels := range ClassifyRetentionBuckets(backups, policy) {
		if len(labels) > 0 {
			keep[key] = struct{}{}
		}
	}
	return keep
}

func truncateHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// truncateWeek returns the Monday of t's ISO week.
func truncateWeek(t time.Time) time.Time {
	year, week := t.ISOWeek()
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, t.Location())
	weekday := jan4.Weekday()
	if weekday == 0 {
		weekday = 7
	}
	return jan4.AddDate(0, 0, -(int(weekday)-1)+(week-1)*7)
}

func truncateMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func truncateYear(t time.Time) time.Time {
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
}

// ClassifyRetentionBuckets maps every key to the bucket labels ("latest",
// "daily", ...) that keep it. Keys that would be pruned map to an empty
// slice. Artifacts with a zero CreatedAt take part in no bucket.
func ClassifyRetentionBuckets(backups []BackupMetadata, policy RetentionPolicy) map[string][]string {
	labels := make(map[string][]string, len(backups))
	var dated []BackupMetadata
	for _, b := range backups {
		labels[b.Key] = nil
		if !b.CreatedAt.IsZero() {
			dated = append(dated, b)
		}
	}

	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].CreatedAt.After(dated[j].CreatedAt)
	})

	for i := 0; i < policy.KeepLast && i < len(dated); i++ {
		labels[dated[i].Key] = append(labels[dated[i].Key], "latest")
	}

	defs := []struct {
		count    int
		truncate func(time.Time) time.Time
		label    string
	}{
		{policy.KeepHourly, truncateHour, "hourly"},
		{policy.KeepDaily, truncateDay, "daily"},
		{policy.KeepWeekly, truncateWeek, "weekly"},
		{policy.KeepMonthly, truncateMonth, "monthly"},
		{policy.KeepYearly, truncateYear, "yearly"},
	}

	for _, def := range defs {
		if def.count <= 0 {
			continue
		}
		seen := make(map[time.Time]bool)
		for _, b := range dated {
			bucket := def.truncate(b.CreatedAt)
			if seen[bucket] {
				continue
			}
			seen[bucket] = true
			labels[b.Key] = append(labels[b.Key], def.label)
			if len(seen) >= def.count {
				break
			}
		}
	}

	return labels
}
