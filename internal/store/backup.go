package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const backupTimestampFormat = "20060102-150405"

// backupLoop runs once a day at hourUTC o'clock UTC (the hour is taken in
// UTC, not in local time), snapshotting the database to a dated file and
// pruning snapshots older than retainDays (30 when retainDays <= 0).
func (s *Store) backupLoop(retainDays, hourUTC int) {
	defer close(s.doneCh)
	if retainDays <= 0 {
		retainDays = 30
	}

	for {
		wait := durationUntilNextHourUTC(time.Now(), hourUTC)
		select {
		case <-s.stopCh:
			return
		case <-time.After(wait):
		}

		if err := s.snapshotBackup(); err != nil {
			s.log.Error("daily backup snapshot failed", zap.Error(err))
		}
		if err := s.pruneBackups(retainDays); err != nil {
			s.log.Warn("backup retention prune failed", zap.Error(err))
		}
	}
}

func durationUntilNextHourUTC(now time.Time, hourUTC int) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// snapshotBackup copies the live database file to a dated snapshot.
func (s *Store) snapshotBackup() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	backupPath := s.path + ".backup_" + time.Now().UTC().Format(backupTimestampFormat)

	src, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open live database: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy database to backup: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync backup to disk: %w", err)
	}
	s.log.Info("daily store snapshot complete", zap.String("path", backupPath))
	return nil
}

// pruneBackups deletes snapshot files older than retainDays, keyed off the
// timestamp encoded in the filename rather than filesystem mtime so pruning
// is deterministic under clock skew or file copies.
func (s *Store) pruneBackups(retainDays int) error {
	dir := filepath.Dir(s.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read backup directory: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retainDays)
	base := filepath.Base(s.path) + ".backup_"

	var removed int
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base) {
			continue
		}
		ts := strings.TrimPrefix(e.Name(), base)
		stamp, err := time.Parse(backupTimestampFormat, ts)
		if err != nil {
			continue
		}
		if stamp.Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.log.Info("pruned expired store snapshots", zap.Int("removed", removed))
	}
	return nil
}

// listBackups returns backup filenames sorted oldest-first; used by tests.
func listBackups(dir, base string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), base+".backup_") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}
