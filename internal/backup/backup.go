// Package backup produces consistent point-in-time snapshots of a SQLite
// datastore and prunes snapshots past a retention window. Snapshots use the
// database engine's backup mechanism (VACUUM INTO), never a raw file copy, so
// a half-written page can never be captured.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/okonev/vigil/internal/alert"
	"github.com/okonev/vigil/internal/metrics"
)

const (
	DefaultRetentionDays = 30
	DefaultRunTimeout    = 5 * time.Minute

	// timestampLayout yields names that sort chronologically.
	timestampLayout = "20060102_150405"
)

// ErrSourceMissing reports that the datastore file does not exist; the cycle
// is skipped and retried on the next tick, never sooner.
var ErrSourceMissing = errors.New("backup source missing")

// Record describes one successful snapshot. Immutable once written.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	FilePath     string    `json:"file_path"`
	SizeBytes    int64     `json:"size_bytes"`
	SourceDBPath string    `json:"source_db_path"`
}

// Config describes one backup job.
type Config struct {
	Name          string        // job name, used in filenames and metrics
	Source        string        // path to the SQLite datastore
	Dir           string        // snapshot output directory
	RetentionDays int           // prune snapshots older than this (default 30)
	RunTimeout    time.Duration // bound on one snapshot+prune cycle (default 5m)
}

func (c *Config) applyDefaults() {
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
}

// Job runs snapshot cycles for one datastore. Records of successful snapshots
// are kept in memory for the daemon's lifetime, guarded independently of any
// other state.
type Job struct {
	cfg    Config
	em     *alert.Emitter
	logger *slog.Logger

	mu      sync.Mutex
	records []Record

	now func() time.Time // test hook
}

func NewJob(cfg Config, em *alert.Emitter, logger *slog.Logger) (*Job, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("backup job requires a name")
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("backup job %s requires a source path", cfg.Name)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup job %s requires an output directory", cfg.Name)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if em == nil {
		em = alert.NewEmitter(nil, logger)
	}
	return &Job{
		cfg:    cfg,
		em:     em,
		logger: logger.With("backup", cfg.Name),
		now:    time.Now,
	}, nil
}

func (j *Job) Name() string { return j.cfg.Name }

// Records returns a copy of the successful snapshot records, oldest first.
func (j *Job) Records() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, len(j.records))
	copy(out, j.records)
	return out
}

// Run performs one backup cycle: snapshot if the source exists, then prune.
// Idempotent per invocation; the only collision risk is a re-run within the
// same second, which overwriting by rename makes harmless.
func (j *Job) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.RunTimeout)
	defer cancel()

	if _, err := os.Stat(j.cfg.Source); err != nil {
		if os.IsNotExist(err) {
			metrics.IncBackupRun(j.cfg.Name, "missing_source")
			j.em.Emit(ctx, j.cfg.Name, alert.SeverityCritical,
				fmt.Sprintf("backup skipped: source %s does not exist", j.cfg.Source))
			return fmt.Errorf("%w: %s", ErrSourceMissing, j.cfg.Source)
		}
		metrics.IncBackupRun(j.cfg.Name, "error")
		j.em.Emit(ctx, j.cfg.Name, alert.SeverityCritical,
			fmt.Sprintf("backup skipped: cannot stat source: %v", err))
		return fmt.Errorf("stat source %s: %w", j.cfg.Source, err)
	}

	started := j.now()
	target := j.targetPath(started)
	size, err := snapshotSQLite(ctx, j.cfg.Source, target)
	if err != nil {
		metrics.IncBackupRun(j.cfg.Name, "error")
		j.em.Emit(ctx, j.cfg.Name, alert.SeverityCritical,
			fmt.Sprintf("snapshot failed: %v", err))
		return err
	}

	rec := Record{
		Timestamp:    started.UTC(),
		FilePath:     target,
		SizeBytes:    size,
		SourceDBPath: j.cfg.Source,
	}
	j.mu.Lock()
	j.records = append(j.records, rec)
	j.mu.Unlock()

	metrics.IncBackupRun(j.cfg.Name, "ok")
	metrics.ObserveBackupDuration(j.cfg.Name, time.Since(started).Seconds())
	metrics.SetBackupSize(j.cfg.Name, size)
	metrics.SetBackupLastSuccess(j.cfg.Name, started.Unix())
	j.em.Emit(ctx, j.cfg.Name, alert.SeverityInfo,
		fmt.Sprintf("snapshot written: %s (%d bytes)", filepath.Base(target), size))

	pruned, err := j.prune()
	if err != nil {
		// Pruning failure does not undo a good snapshot; warn and move on.
		j.em.Emit(ctx, j.cfg.Name, alert.SeverityWarning,
			fmt.Sprintf("retention pruning failed: %v", err))
		return nil
	}
	if pruned > 0 {
		metrics.AddBackupPruned(j.cfg.Name, pruned)
		j.logger.Info("pruned old snapshots", "count", pruned, "retention_days", j.cfg.RetentionDays)
	}
	return nil
}

// targetPath derives the snapshot filename: <name>_<timestamp><ext>, which
// sorts chronologically and is unique at second granularity.
func (j *Job) targetPath(ts time.Time) string {
	ext := filepath.Ext(j.cfg.Source)
	if ext == "" {
		ext = ".db"
	}
	return filepath.Join(j.cfg.Dir, fmt.Sprintf("%s_%s%s", j.cfg.Name, ts.UTC().Format(timestampLayout), ext))
}

// prune removes snapshot files of this job older than the retention window.
// Age is taken from the timestamp embedded in the filename; foreign files in
// the directory are never touched.
func (j *Job) prune() (int, error) {
	entries, err := os.ReadDir(j.cfg.Dir)
	if err != nil {
		return 0, err
	}
	cutoff := j.now().UTC().AddDate(0, 0, -j.cfg.RetentionDays)
	pruned := 0
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ts, ok := j.parseSnapshotName(ent.Name())
		if !ok {
			continue
		}
		if ts.Before(cutoff) {
			if err := os.Remove(filepath.Join(j.cfg.Dir, ent.Name())); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

// parseSnapshotName extracts the embedded timestamp from a filename produced
// by targetPath. Returns false for files this job did not create.
func (j *Job) parseSnapshotName(name string) (time.Time, bool) {
	prefix := j.cfg.Name + "_"
	if !strings.HasPrefix(name, prefix) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(name, prefix)
	if ext := filepath.Ext(rest); ext != "" {
		rest = strings.TrimSuffix(rest, ext)
	}
	ts, err := time.Parse(timestampLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
