package backup

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/okonev/vigil/internal/alert"
)

type recordSink struct {
	mu     sync.Mutex
	events []alert.Event
}

func (s *recordSink) Send(_ context.Context, e alert.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordSink) count(sev alert.Severity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Severity == sev {
			n++
		}
	}
	return n
}

// createSourceDB writes a small SQLite database with n rows at path.
func createSourceDB(t *testing.T, path string, n int) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open source db: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := db.Exec(`INSERT INTO items (val) VALUES (?)`, "row"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer func() { _ = db.Close() }()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func newTestJob(t *testing.T, cfg Config, sink alert.Sink) *Job {
	t.Helper()
	j, err := NewJob(cfg, alert.NewEmitter(sink, nil), nil)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return j
}

func TestNewJobValidation(t *testing.T) {
	if _, err := NewJob(Config{Source: "a", Dir: "b"}, nil, nil); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if _, err := NewJob(Config{Name: "x", Dir: "b"}, nil, nil); err == nil {
		t.Fatalf("expected error for missing source")
	}
	if _, err := NewJob(Config{Name: "x", Source: "a"}, nil, nil); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestRunCreatesSnapshot(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "data.db")
	createSourceDB(t, source, 7)
	outDir := filepath.Join(dir, "backups")

	sink := &recordSink{}
	j := newTestJob(t, Config{Name: "data", Source: source, Dir: outDir}, sink)

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs := j.Records()
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.SourceDBPath != source {
		t.Fatalf("record source = %s, want %s", rec.SourceDBPath, source)
	}
	if rec.SizeBytes <= 0 {
		t.Fatalf("record size = %d, want > 0", rec.SizeBytes)
	}
	fi, err := os.Stat(rec.FilePath)
	if err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
	if fi.Size() != rec.SizeBytes {
		t.Fatalf("recorded size %d does not match file size %d", rec.SizeBytes, fi.Size())
	}
	if got := countRows(t, rec.FilePath); got != 7 {
		t.Fatalf("snapshot has %d rows, want 7", got)
	}
	if sink.count(alert.SeverityInfo) != 1 {
		t.Fatalf("expected one info event, got %d", sink.count(alert.SeverityInfo))
	}
	// No stray temp file left behind.
	if _, err := os.Stat(rec.FilePath + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestSnapshotNamesSortChronologically(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "data.db")
	createSourceDB(t, source, 1)
	outDir := filepath.Join(dir, "backups")

	j := newTestJob(t, Config{Name: "data", Source: source, Dir: outDir}, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Second), base.Add(time.Hour)}
	for _, ts := range times {
		cur := ts
		j.now = func() time.Time { return cur }
		if err := j.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	recs := j.Records()
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	names := make([]string, len(recs))
	for k, r := range recs {
		names[k] = filepath.Base(r.FilePath)
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("snapshot names must sort chronologically: %v", names)
	}
	for k := 1; k < len(recs); k++ {
		if !recs[k].Timestamp.After(recs[k-1].Timestamp) {
			t.Fatalf("timestamps not increasing: %v then %v", recs[k-1].Timestamp, recs[k].Timestamp)
		}
	}
}

func TestRunMissingSource(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "backups")
	sink := &recordSink{}
	j := newTestJob(t, Config{
		Name:   "data",
		Source: filepath.Join(dir, "nope.db"),
		Dir:    outDir,
	}, sink)

	err := j.Run(context.Background())
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
	if len(j.Records()) != 0 {
		t.Fatalf("no record expected on missing source")
	}
	if sink.count(alert.SeverityCritical) != 1 {
		t.Fatalf("expected exactly one critical event, got %d", sink.count(alert.SeverityCritical))
	}
	// The output directory must stay empty (it may not even exist).
	if entries, err := os.ReadDir(outDir); err == nil && len(entries) != 0 {
		t.Fatalf("expected empty backup dir, got %d entries", len(entries))
	}
}

func TestPruneRemovesOnlyExpiredOwnFiles(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "data.db")
	createSourceDB(t, source, 1)
	outDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	now := time.Now().UTC()
	old := filepath.Join(outDir, "data_"+now.AddDate(0, 0, -40).Format("20060102_150405")+".db")
	fresh := filepath.Join(outDir, "data_"+now.AddDate(0, 0, -10).Format("20060102_150405")+".db")
	foreignOld := filepath.Join(outDir, "other_"+now.AddDate(0, 0, -40).Format("20060102_150405")+".db")
	plain := filepath.Join(outDir, "notes.txt")
	for _, p := range []string{old, fresh, foreignOld, plain} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	j := newTestJob(t, Config{Name: "data", Source: source, Dir: outDir, RetentionDays: 30}, nil)
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expired snapshot should be pruned")
	}
	for _, p := range []string{fresh, foreignOld, plain} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s should survive pruning: %v", filepath.Base(p), err)
		}
	}
}

func TestTargetPathExtension(t *testing.T) {
	j := newTestJob(t, Config{Name: "job", Source: "/data/app.sqlite3", Dir: "/backups"}, nil)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := j.targetPath(ts)
	want := filepath.Join("/backups", "job_20260102_030405.sqlite3")
	if got != want {
		t.Fatalf("targetPath = %s, want %s", got, want)
	}

	j2 := newTestJob(t, Config{Name: "job", Source: "/data/app", Dir: "/backups"}, nil)
	if got := j2.targetPath(ts); filepath.Ext(got) != ".db" {
		t.Fatalf("extensionless source should default to .db, got %s", got)
	}
}

func TestParseSnapshotName(t *testing.T) {
	j := newTestJob(t, Config{Name: "data", Source: "/x/a.db", Dir: "/y"}, nil)
	cases := []struct {
		name string
		ok   bool
	}{
		{"data_20260101_000000.db", true},
		{"data_20260101_000000", true},
		{"other_20260101_000000.db", false},
		{"data_garbage.db", false},
		{"data.db", false},
	}
	for _, c := range cases {
		if _, ok := j.parseSnapshotName(c.name); ok != c.ok {
			t.Fatalf("parseSnapshotName(%s) ok = %v, want %v", c.name, ok, c.ok)
		}
	}
}
