package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// snapshotSQLite writes a consistent snapshot of the database at source to
// target using VACUUM INTO (modernc.org/sqlite driver, CGO-free). The vacuum
// writes to a temp path first and the result is renamed into place, so target
// either appears complete or not at all. Returns the snapshot size in bytes.
func snapshotSQLite(ctx context.Context, source, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}

	db, err := sql.Open("sqlite", source)
	if err != nil {
		return 0, fmt.Errorf("open source %s: %w", source, err)
	}
	defer func() { _ = db.Close() }()

	tmp := target + ".tmp"
	// VACUUM INTO refuses to overwrite; clear any leftover from a crashed run.
	_ = os.Remove(tmp)

	// VACUUM INTO takes a quoted literal, not a bind parameter.
	quoted := strings.ReplaceAll(tmp, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s';", quoted)); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("vacuum into %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("finalize snapshot %s: %w", target, err)
	}

	fi, err := os.Stat(target)
	if err != nil {
		return 0, fmt.Errorf("stat snapshot %s: %w", target, err)
	}
	return fi.Size(), nil
}
