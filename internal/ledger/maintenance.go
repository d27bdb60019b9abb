package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Compact truncates the WAL and drops closed trades older than retain.
// It runs over a direct database/sql handle so it works on shutdown after
// the gorm handle is gone. A zero retain keeps everything.
func Compact(ctx context.Context, path string, retain time.Duration) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("ledger: database path cannot be empty")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if retain > 0 {
		cutoff := time.Now().UTC().Add(-retain).Format("2006-01-02 15:04:05")
		// Open trades have a zero ClosedAt and are never pruned.
		if _, err := db.ExecContext(ctx,
			"DELETE FROM trades WHERE datetime(closed_at) > datetime('0001-01-01 00:00:00') AND datetime(closed_at) < datetime(?)",
			cutoff); err != nil {
			return fmt.Errorf("ledger: prune: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("ledger: checkpoint: %w", err)
	}
	return nil
}
