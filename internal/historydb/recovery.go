package historydb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tmuxorc/orcd/internal/util/timefmt"
)

// RecoveryRow mirrors a completed RecoveryRecord for durable history
// queries beyond the in-memory per-target cap.
type RecoveryRow struct {
	Target       string
	Issue        string
	RecoveryType string
	Priority     string
	NotifiedPM   string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Succeeded    *bool
}

// InsertRecovery mirrors a completed recovery record.
func (d *DB) InsertRecovery(r RecoveryRow) error {
	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = sql.NullString{String: timefmt.Format(*r.CompletedAt), Valid: true}
	}
	var succeeded sql.NullBool
	if r.Succeeded != nil {
		succeeded = sql.NullBool{Bool: *r.Succeeded, Valid: true}
	}

	_, err := d.sql.Exec(
		`INSERT INTO recovery_history
			(target, issue, recovery_type, priority, notified_pm, started_at, completed_at, succeeded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Target, r.Issue, r.RecoveryType, r.Priority, r.NotifiedPM,
		timefmt.Format(r.StartedAt), completedAt, succeeded,
	)
	if err != nil {
		return fmt.Errorf("insert recovery history: %w", err)
	}
	return nil
}

// RecentRecoveries returns the most recent recovery rows for a target,
// newest first, up to limit.
func (d *DB) RecentRecoveries(target string, limit int) ([]RecoveryRow, error) {
	rows, err := d.sql.Query(
		`SELECT target, issue, recovery_type, priority, notified_pm, started_at, completed_at, succeeded
		 FROM recovery_history WHERE target = ? ORDER BY id DESC LIMIT ?`,
		target, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recovery history: %w", err)
	}
	defer rows.Close()

	var out []RecoveryRow
	for rows.Next() {
		var r RecoveryRow
		var startedAt string
		var completedAt sql.NullString
		var succeeded sql.NullBool
		if err := rows.Scan(&r.Target, &r.Issue, &r.RecoveryType, &r.Priority, &r.NotifiedPM,
			&startedAt, &completedAt, &succeeded); err != nil {
			return nil, fmt.Errorf("scan recovery history row: %w", err)
		}
		if t, err := time.Parse(timefmt.ISO8601, startedAt); err == nil {
			r.StartedAt = t
		}
		if completedAt.Valid {
			if t, err := time.Parse(timefmt.ISO8601, completedAt.String); err == nil {
				r.CompletedAt = &t
			}
		}
		if succeeded.Valid {
			v := succeeded.Bool
			r.Succeeded = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
