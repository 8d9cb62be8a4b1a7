package historydb

import (
	"fmt"
	"time"

	"github.com/tmuxorc/orcd/internal/util/timefmt"
)

// PerformanceSnapshot is a periodic dump of the daemon's rolling
// delivery-duration window (spec §3.1), stored so the trend survives
// process restarts.
type PerformanceSnapshot struct {
	RecordedAt         time.Time
	MessagesProcessed  int64
	QueueSize          int
	MinMS, AvgMS       float64
	P95MS, MaxMS       float64
	MeetingTarget      bool
}

// InsertSnapshot records a performance snapshot.
func (d *DB) InsertSnapshot(s PerformanceSnapshot) error {
	_, err := d.sql.Exec(
		`INSERT INTO performance_snapshots
			(recorded_at, messages_processed, queue_size, min_ms, avg_ms, p95_ms, max_ms, meeting_target)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		timefmt.Format(s.RecordedAt), s.MessagesProcessed, s.QueueSize,
		s.MinMS, s.AvgMS, s.P95MS, s.MaxMS, s.MeetingTarget,
	)
	if err != nil {
		return fmt.Errorf("insert performance snapshot: %w", err)
	}
	return nil
}
