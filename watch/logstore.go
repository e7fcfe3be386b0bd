package watch

import (
	"context"
	"database/sql"
	"time"

	"github.com/veyra/listwatch/errors"
)

// LogStore is the SQLite-backed ExecutionLogRepository.
type LogStore struct {
	db *sql.DB
}

// NewLogStore creates an execution log store over an open database.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

// Create inserts one execution history row.
func (s *LogStore) Create(ctx context.Context, log ExecutionLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs
			(monitor_id, status, reason, error, listings_found, new_listings, alerts_sent, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.MonitorID, string(log.Status), string(log.Reason), log.Error,
		log.ListingsFound, log.NewListings, log.AlertsSent,
		log.Duration.Milliseconds(), log.CreatedAt,
	)
	return errors.Wrapf(err, "create execution log for monitor %s", log.MonitorID)
}

// RecentForMonitor returns up to limit most recent log rows for a monitor.
func (s *LogStore) RecentForMonitor(ctx context.Context, monitorID string, limit int) ([]ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT monitor_id, status, reason, error, listings_found, new_listings, alerts_sent, duration_ms, created_at
		FROM execution_logs WHERE monitor_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		monitorID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list execution logs")
	}
	defer rows.Close()

	var logs []ExecutionLog
	for rows.Next() {
		var log ExecutionLog
		var status, reason string
		var durationMS int64
		if err := rows.Scan(
			&log.MonitorID, &status, &reason, &log.Error,
			&log.ListingsFound, &log.NewListings, &log.AlertsSent,
			&durationMS, &log.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan execution log")
		}
		log.Status = ExecutionStatus(status)
		log.Reason = SkipReason(reason)
		log.Duration = time.Duration(durationMS) * time.Millisecond
		logs = append(logs, log)
	}
	return logs, errors.Wrap(rows.Err(), "iterate execution logs")
}

var _ ExecutionLogRepository = (*LogStore)(nil)
var _ MonitorRepository = (*MonitorStore)(nil)
