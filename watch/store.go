package watch

import (
	"context"
	"database/sql"
	"time"

	"github.com/veyra/listwatch/errors"
)

// MonitorStore is the SQLite-backed MonitorRepository.
type MonitorStore struct {
	db *sql.DB
}

// NewMonitorStore creates a monitor store over an open database.
func NewMonitorStore(db *sql.DB) *MonitorStore {
	return &MonitorStore{db: db}
}

const monitorColumns = `id, user_id, site, query, active, alerts_enabled,
	last_checked_at, last_alert_at, created_at, updated_at`

// Create inserts a monitor row. Used by seeding tools and tests; the
// application layer owns monitor CRUD in production.
func (s *MonitorStore) Create(ctx context.Context, m *Monitor) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitors (id, user_id, site, query, active, alerts_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Site, m.Query, m.Active, m.AlertsEnabled, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create monitor %s", m.ID)
	}
	return nil
}

// ListActive returns all monitors with the active flag set.
func (s *MonitorStore) ListActive(ctx context.Context) ([]Monitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "list active monitors")
	}
	defer rows.Close()

	var monitors []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, *m)
	}
	return monitors, errors.Wrap(rows.Err(), "iterate monitors")
}

// Get returns one monitor by id, or errors.ErrNotFound.
func (s *MonitorStore) Get(ctx context.Context, id string) (*Monitor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = ?`, id)
	m, err := scanMonitor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "monitor %s", id)
	}
	return m, err
}

// SetLastChecked records a successful execution timestamp.
func (s *MonitorStore) SetLastChecked(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitors SET last_checked_at = ?, updated_at = ? WHERE id = ?`, at, at, id)
	return errors.Wrapf(err, "set last_checked_at for monitor %s", id)
}

// SetLastAlert records that at least one alert was sent for this monitor.
func (s *MonitorStore) SetLastAlert(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitors SET last_alert_at = ?, updated_at = ? WHERE id = ?`, at, at, id)
	return errors.Wrapf(err, "set last_alert_at for monitor %s", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row rowScanner) (*Monitor, error) {
	var m Monitor
	var lastChecked, lastAlert sql.NullTime
	err := row.Scan(
		&m.ID, &m.UserID, &m.Site, &m.Query, &m.Active, &m.AlertsEnabled,
		&lastChecked, &lastAlert, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan monitor")
	}
	if lastChecked.Valid {
		m.LastCheckedAt = &lastChecked.Time
	}
	if lastAlert.Valid {
		m.LastAlertAt = &lastAlert.Time
	}
	return &m, nil
}
