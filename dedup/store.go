// Package dedup tracks which listings have already been seen for each
// monitor, so only genuinely new listings trigger alerts.
package dedup

import (
	"context"
	"database/sql"
	"time"

	"github.com/veyra/listwatch/errors"
	"github.com/veyra/listwatch/watch"
)

// SeenListing is the stored dedup record for one (monitor, external listing)
// pair. Exactly one row exists per pair; re-sightings only bump LastSeenAt.
type SeenListing struct {
	MonitorID   string     `json:"monitor_id"`
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Price       string     `json:"price"`
	URL         string     `json:"url"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	AlertSent   bool       `json:"alert_sent"`
	AlertSentAt *time.Time `json:"alert_sent_at,omitempty"`
}

// Store is the SQLite-backed persistence for seen listings.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) { s.now = fn }
}

// NewStore creates a seen-listing store over an open database.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record persists one sighting. Returns true when the listing was never seen
// before for this monitor. The insert-if-absent is atomic: the primary key
// on (monitor_id, external_id) decides the race when two workers process the
// same monitor concurrently.
func (s *Store) Record(ctx context.Context, monitorID string, listing watch.Listing) (bool, error) {
	now := s.now()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO seen_listings
			(monitor_id, external_id, title, price, url, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		monitorID, listing.ExternalID, listing.Title, listing.Price, listing.URL, now, now,
	)
	if err != nil {
		return false, errors.Wrapf(err, "record sighting %s/%s", monitorID, listing.ExternalID)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	if inserted > 0 {
		return true, nil
	}

	// Already seen: only the last-seen timestamp moves.
	_, err = s.db.ExecContext(ctx,
		`UPDATE seen_listings SET last_seen_at = ? WHERE monitor_id = ? AND external_id = ?`,
		now, monitorID, listing.ExternalID,
	)
	if err != nil {
		return false, errors.Wrapf(err, "update sighting %s/%s", monitorID, listing.ExternalID)
	}
	return false, nil
}

// MarkAlertSent flags the listing as alerted. Called once at least one
// channel delivered for it.
func (s *Store) MarkAlertSent(ctx context.Context, monitorID, externalID string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE seen_listings SET alert_sent = 1, alert_sent_at = ?
		WHERE monitor_id = ? AND external_id = ?`,
		now, monitorID, externalID,
	)
	return errors.Wrapf(err, "mark alert sent %s/%s", monitorID, externalID)
}

// Get returns one dedup record, or errors.ErrNotFound.
func (s *Store) Get(ctx context.Context, monitorID, externalID string) (*SeenListing, error) {
	var row SeenListing
	var alertSentAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT monitor_id, external_id, title, price, url, first_seen_at, last_seen_at, alert_sent, alert_sent_at
		FROM seen_listings WHERE monitor_id = ? AND external_id = ?`,
		monitorID, externalID,
	).Scan(&row.MonitorID, &row.ExternalID, &row.Title, &row.Price, &row.URL,
		&row.FirstSeenAt, &row.LastSeenAt, &row.AlertSent, &alertSentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "seen listing %s/%s", monitorID, externalID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load seen listing")
	}

	if alertSentAt.Valid {
		row.AlertSentAt = &alertSentAt.Time
	}
	return &row, nil
}

// CountForMonitor returns how many listings have been recorded for a monitor.
func (s *Store) CountForMonitor(ctx context.Context, monitorID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_listings WHERE monitor_id = ?`, monitorID,
	).Scan(&count)
	return count, errors.Wrap(err, "count seen listings")
}
