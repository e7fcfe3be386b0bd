package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/veyra/listwatch/errors"
	"github.com/veyra/listwatch/watch"
)

// ReauthNotifyCooldown is how long after a reauth notification further
// notifications for the same (user, site) pair are suppressed.
const ReauthNotifyCooldown = 24 * time.Hour

// Store is the SQLite-backed SessionRepository.
type Store struct {
	db       *sql.DB
	cooldown time.Duration
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCooldown overrides the reauth notification cooldown window.
func WithCooldown(d time.Duration) StoreOption {
	return func(s *Store) { s.cooldown = d }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) { s.now = fn }
}

// NewStore creates a session store over an open database.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:       db,
		cooldown: ReauthNotifyCooldown,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetStatus returns the stored session state for a (user, site) pair, or
// errors.ErrNotFound when the user never configured credentials for site.
func (s *Store) GetStatus(ctx context.Context, userID, site string) (*watch.SessionState, error) {
	var state watch.SessionState
	var status string
	var notifiedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, site, status, last_reauth_notified_at, updated_at
		FROM session_states WHERE user_id = ? AND site = ?`,
		userID, site,
	).Scan(&state.UserID, &state.Site, &status, &notifiedAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "session for user %s at %s", userID, site)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session state")
	}

	state.Status = watch.SessionStatus(status)
	if notifiedAt.Valid {
		state.LastReauthNotifiedAt = &notifiedAt.Time
	}
	return &state, nil
}

// SetActive upserts the session as usable again, clearing any needs-action
// status. Called by the application layer after a successful re-login.
func (s *Store) SetActive(ctx context.Context, userID, site string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_states (user_id, site, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, site) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		userID, site, string(watch.SessionActive), now,
	)
	return errors.Wrapf(err, "activate session for user %s at %s", userID, site)
}

// MarkNeedsReauth flips the session to NEEDS_REAUTH and reports whether the
// caller should notify the user. The cooldown is enforced here: at most one
// notification per window per (user, site) pair, no matter how many monitor
// executions hit the same failure.
func (s *Store) MarkNeedsReauth(ctx context.Context, userID, site, reason string) (bool, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	var notifiedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT last_reauth_notified_at FROM session_states WHERE user_id = ? AND site = ?`,
		userID, site,
	).Scan(&notifiedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrap(err, "load notification state")
	}

	notify := !notifiedAt.Valid || now.Sub(notifiedAt.Time) >= s.cooldown

	if notify {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_states (user_id, site, status, last_reauth_notified_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, site) DO UPDATE SET
				status = excluded.status,
				last_reauth_notified_at = excluded.last_reauth_notified_at,
				updated_at = excluded.updated_at`,
			userID, site, string(watch.SessionNeedsReauth), now, now,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_states (user_id, site, status, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, site) DO UPDATE SET
				status = excluded.status,
				updated_at = excluded.updated_at`,
			userID, site, string(watch.SessionNeedsReauth), now,
		)
	}
	if err != nil {
		return false, errors.Wrapf(err, "mark session needs reauth (%s)", reason)
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "commit")
	}
	return notify, nil
}

var _ watch.SessionRepository = (*Store)(nil)
