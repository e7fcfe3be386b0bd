package watch

import (
	"context"
	"database/sql"

	"github.com/veyra/listwatch/errors"
)

// QuotaStore is the SQLite-backed QuotaRepository. It reads the billing
// subsystem's subscriptions table; the engine never creates or deletes rows.
type QuotaStore struct {
	db *sql.DB
}

// NewQuotaStore creates a quota store over an open database.
func NewQuotaStore(db *sql.DB) *QuotaStore {
	return &QuotaStore{db: db}
}

// Increment atomically bumps queries_used for a subscription.
func (s *QuotaStore) Increment(ctx context.Context, subscriptionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET queries_used = queries_used + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		subscriptionID)
	if err != nil {
		return errors.Wrapf(err, "increment quota for subscription %s", subscriptionID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "subscription %s", subscriptionID)
	}
	return nil
}

// ActiveForUser returns the user's active subscription, or errors.ErrNotFound
// when the user has none.
func (s *QuotaStore) ActiveForUser(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, queries_used, queries_limit
		FROM subscriptions WHERE user_id = ? AND status = 'active'
		ORDER BY updated_at DESC LIMIT 1`,
		userID,
	).Scan(&sub.ID, &sub.UserID, &sub.Status, &sub.QueriesUsed, &sub.QueriesLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "active subscription for user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load subscription")
	}
	return &sub, nil
}

var _ QuotaRepository = (*QuotaStore)(nil)
