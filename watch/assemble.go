package watch

import (
	"context"
	"database/sql"

	"github.com/veyra/listwatch/errors"
)

// StoreAssembler builds ExecutionContexts from the SQLite stores. It runs
// once per execution at the dispatch boundary so the runner and everything
// below it work from an immutable snapshot.
type StoreAssembler struct {
	monitors *MonitorStore
	quotas   *QuotaStore
	db       *sql.DB
}

// NewStoreAssembler creates an assembler over the shared database.
func NewStoreAssembler(db *sql.DB) *StoreAssembler {
	return &StoreAssembler{
		monitors: NewMonitorStore(db),
		quotas:   NewQuotaStore(db),
		db:       db,
	}
}

// Assemble resolves a monitor id into a full execution context. A missing
// subscription is not an error here; the runner treats it as a quota gate.
func (a *StoreAssembler) Assemble(ctx context.Context, monitorID string) (*ExecutionContext, error) {
	monitor, err := a.monitors.Get(ctx, monitorID)
	if err != nil {
		return nil, err
	}

	var user UserSummary
	err = a.db.QueryRowContext(ctx,
		`SELECT id, email, telegram_chat_id, push_token FROM users WHERE id = ?`,
		monitor.UserID,
	).Scan(&user.ID, &user.Email, &user.TelegramChatID, &user.PushToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "user %s", monitor.UserID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}

	sub, err := a.quotas.ActiveForUser(ctx, monitor.UserID)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	return &ExecutionContext{
		Monitor:      *monitor,
		User:         user,
		Subscription: sub,
	}, nil
}

var _ ContextAssembler = (*StoreAssembler)(nil)
