package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyra/listwatch/errors"
	lwtest "github.com/veyra/listwatch/internal/testing"
)

func TestMonitorStore(t *testing.T) {
	ctx := context.Background()
	db := lwtest.CreateTestDB(t)
	store := NewMonitorStore(db)

	t.Run("create and get", func(t *testing.T) {
		m := &Monitor{
			ID:            "m-1",
			UserID:        "u-1",
			Site:          "SITE_A",
			Query:         `{"q":"road bike"}`,
			Active:        true,
			AlertsEnabled: true,
		}
		require.NoError(t, store.Create(ctx, m))

		got, err := store.Get(ctx, "m-1")
		require.NoError(t, err)
		assert.Equal(t, "SITE_A", got.Site)
		assert.True(t, got.Active)
		assert.Nil(t, got.LastCheckedAt)
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		_, err := store.Get(ctx, "m-missing")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("list active excludes inactive", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, &Monitor{ID: "m-2", UserID: "u-1", Site: "SITE_B", Active: false}))
		require.NoError(t, store.Create(ctx, &Monitor{ID: "m-3", UserID: "u-2", Site: "SITE_C", Active: true}))

		monitors, err := store.ListActive(ctx)
		require.NoError(t, err)

		ids := make([]string, 0, len(monitors))
		for _, m := range monitors {
			ids = append(ids, m.ID)
		}
		assert.Contains(t, ids, "m-1")
		assert.Contains(t, ids, "m-3")
		assert.NotContains(t, ids, "m-2")
	})

	t.Run("bookkeeping timestamps", func(t *testing.T) {
		at := time.Now().Truncate(time.Second)
		require.NoError(t, store.SetLastChecked(ctx, "m-1", at))
		require.NoError(t, store.SetLastAlert(ctx, "m-1", at))

		got, err := store.Get(ctx, "m-1")
		require.NoError(t, err)
		require.NotNil(t, got.LastCheckedAt)
		require.NotNil(t, got.LastAlertAt)
		assert.WithinDuration(t, at, *got.LastCheckedAt, time.Second)
	})
}

func TestQuotaStore(t *testing.T) {
	ctx := context.Background()
	db := lwtest.CreateTestDB(t)
	store := NewQuotaStore(db)

	_, err := db.Exec(`INSERT INTO subscriptions (id, user_id, status, queries_used, queries_limit) VALUES ('s-1', 'u-1', 'active', 3, 100)`)
	require.NoError(t, err)

	t.Run("increment bumps usage", func(t *testing.T) {
		require.NoError(t, store.Increment(ctx, "s-1"))

		sub, err := store.ActiveForUser(ctx, "u-1")
		require.NoError(t, err)
		assert.Equal(t, 4, sub.QueriesUsed)
	})

	t.Run("increment of unknown subscription fails", func(t *testing.T) {
		err := store.Increment(ctx, "s-unknown")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("no active subscription", func(t *testing.T) {
		_, err := store.ActiveForUser(ctx, "u-without-sub")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestSubscriptionUsable(t *testing.T) {
	assert.False(t, (*Subscription)(nil).Usable())
	assert.False(t, (&Subscription{Status: "cancelled", QueriesUsed: 0, QueriesLimit: 10}).Usable())
	assert.False(t, (&Subscription{Status: "active", QueriesUsed: 10, QueriesLimit: 10}).Usable())
	assert.True(t, (&Subscription{Status: "active", QueriesUsed: 9, QueriesLimit: 10}).Usable())
}

func TestStoreAssembler(t *testing.T) {
	ctx := context.Background()
	db := lwtest.CreateTestDB(t)

	_, err := db.Exec(`INSERT INTO users (id, email, telegram_chat_id) VALUES ('u-1', 'u1@example.com', '12345')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO subscriptions (id, user_id, status, queries_used, queries_limit) VALUES ('s-1', 'u-1', 'active', 0, 50)`)
	require.NoError(t, err)

	monitors := NewMonitorStore(db)
	require.NoError(t, monitors.Create(ctx, &Monitor{ID: "m-1", UserID: "u-1", Site: "SITE_A", Active: true}))

	assembler := NewStoreAssembler(db)

	t.Run("assembles full context", func(t *testing.T) {
		ectx, err := assembler.Assemble(ctx, "m-1")
		require.NoError(t, err)
		assert.Equal(t, "m-1", ectx.Monitor.ID)
		assert.Equal(t, "u1@example.com", ectx.User.Email)
		require.NotNil(t, ectx.Subscription)
		assert.Equal(t, "s-1", ectx.Subscription.ID)
	})

	t.Run("missing subscription is not an error", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO users (id, email) VALUES ('u-2', 'u2@example.com')`)
		require.NoError(t, err)
		require.NoError(t, monitors.Create(ctx, &Monitor{ID: "m-2", UserID: "u-2", Site: "SITE_A", Active: true}))

		ectx, err := assembler.Assemble(ctx, "m-2")
		require.NoError(t, err)
		assert.Nil(t, ectx.Subscription)
	})

	t.Run("missing monitor is an error", func(t *testing.T) {
		_, err := assembler.Assemble(ctx, "m-missing")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestAuthErrorClassification(t *testing.T) {
	base := NewAuthError("SITE_B", "u-1", "session cookie rejected", nil)
	assert.True(t, IsAuthError(base))
	assert.Contains(t, base.Error(), "SITE_B")

	wrapped := errors.Wrap(base, "scrape monitor m-9")
	assert.True(t, IsAuthError(wrapped))

	assert.False(t, IsAuthError(errors.New("connection timed out")))
	assert.False(t, IsAuthError(nil))
}

func TestSessionStatusNeedsAction(t *testing.T) {
	assert.False(t, SessionActive.NeedsAction())
	assert.True(t, SessionNeedsReauth.NeedsAction())
	assert.True(t, SessionExpired.NeedsAction())
	assert.True(t, SessionInvalid.NeedsAction())
}
