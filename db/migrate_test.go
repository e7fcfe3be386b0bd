package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen(t *testing.T) {
	t.Run("opens database with pragmas", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		conn, err := Open(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, conn)
		defer conn.Close()

		var journalMode string
		require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("returns error for unwritable path", func(t *testing.T) {
		conn, err := Open("/nonexistent/dir/listwatch.db", nil)
		if err == nil && conn != nil {
			err = conn.Ping()
			conn.Close()
		}
		assert.Error(t, err)
	})
}

func TestMigrate(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	t.Run("applies all migrations", func(t *testing.T) {
		conn, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, Migrate(conn, log))

		for _, table := range []string{"monitors", "seen_listings", "session_states", "watch_jobs", "execution_logs"} {
			var name string
			err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			require.NoError(t, err, "table %s should exist", table)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		conn, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, Migrate(conn, log))
		require.NoError(t, Migrate(conn, log))

		var count int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 2, count)
	})

	t.Run("seen_listings enforces one row per sighting", func(t *testing.T) {
		conn, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, Migrate(conn, log))

		_, err = conn.Exec("INSERT INTO seen_listings (monitor_id, external_id) VALUES ('m-1', 'ext-1')")
		require.NoError(t, err)
		_, err = conn.Exec("INSERT INTO seen_listings (monitor_id, external_id) VALUES ('m-1', 'ext-1')")
		assert.Error(t, err)
	})
}
