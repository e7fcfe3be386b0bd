package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veyra/listwatch/breaker"
	"github.com/veyra/listwatch/dispatch"
	"github.com/veyra/listwatch/errors"
	lwtest "github.com/veyra/listwatch/internal/testing"
)

func TestHealthz(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	s := New(":0", breaker.New(log), nil, nil, log)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestStatsLoopMode(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	brk := breaker.New(log)
	_ = brk.Execute("craigslist", func() error { return nil })
	_ = brk.Execute("vinted", func() error { return errors.New("blocked") })

	s := New(":0", brk, nil, nil, log)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode     string          `json:"mode"`
		Breakers []breaker.Stats `json:"breakers"`
		Workers  int             `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "loop", body.Mode)
	require.Len(t, body.Breakers, 2)
	assert.Equal(t, "craigslist", body.Breakers[0].Key)
	assert.Zero(t, body.Workers)
}

func TestStatsQueueMode(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t).Sugar()
	db := lwtest.CreateTestDB(t)
	q := dispatch.NewQueue(db, log)

	_, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "m-2")
	require.NoError(t, err)

	pool := dispatch.NewWorkerPool(ctx, q, nil, dispatch.DefaultWorkerPoolConfig(), log)

	s := New(":0", breaker.New(log), q, pool, log)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode        string          `json:"mode"`
		Queue       *dispatch.Stats `json:"queue"`
		DeadLetters int             `json:"dead_letters"`
		Workers     int             `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "queue", body.Mode)
	require.NotNil(t, body.Queue)
	assert.Equal(t, 2, body.Queue.Queued)
	assert.Zero(t, body.DeadLetters)
	assert.Equal(t, 5, body.Workers)
}
