package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/jobs"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) PingContext(ctx context.Context) error {
	return p.err
}

func newTestHandler(pingErr error) *OpsHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOpsHandler(&fakePinger{err: pingErr}, jobs.NewMockJobStore(), logger)
}

func TestHealth(t *testing.T) {
	router := newTestHandler(nil).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	t.Run("database reachable", func(t *testing.T) {
		router := newTestHandler(nil).Router()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("database down", func(t *testing.T) {
		router := newTestHandler(errors.New("connection refused")).Router()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestQueueStats(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobStore := jobs.NewMockJobStore()

	for i := 0; i < 3; i++ {
		job, err := domain.NewJob(domain.JobTypeReminderFire, domain.JobPayload{}, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, jobStore.Enqueue(context.Background(), job))
	}
	_, err := jobStore.Claim(context.Background(), "test-worker", time.Minute)
	require.NoError(t, err)

	handler := NewOpsHandler(&fakePinger{}, jobStore, logger)
	rec := httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/queue/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp QueueStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Counts[domain.JobStatusPending])
	assert.Equal(t, 1, resp.Counts[domain.JobStatusClaimed])
}
