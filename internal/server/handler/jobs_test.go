package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcldev/tokenarena/internal/domain"
)

type fakeScheduler struct {
	stats   domain.QueueStats
	failed  []domain.Job
	retried []string
	purged  bool
}

func (f *fakeScheduler) Schedule(ctx context.Context, jobID string, payload domain.JobPayload, delay time.Duration) error {
	return nil
}

func (f *fakeScheduler) Stats(ctx context.Context) (domain.QueueStats, error) {
	return f.stats, nil
}

func (f *fakeScheduler) FailedJobs(ctx context.Context) ([]domain.Job, error) {
	return f.failed, nil
}

func (f *fakeScheduler) RetryFailed(ctx context.Context, jobID string) error {
	for _, j := range f.failed {
		if j.ID == jobID {
			f.retried = append(f.retried, jobID)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeScheduler) PurgeAll(ctx context.Context) error {
	f.purged = true
	return nil
}

func newJobsTestServer(s domain.Scheduler) *httptest.Server {
	h := NewJobsHandler(s, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs/stats", h.Stats)
	mux.HandleFunc("GET /api/jobs/failed", h.ListFailed)
	mux.HandleFunc("POST /api/jobs/failed/{id}/retry", h.RetryFailed)
	mux.HandleFunc("DELETE /api/jobs", h.Purge)
	return httptest.NewServer(mux)
}

// decodeBody unmarshals a JSON response body into v.
func decodeBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func TestStats_ReturnsCounts(t *testing.T) {
	srv := newJobsTestServer(&fakeScheduler{stats: domain.QueueStats{
		Waiting: 3, Active: 1, Completed: 40, Failed: 2,
	}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/jobs/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats domain.QueueStats
	require.NoError(t, decodeBody(resp, &stats))
	assert.Equal(t, int64(3), stats.Waiting)
	assert.Equal(t, int64(2), stats.Failed)
}

func TestListFailed_ReturnsParkedJobs(t *testing.T) {
	srv := newJobsTestServer(&fakeScheduler{failed: []domain.Job{
		{
			ID:        "prediction:abc",
			Payload:   domain.JobPayload{Kind: domain.JobPredictionResolve, PredictionID: "abc"},
			Attempt:   3,
			LastError: "price unavailable",
		},
	}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/jobs/failed")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Jobs  []failedJobResponse `json:"jobs"`
		Count int                 `json:"count"`
	}
	require.NoError(t, decodeBody(resp, &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "prediction:abc", body.Jobs[0].ID)
	assert.Equal(t, domain.JobPredictionResolve, body.Jobs[0].Payload.Kind)
	assert.Equal(t, 3, body.Jobs[0].Attempt)
	assert.Equal(t, "price unavailable", body.Jobs[0].LastError)
}

func TestRetryFailed_RequeuesKnownJob(t *testing.T) {
	sched := &fakeScheduler{failed: []domain.Job{{ID: "battle_check:b1"}}}
	srv := newJobsTestServer(sched)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/jobs/failed/battle_check:b1/retry", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"battle_check:b1"}, sched.retried)
}

func TestRetryFailed_UnknownIs404(t *testing.T) {
	srv := newJobsTestServer(&fakeScheduler{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/jobs/failed/nope/retry", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPurge_RemovesEverything(t *testing.T) {
	sched := &fakeScheduler{}
	srv := newJobsTestServer(sched)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/jobs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, sched.purged)
}
