package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/application/container"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/workers"
)

type stubHealth struct{ healthy bool }

func (s stubHealth) Health(context.Context) container.HealthReport {
	return container.HealthReport{Healthy: s.healthy, Database: "ok"}
}

type stubJobs struct {
	failed   []workers.Record
	limit    int
	replayed []string
}

func (s *stubJobs) Failed(_ context.Context, limit int) ([]workers.Record, error) {
	s.limit = limit
	return s.failed, nil
}

func (s *stubJobs) Replay(_ context.Context, id string) (string, error) {
	for _, r := range s.failed {
		if r.ID == id {
			s.replayed = append(s.replayed, id)
			return "new-" + id, nil
		}
	}
	return "", apperrors.NotFound("failed job", id)
}

func opsRouter(h *OpsHandlers) *gin.Engine {
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/jobs/failed", h.ListFailedJobs)
	r.POST("/jobs/failed/:id/replay", h.ReplayJob)
	r.GET("/logs/levels", h.GetLogLevels)
	r.PUT("/logs/levels", h.SetLogLevel)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHealthStatusFollowsReport(t *testing.T) {
	logger := logging.NewNopLogger()

	w := serve(opsRouter(NewOpsHandlers(stubHealth{healthy: true}, &stubJobs{}, logger)), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(opsRouter(NewOpsHandlers(stubHealth{healthy: false}, &stubJobs{}, logger)), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFailedJobsListAndReplay(t *testing.T) {
	jobs := &stubJobs{failed: []workers.Record{{ID: "j1", Queue: "durable", Type: "persist_message"}}}
	r := opsRouter(NewOpsHandlers(stubHealth{healthy: true}, jobs, logging.NewNopLogger()))

	w := serve(r, http.MethodGet, "/jobs/failed?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 10, jobs.limit)
	var listed struct {
		Jobs  []workers.Record `json:"jobs"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	require.Equal(t, "j1", listed.Jobs[0].ID)

	w = serve(r, http.MethodGet, "/jobs/failed?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodPost, "/jobs/failed/j1/replay", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.JSONEq(t, `{"jobId":"j1","replayId":"new-j1"}`, w.Body.String())
	require.Equal(t, []string{"j1"}, jobs.replayed)

	w = serve(r, http.MethodPost, "/jobs/failed/missing/replay", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetLogLevel(t *testing.T) {
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{OutputToConsole: false, RecentEntries: 10})
	require.NoError(t, err)
	r := opsRouter(NewOpsHandlers(stubHealth{healthy: true}, &stubJobs{}, logger))

	w := serve(r, http.MethodPut, "/logs/levels", `{"channel":"room","level":"warn"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "warn", logger.GetChannelLevels()["room"])

	w = serve(r, http.MethodPut, "/logs/levels", `{"channel":"nope","level":"debug"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
