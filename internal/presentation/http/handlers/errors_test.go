package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperrors.NotFound("room", "r1"), http.StatusNotFound},
		{"validation", apperrors.Validation("body is empty"), http.StatusBadRequest},
		{"capacity", &apperrors.CapacityError{AgentID: "a1", Status: "ONLINE", Current: 3, Max: 3}, http.StatusConflict},
		{"rate limited", apperrors.ErrRateLimited, http.StatusTooManyRequests},
		{"unavailable", apperrors.Unavailable("load room", errors.New("boom")), http.StatusServiceUnavailable},
		{"circuit open", apperrors.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"transient", apperrors.Transient(errors.New("timeout")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func respond(err error) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
	respondError(c, logging.NewNopLogger().HTTP(), err)
	return w
}

func TestRespondErrorCarriesCapacityCounts(t *testing.T) {
	w := respond(&apperrors.CapacityError{AgentID: "a1", Status: "AWAY", Current: 1, Max: 2})
	require.Equal(t, http.StatusConflict, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "a1", body["agentId"])
	require.Equal(t, "AWAY", body["status"])
	require.EqualValues(t, 1, body["current"])
	require.EqualValues(t, 2, body["max"])
}

func TestRespondErrorMasksInternalErrors(t *testing.T) {
	w := respond(errors.New("sql: connection string with password"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}
