package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func agentRouter() *gin.Engine {
	logger := logging.NewNopLogger()
	r := gin.New()
	r.Use(AgentAuthMiddleware(testSecret, logger))
	r.GET("/me", func(c *gin.Context) {
		claims, _ := GetAgent(c)
		c.String(http.StatusOK, claims.AgentID)
	})
	r.GET("/admin", AdminOnlyMiddleware(logger), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func bearer(t *testing.T, claims security.AgentClaims) string {
	t.Helper()
	token, err := security.GenerateAgentToken(claims, testSecret, time.Now(), time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func get(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAgentAuthMiddleware(t *testing.T) {
	r := agentRouter()

	w := get(r, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/me", map[string]string{"Authorization": "Bearer not-a-token"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/me", map[string]string{"Authorization": bearer(t, security.AgentClaims{AgentID: "a1", TenantID: "t1"})})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "a1", w.Body.String())
}

func TestAdminOnlyMiddleware(t *testing.T) {
	r := agentRouter()

	w := get(r, "/admin", map[string]string{"Authorization": bearer(t, security.AgentClaims{AgentID: "a1", TenantID: "t1"})})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = get(r, "/admin", map[string]string{"Authorization": bearer(t, security.AgentClaims{AgentID: "a1", TenantID: "t1", Role: security.RoleAdmin})})
	require.Equal(t, http.StatusNoContent, w.Code)
}

type stubSessions map[string]visitor.Session

func (s stubSessions) SessionByToken(_ context.Context, token string) (visitor.Session, error) {
	if sess, ok := s[token]; ok {
		return sess, nil
	}
	return visitor.Session{}, apperrors.NotFound("session", token)
}

func TestVisitorSessionMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(VisitorSessionMiddleware(stubSessions{"tok": {ID: "s1", TenantID: "t1"}}, logging.NewNopLogger()))
	r.GET("/me", func(c *gin.Context) {
		s, ok := GetSession(c)
		require.True(t, ok)
		c.String(http.StatusOK, s.ID)
	})

	require.Equal(t, http.StatusUnauthorized, get(r, "/me", nil).Code)
	require.Equal(t, http.StatusUnauthorized, get(r, "/me", map[string]string{SessionHeader: "other"}).Code)

	w := get(r, "/me", map[string]string{SessionHeader: "tok"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "s1", w.Body.String())
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(r, "/x", map[string]string{"Origin": "https://app.example.com"})
	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(r, "/x", map[string]string{"Origin": "https://evil.example.com"})
	require.Equal(t, http.StatusForbidden, w.Code)
}
