package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pleblottery/pleblottery/internal/coordinator"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	state := coordinator.NewSharedState(coordinator.NewClientRegistry())
	return NewServer(ServerConfig{Port: 0, Environment: "test"}, state)
}

func TestHandleTemplate_NoTemplateYet(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/template", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTemplate_ReturnsLatest(t *testing.T) {
	s := newTestServer(t)
	s.state.SetLatestTemplate(&coordinator.Template{
		TemplateID:        7,
		FutureTemplate:    true,
		Version:           0x20000000,
		CoinbaseTxVersion: 2,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/template", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"template_id":7`)
}

func TestHandleStats_ReflectsCounters(t *testing.T) {
	s := newTestServer(t)
	s.state.IncrementSharesSubmitted()
	s.state.IncrementSharesSubmitted()
	s.state.UpdateBestShare(123.5)
	s.state.AddClient()

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_shares_submitted":2`)
	assert.Contains(t, rec.Body.String(), `"total_clients":1`)
}

func TestHandleClients_ListsRegisteredClients(t *testing.T) {
	s := newTestServer(t)
	s.state.Registry.AddClient(1, 0, []byte{0x00, 0x01}, []byte{0x6a})

	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"client_id":1`)
}

func TestHandleHealth_ReportsHealthy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
