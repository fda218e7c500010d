package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"enhancer-bot-backend/internal/common/config"
	"enhancer-bot-backend/internal/features/user/repository/memory"
	"enhancer-bot-backend/internal/features/verification"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Telegram.BotToken = "123:test-token"
	cfg.Server.Origin = "http://localhost:3000"

	verifier := verification.NewService(memory.NewRepository(), 12*time.Hour)
	return NewRouter(cfg, verifier, nil)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestConfirmRequiresInitData(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verification/confirm", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConfirmRejectsForgedInitData(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verification/confirm", nil)
	req.Header.Set("init_data", "user=%7B%22id%22%3A42%7D&auth_date=1700000000&hash=deadbeef")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
