package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger.Silence()
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	return r
}

func withActor(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
		c.Set(middleware.ContextRoleKey, role)
		c.Next()
	}
}

func TestOrderHandler_CreateOrder_Unauthorized(t *testing.T) {
	r := newEngine()
	handler := &OrderHandler{orders: nil}
	r.POST("/orders", handler.CreateOrder)

	req, _ := http.NewRequest(http.MethodPost, "/orders", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)
}

func TestOrderHandler_CreateOrder_InvalidBody(t *testing.T) {
	r := newEngine()
	handler := &OrderHandler{orders: nil}
	r.POST("/orders", withActor(service.RoleClient), handler.CreateOrder)

	req, _ := http.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"title": 5}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"VALIDATION_ERROR"`)
}

func TestOrderHandler_Fund_InvalidOrderID(t *testing.T) {
	r := newEngine()
	handler := &OrderHandler{orders: nil}
	r.POST("/orders/:id/fund", withActor(service.RoleClient), handler.Fund)

	req, _ := http.NewRequest(http.MethodPost, "/orders/invalid-uuid/fund", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisputeHandler_ListDisputes_Unauthorized(t *testing.T) {
	r := newEngine()
	handler := &DisputeHandler{svc: nil}
	r.GET("/disputes", handler.ListDisputes)

	req, _ := http.NewRequest(http.MethodGet, "/disputes", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDisputeHandler_ForceExecute_RequiresNotes(t *testing.T) {
	r := newEngine()
	handler := &DisputeHandler{svc: nil}
	r.POST("/disputes/:id/force", withActor(service.RoleAdmin), handler.ForceExecute)

	req, _ := http.NewRequest(http.MethodPost, "/disputes/"+uuid.NewString()+"/force", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerHandler_GetBalance_Unauthorized(t *testing.T) {
	r := newEngine()
	handler := &LedgerHandler{ledger: nil}
	r.GET("/orders/:id/balance", handler.GetBalance)

	req, _ := http.NewRequest(http.MethodGet, "/orders/"+uuid.NewString()+"/balance", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthHandler_ReportsUnhealthyDependency(t *testing.T) {
	r := newEngine()
	handler := NewHealthHandler(map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"redis":    PingFunc(func(context.Context) error { return nil }),
		"skipped":  nil,
	})
	r.GET("/health", handler.Health)

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy: connection refused")
	assert.NotContains(t, w.Body.String(), "skipped")
}

func TestWSHandler_RequiresToken(t *testing.T) {
	r := newEngine()
	handler := NewWSHandler(nil, service.NewTokenManager("secret", 0), nil)
	r.GET("/ws", handler.Handle)

	for _, path := range []string{"/ws", "/ws?token=garbage"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}
