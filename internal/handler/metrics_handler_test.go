package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-ledger-api/internal/service"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }
func (f pingFunc) Ping(ctx context.Context) error        { return f(ctx) }

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	cases := []struct {
		name   string
		db     Pinger
		cache  cachePinger
		status int
	}{
		{"all healthy", healthy, healthy, http.StatusOK},
		{"no cache configured", healthy, nil, http.StatusOK},
		{"database down", down, healthy, http.StatusServiceUnavailable},
		{"cache down", healthy, down, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

			NewMetricsHandler(nil, tc.db, tc.cache).Ready(c)

			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestMetricsHandlerReadyReportsFailingCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	NewMetricsHandler(nil, down, nil).Ready(c)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]interface{})["database"])
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	metrics.RecordLedgerOperation("mark_attendance", "success", 0)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	NewMetricsHandler(metrics, nil, nil).Prometheus(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mark_attendance")

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	NewMetricsHandler(nil, nil, nil).Prometheus(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
