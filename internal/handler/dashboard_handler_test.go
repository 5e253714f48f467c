package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	"github.com/noah-isme/tutoring-ledger-api/internal/middleware"
	"github.com/noah-isme/tutoring-ledger-api/internal/models"
	"github.com/noah-isme/tutoring-ledger-api/internal/service"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
)

type responseEnvelope struct {
	Data  map[string]interface{} `json:"data"`
	Error map[string]interface{} `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

type fakeDashboardSrv struct {
	resp      *dto.DashboardResponse
	hit       bool
	err       error
	teacherID string
	query     dto.DashboardQuery
}

func (f *fakeDashboardSrv) Rollup(_ context.Context, teacherID string, query dto.DashboardQuery) (*dto.DashboardResponse, bool, error) {
	f.teacherID = teacherID
	f.query = query
	return f.resp, f.hit, f.err
}

type fakeExporter struct {
	file  *service.ExportFile
	err   error
	query dto.DashboardExportQuery
}

func (f *fakeExporter) Dashboard(_ context.Context, _ string, query dto.DashboardExportQuery) (*service.ExportFile, error) {
	f.query = query
	return f.file, f.err
}

func teacherContext(rec *httptest.ResponseRecorder, method, target string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	return c
}

func TestDashboardHandlerRollup(t *testing.T) {
	srv := &fakeDashboardSrv{
		resp: &dto.DashboardResponse{HasLevels: true, Dashboard: &dto.DashboardRollup{
			RollupTotals: dto.RollupTotals{TotalPaidAmount: decimal.NewFromInt(70), TotalUnpaidAmount: decimal.Zero, TotalActiveStudents: 3},
			Levels:       []dto.LevelRollup{},
		}},
		hit: true,
	}
	handler := NewDashboardHandler(srv, &fakeExporter{})

	rec := httptest.NewRecorder()
	c := teacherContext(rec, http.MethodGet, "/dashboard?start_date=2024-03-01&end_date=2024-03-31")
	handler.Rollup(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", srv.teacherID)
	assert.Equal(t, "2024-03-01", srv.query.StartDate)
	assert.Equal(t, "2024-03-31", srv.query.EndDate)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Equal(t, true, envelope.Data["has_levels"])
}

func TestDashboardHandlerRollupRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDashboardHandler(&fakeDashboardSrv{}, &fakeExporter{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	handler.Rollup(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDashboardHandlerRollupError(t *testing.T) {
	handler := NewDashboardHandler(&fakeDashboardSrv{err: appErrors.Clone(appErrors.ErrValidation, "bad window")}, &fakeExporter{})

	rec := httptest.NewRecorder()
	handler.Rollup(teacherContext(rec, http.MethodGet, "/dashboard?preset=this_week&start_date=2024-01-01"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, appErrors.ErrValidation.Code, envelope.Error["code"])
}

func TestDashboardHandlerExport(t *testing.T) {
	exporter := &fakeExporter{file: &service.ExportFile{
		Filename:    "dashboard_all_all.csv",
		ContentType: "text/csv",
		Body:        []byte("Level,Section\n"),
	}}
	handler := NewDashboardHandler(&fakeDashboardSrv{}, exporter)

	rec := httptest.NewRecorder()
	handler.Export(teacherContext(rec, http.MethodGet, "/dashboard/export?format=csv&preset=this_month"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "csv", exporter.query.Format)
	assert.Equal(t, "this_month", exporter.query.Preset)
	assert.Equal(t, `attachment; filename="dashboard_all_all.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Level,Section\n", rec.Body.String())
}
