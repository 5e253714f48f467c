package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	"github.com/noah-isme/tutoring-ledger-api/internal/middleware"
	"github.com/noah-isme/tutoring-ledger-api/internal/service"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
	"github.com/noah-isme/tutoring-ledger-api/pkg/response"
)

type dashboardService interface {
	Rollup(ctx context.Context, teacherID string, query dto.DashboardQuery) (*dto.DashboardResponse, bool, error)
}

type dashboardExporter interface {
	Dashboard(ctx context.Context, teacherID string, query dto.DashboardExportQuery) (*service.ExportFile, error)
}

// DashboardHandler wires the rollup service to HTTP endpoints.
type DashboardHandler struct {
	service  dashboardService
	exporter dashboardExporter
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService, exporter dashboardExporter) *DashboardHandler {
	return &DashboardHandler{service: service, exporter: exporter}
}

// Rollup godoc
// @Summary Teacher dashboard
// @Description Paid, unpaid and active-student totals by level, section and subject.
// @Tags Dashboard
// @Produce json
// @Param start_date query string false "Start date (YYYY-MM-DD)"
// @Param end_date query string false "End date (YYYY-MM-DD)"
// @Param preset query string false "this_week, this_month or this_year"
// @Success 200 {object} response.Envelope{data=dto.DashboardResponse}
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /dashboard [get]
func (h *DashboardHandler) Rollup(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.DashboardQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.service.Rollup(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, meta)
}

// Export godoc
// @Summary Download the teacher dashboard
// @Tags Dashboard
// @Produce text/csv
// @Produce application/pdf
// @Param format query string true "csv or pdf"
// @Param start_date query string false "Start date (YYYY-MM-DD)"
// @Param end_date query string false "End date (YYYY-MM-DD)"
// @Param preset query string false "this_week, this_month or this_year"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /dashboard/export [get]
func (h *DashboardHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.DashboardExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	file, err := h.exporter.Dashboard(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
