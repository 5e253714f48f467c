package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
	"github.com/noah-isme/tutoring-ledger-api/pkg/response"
)

type reconciliationService interface {
	MarkAttendance(ctx context.Context, teacherID, groupID string, req dto.MarkSessionRequest) (*dto.MarkResult, error)
	UnmarkAttendance(ctx context.Context, teacherID, groupID string, req dto.UnmarkRequest) (*dto.UnmarkResult, error)
	MarkAbsence(ctx context.Context, teacherID, groupID string, req dto.MarkSessionRequest) (*dto.MarkResult, error)
	UnmarkAbsence(ctx context.Context, teacherID, groupID string, req dto.UnmarkRequest) (*dto.UnmarkResult, error)
	MarkPayment(ctx context.Context, teacherID, groupID string, req dto.MarkPaymentRequest) (*dto.PaymentResult, error)
	UnmarkPayment(ctx context.Context, teacherID, groupID string, req dto.UnmarkRequest) (*dto.UnmarkResult, error)
}

// ReconciliationHandler exposes the attendance, absence and payment ledger endpoints.
type ReconciliationHandler struct {
	service reconciliationService
}

// NewReconciliationHandler constructs the handler.
func NewReconciliationHandler(service reconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: service}
}

// MarkAttendance godoc
// @Summary Mark attendance
// @Description Records one attended class per student. Students with an overlapping class that day are skipped and reported.
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.MarkSessionRequest true "Students and class window"
// @Success 200 {object} response.Envelope{data=dto.MarkResult}
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /groups/{id}/attendance [post]
func (h *ReconciliationHandler) MarkAttendance(c *gin.Context) {
	var req dto.MarkSessionRequest
	teacherID, ok := bindLedgerRequest(c, &req)
	if !ok {
		return
	}
	result, err := h.service.MarkAttendance(c.Request.Context(), teacherID, c.Param("id"), req)
	respond(c, result, err)
}

// UnmarkAttendance godoc
// @Summary Unmark attendance
// @Description Reverts the most recently marked unpaid classes per student.
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.UnmarkRequest true "Students and number of classes"
// @Success 200 {object} response.Envelope{data=dto.UnmarkResult}
// @Security BearerAuth
// @Router /groups/{id}/attendance/unmark [post]
func (h *ReconciliationHandler) UnmarkAttendance(c *gin.Context) {
	var req dto.UnmarkRequest
	teacherID, ok := bindLedgerRequest(c, &req)
	if !ok {
		return
	}
	result, err := h.service.UnmarkAttendance(c.Request.Context(), teacherID, c.Param("id"), req)
	respond(c, result, err)
}

// MarkAbsence godoc
// @Summary Mark absence
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.MarkSessionRequest true "Students and class window"
// @Success 200 {object} response.Envelope{data=dto.MarkResult}
// @Security BearerAuth
// @Router /groups/{id}/absence [post]
func (h *ReconciliationHandler) MarkAbsence(c *gin.Context) {
	var req dto.MarkSessionRequest
	teacherID, ok := bindLedgerRequest(c, &req)
	if !ok {
		return
	}
	result, err := h.service.MarkAbsence(c.Request.Context(), teacherID, c.Param("id"), req)
	respond(c, result, err)
}

// UnmarkAbsence godoc
// @Summary Unmark absence
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.UnmarkRequest true "Students and number of classes"
// @Success 200 {object} response.Envelope{data=dto.UnmarkResult}
// @Security BearerAuth
// @Router /groups/{id}/absence/unmark [post]
func (h *ReconciliationHandler) UnmarkAbsence(c *gin.Context) {
	var req dto.UnmarkRequest
	teacherID, ok := bindLedgerRequest(c, &req)
	if !ok {
		return
	}
	result, err := h.service.UnmarkAbsence(c.Request.Context(), teacherID, c.Param("id"), req)
	respond(c, result, err)
}

// MarkPayment godoc
// @Summary Mark payment
// @Description Settles classes oldest first; missing classes are created as pre-paid slots.
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.MarkPaymentRequest true "Students and number of classes"
// @Success 200 {object} response.Envelope{data=dto.PaymentResult}
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /groups/{id}/payments [post]
func (h *ReconciliationHandler) MarkPayment(c *gin.Context) {
	var req dto.MarkPaymentRequest
	teacherID, ok := bindLedgerRequest(c, &req)
	if !ok {
		return
	}
	result, err := h.service.MarkPayment(c.Request.Context(), teacherID, c.Param("id"), req)
	respond(c, result, err)
}

// UnmarkPayment godoc
// @Summary Unmark payment
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.UnmarkRequest true "Students and number of classes"
// @Success 200 {object} response.Envelope{data=dto.UnmarkResult}
// @Security BearerAuth
// @Router /groups/{id}/payments/unmark [post]
func (h *ReconciliationHandler) UnmarkPayment(c *gin.Context) {
	var req dto.UnmarkRequest
	teacherID, ok := bindLedgerRequest(c, &req)
	if !ok {
		return
	}
	result, err := h.service.UnmarkPayment(c.Request.Context(), teacherID, c.Param("id"), req)
	respond(c, result, err)
}

func bindLedgerRequest(c *gin.Context, req interface{}) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return "", false
	}
	return claims.UserID, true
}

func respond(c *gin.Context, data interface{}, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, data)
}
