package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	"github.com/noah-isme/tutoring-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
	"github.com/noah-isme/tutoring-ledger-api/pkg/response"
)

type enrollmentService interface {
	Join(ctx context.Context, teacherID, groupID string, req dto.JoinGroupRequest) (*models.Enrollment, error)
	Remove(ctx context.Context, teacherID, groupID, studentID string) error
	Ledger(ctx context.Context, teacherID, groupID, studentID string) (*models.EnrollmentLedger, error)
}

// EnrollmentHandler exposes group membership endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Join godoc
// @Summary Enroll a student into a group
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.JoinGroupRequest true "Student and join date"
// @Success 201 {object} response.Envelope{data=models.Enrollment}
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /groups/{id}/enrollments [post]
func (h *EnrollmentHandler) Join(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.JoinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Join(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Remove godoc
// @Summary Remove a student from a group
// @Tags Enrollments
// @Param id path string true "Group ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Security BearerAuth
// @Router /groups/{id}/enrollments/{studentId} [delete]
func (h *EnrollmentHandler) Remove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.enrollments.Remove(c.Request.Context(), claims.UserID, c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Sessions godoc
// @Summary Enrollment ledger
// @Description Counters of one enrollment with its sessions in canonical order.
// @Tags Enrollments
// @Produce json
// @Param id path string true "Group ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope{data=models.EnrollmentLedger}
// @Security BearerAuth
// @Router /groups/{id}/enrollments/{studentId}/sessions [get]
func (h *EnrollmentHandler) Sessions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := h.enrollments.Ledger(c.Request.Context(), claims.UserID, c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}
