package courses

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xuanthe1908/E-Learning-Full/internal/middleware"
	"github.com/xuanthe1908/E-Learning-Full/pkg/response"
)

// Handler exposes the enrollment endpoints that do not involve payment.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a courses handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// EnrollFree handles POST /courses/:id/enroll. Paid courses go through the
// payment flow; this path only accepts free published courses.
func (h *Handler) EnrollFree(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	payerID, ok := callerID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	course, err := h.repo.GetCourse(c.Request.Context(), courseID)
	if err != nil {
		h.logger.Error("course lookup failed", zap.String("course_id", courseID.String()), zap.Error(err))
		response.Internal(c, "failed to load course")
		return
	}
	if course == nil || !course.IsPublished {
		response.NotFound(c, "course not found")
		return
	}
	if course.Paid() {
		response.BadRequest(c, "course requires payment")
		return
	}
	if err := h.repo.Enroll(c.Request.Context(), courseID, payerID, "", 0); err != nil {
		h.logger.Error("free enrollment failed", zap.String("course_id", courseID.String()), zap.Error(err))
		response.Internal(c, "failed to enroll")
		return
	}
	response.OK(c, gin.H{"course_id": courseID, "enrolled": true})
}

// ListEnrollments handles GET /enrollments: the caller's own enrollments.
func (h *Handler) ListEnrollments(c *gin.Context) {
	payerID, ok := callerID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.repo.ListByPayer(c.Request.Context(), payerID)
	if err != nil {
		h.logger.Error("list enrollments failed", zap.Error(err))
		response.Internal(c, "failed to list enrollments")
		return
	}
	response.OK(c, list)
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
