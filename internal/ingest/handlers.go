package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roadwatch/roadwatch/internal/score"
	"github.com/roadwatch/roadwatch/internal/validation"
)

// Handler provides HTTP endpoints for the report pipeline
type Handler struct {
	pipeline *Pipeline
}

// NewHandler creates a new ingest handler
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// RegisterRoutes sets up report and dispute endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/reports", h.SubmitReport)
	r.GET("/reports/:reportId", h.GetReport)
	r.POST("/reports/:reportId/disputes", h.OpenDispute)

	drivers := r.Group("/drivers/:userId")
	drivers.Use(validation.UserIDParamMiddleware())
	drivers.GET("/reports", h.ReportsForUser)
}

// RegisterAdminRoutes sets up the moderation endpoints
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/disputes/:disputeId/resolve", h.ResolveDispute)
}

type submitReportRequest struct {
	ReporterID     string  `json:"reporterId" binding:"required"`
	ReportedUserID string  `json:"reportedUserId" binding:"required"`
	IncidentType   string  `json:"incidentType" binding:"required"`
	Description    string  `json:"description"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

// SubmitReport ingests one incident observation.
func (h *Handler) SubmitReport(c *gin.Context) {
	var req submitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must contain reporterId, reportedUserId and incidentType",
		})
		return
	}
	if !validation.IsValidUserID(req.ReporterID) || !validation.IsValidUserID(req.ReportedUserID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "user ids must be 1-64 alphanumeric, dash or underscore characters",
		})
		return
	}

	report, err := h.pipeline.SubmitReport(c.Request.Context(), SubmitRequest{
		ReporterID:     req.ReporterID,
		ReportedUserID: req.ReportedUserID,
		IncidentType:   req.IncidentType,
		Description:    validation.SanitizeString(req.Description, validation.MaxStringLength),
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
	})
	if err != nil {
		h.pipelineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"report": report})
}

// GetReport returns one report by id.
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.pipeline.GetReport(c.Request.Context(), c.Param("reportId"))
	if err != nil {
		h.pipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// ReportsForUser lists reports filed against a driver.
func (h *Handler) ReportsForUser(c *gin.Context) {
	reports, err := h.pipeline.ReportsForUser(c.Request.Context(), c.Param("userId"), 50)
	if err != nil {
		h.pipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":  c.Param("userId"),
		"reports": reports,
	})
}

type openDisputeRequest struct {
	UserID string `json:"userId" binding:"required"`
	Reason string `json:"reason"`
}

// OpenDispute lets the reported driver contest a report.
func (h *Handler) OpenDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must contain userId",
		})
		return
	}

	dispute, err := h.pipeline.OpenDispute(c.Request.Context(), c.Param("reportId"), req.UserID,
		validation.SanitizeString(req.Reason, validation.MaxStringLength))
	if err != nil {
		h.pipelineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": dispute})
}

type resolveDisputeRequest struct {
	Overturned *bool `json:"overturned" binding:"required"`
}

// ResolveDispute closes a dispute (admin only). overturned=true reverses
// the report's penalty.
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must contain overturned (bool)",
		})
		return
	}

	dispute, err := h.pipeline.ResolveDispute(c.Request.Context(), c.Param("disputeId"), *req.Overturned)
	if err != nil {
		h.pipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

func (h *Handler) pipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownIncidentType):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_incident_type",
			"message": "No weight is configured for this incident type",
		})
	case errors.Is(err, ErrReportNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "report_not_found",
			"message": "No report exists with this id",
		})
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "dispute_not_found",
			"message": "No dispute exists with this id",
		})
	case errors.Is(err, ErrAlreadyDisputed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_disputed",
			"message": "This report already has a dispute",
		})
	case errors.Is(err, ErrDisputeClosed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "dispute_closed",
			"message": "This dispute was already resolved",
		})
	case errors.Is(err, ErrNotReportedDriver):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_reported_driver",
			"message": "Only the reported driver can dispute a report",
		})
	case errors.Is(err, score.ErrAlreadyApplied):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_applied",
			"message": "A score mutation for this entity was already applied",
		})
	case errors.Is(err, score.ErrPersistence):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": "Storage is temporarily unavailable, retry the request",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
	}
}
