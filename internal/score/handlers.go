package score

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roadwatch/roadwatch/internal/validation"
)

// Handler provides HTTP endpoints for driver scores
type Handler struct {
	engine      *Engine
	weights     WeightStore
	sweeper     *Sweeper
	maxPageSize int
}

// NewHandler creates a new score handler
func NewHandler(engine *Engine, weights WeightStore, sweeper *Sweeper) *Handler {
	return &Handler{
		engine:      engine,
		weights:     weights,
		sweeper:     sweeper,
		maxPageSize: 200,
	}
}

// RegisterRoutes sets up public score endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	drivers := r.Group("/drivers/:userId")
	drivers.Use(validation.UserIDParamMiddleware())
	drivers.GET("/score", h.GetScore)
	drivers.GET("/score/history", h.GetHistory)
	drivers.GET("/score/breakdown", h.GetBreakdown)
	drivers.GET("/score/percentile", h.GetPercentile)
	drivers.GET("/milestones", h.GetMilestones)

	r.GET("/incident-weights", h.ListWeights)
}

// RegisterAdminRoutes sets up admin-only score endpoints
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/incident-weights/:incidentType", h.UpsertWeight)
	r.POST("/drivers/:userId/recovery", h.RunRecovery)
	r.POST("/recovery/sweep", h.RunSweep)
}

// GetScore returns the current score for a driver.
// Unknown drivers are initialized at the default score, never 404.
func (h *Handler) GetScore(c *gin.Context) {
	status, err := h.engine.CurrentScore(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetHistory returns the score event ledger for a driver, newest first.
func (h *Handler) GetHistory(c *gin.Context) {
	limit := h.intQuery(c, "limit", 50)
	offset := h.intQuery(c, "offset", 0)
	if limit < 1 || limit > h.maxPageSize {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	events, err := h.engine.History(c.Request.Context(), c.Param("userId"), limit, offset)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId": c.Param("userId"),
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}

// GetBreakdown returns per-incident-type penalty totals for a driver.
func (h *Handler) GetBreakdown(c *gin.Context) {
	entries, err := h.engine.Breakdown(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    c.Param("userId"),
		"breakdown": entries,
	})
}

// GetPercentile returns the driver's standing relative to all other drivers.
func (h *Handler) GetPercentile(c *gin.Context) {
	userID := c.Param("userId")
	if _, err := h.engine.EnsureAggregate(c.Request.Context(), userID); err != nil {
		h.storeError(c, err)
		return
	}
	pct, err := h.engine.Percentile(c.Request.Context(), userID)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":     userID,
		"percentile": pct,
	})
}

// GetMilestones returns achievements recorded for a driver.
func (h *Handler) GetMilestones(c *gin.Context) {
	limit := h.intQuery(c, "limit", 50)
	if limit < 1 || limit > h.maxPageSize {
		limit = 50
	}
	milestones, err := h.engine.Milestones(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":     c.Param("userId"),
		"milestones": milestones,
	})
}

// ListWeights returns the incident weight table.
func (h *Handler) ListWeights(c *gin.Context) {
	weights, err := h.weights.List(c.Request.Context())
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weights": weights})
}

type upsertWeightRequest struct {
	BasePenalty        int     `json:"basePenalty" binding:"min=0"`
	SeverityMultiplier float64 `json:"severityMultiplier" binding:"min=0"`
}

// UpsertWeight creates or updates an incident weight (admin only).
// A zero base penalty marks the type as infrastructure-only.
func (h *Handler) UpsertWeight(c *gin.Context) {
	incidentType := c.Param("incidentType")
	if !validation.IsValidIncidentType(incidentType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_incident_type",
			"message": "incident type must be a lowercase slug",
		})
		return
	}

	var req upsertWeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must contain basePenalty (int >= 0) and severityMultiplier (number >= 0)",
		})
		return
	}

	w := &IncidentWeight{
		IncidentType:       incidentType,
		BasePenalty:        req.BasePenalty,
		SeverityMultiplier: req.SeverityMultiplier,
	}
	if err := h.weights.Upsert(c.Request.Context(), w); err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weight": w})
}

// RunRecovery triggers an on-demand recovery evaluation for one driver (admin only).
func (h *Handler) RunRecovery(c *gin.Context) {
	ev, err := h.sweeper.RunForUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		if errors.Is(err, ErrAlreadyApplied) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_credited",
				"message": "A recovery credit was already applied within the current window",
			})
			return
		}
		h.storeError(c, err)
		return
	}
	if ev == nil {
		c.JSON(http.StatusOK, gin.H{
			"credited": false,
			"message":  "Driver has not been clean long enough to earn recovery points",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credited": true,
		"event":    ev,
	})
}

// RunSweep triggers a full recovery sweep (admin only).
func (h *Handler) RunSweep(c *gin.Context) {
	result, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "sweep_in_progress",
				"message": "A recovery sweep is already running",
			})
			return
		}
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweep": result})
}

func (h *Handler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "user_not_found",
			"message": "No score record exists for this driver",
		})
	case errors.Is(err, ErrPersistence):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": "Score storage is temporarily unavailable",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
	}
}

func (h *Handler) intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
