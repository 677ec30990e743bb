package identity

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roadwatch/roadwatch/internal/validation"
)

// Handler provides HTTP endpoints for identity verification
type Handler struct {
	service *Service
}

// NewHandler creates a new identity handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up verification endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/identity/verifications", h.StartVerification)
	r.POST("/identity/webhook", h.Webhook)

	drivers := r.Group("/drivers/:userId")
	drivers.Use(validation.UserIDParamMiddleware())
	drivers.GET("/verification", h.GetVerification)
}

// RegisterAdminRoutes sets up the manual confirmation endpoint
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/drivers/:userId/verify", h.ConfirmManually)
}

type startVerificationRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// StartVerification begins a Stripe Identity verification session.
func (h *Handler) StartVerification(c *gin.Context) {
	var req startVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must contain a well-formed userId",
		})
		return
	}

	result, err := h.service.StartVerification(c.Request.Context(), req.UserID)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetVerification returns a driver's verification status.
func (h *Handler) GetVerification(c *gin.Context) {
	v, err := h.service.GetVerification(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": v})
}

// Webhook receives Stripe Identity event deliveries.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Could not read webhook payload",
		})
		return
	}

	err = h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrStripeDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "stripe_disabled",
				"message": "Stripe is not configured",
			})
			return
		}
		// Bad signature or unprocessable event: tell Stripe not to retry
		// with a 400, anything transient with a 500.
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"received": true, "matched": false})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "webhook_rejected",
			"message": "Webhook could not be processed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// ConfirmManually verifies a driver without Stripe (admin only).
func (h *Handler) ConfirmManually(c *gin.Context) {
	v, err := h.service.ConfirmManually(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": v})
}

func (h *Handler) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "verification_not_found",
			"message": "No verification exists for this driver",
		})
	case errors.Is(err, ErrAlreadyVerified):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_verified",
			"message": "This driver is already verified",
		})
	case errors.Is(err, ErrStripeDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "stripe_disabled",
			"message": "Identity verification requires Stripe configuration; use the admin confirm endpoint",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
	}
}
