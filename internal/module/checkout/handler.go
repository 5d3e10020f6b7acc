package checkout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/pixata/checkout/internal/shared/errors"
)

// Handler handles HTTP requests for the payment API.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payment := r.Group("/payment")
	{
		payment.GET("/config", h.GetConfig)
		payment.POST("/prepare-payment-intent", h.PrepareIntent)
		payment.POST("/process-payment", h.ProcessPayment)
		payment.POST("/finalize", h.FinalizePayment)
	}
}

func respondError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

// GetConfig returns the publishable key for browser-side initialization.
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ConfigResponse{
		PublishableKey: h.service.PublishableKey(),
	})
}

// PrepareIntent creates a payment intent and returns its ID.
func (h *Handler) PrepareIntent(c *gin.Context) {
	var req PrepareIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.ValidationError(err.Error()))
		return
	}

	intentID, err := h.service.CreateIntent(c.Request.Context(), req.Amount, req.Currency, req.Description)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidCurrency) {
			respondError(c, apperrors.BadRequest(err.Error()))
			return
		}
		respondError(c, apperrors.BadRequest("failed to create payment intent"))
		return
	}

	c.JSON(http.StatusOK, PrepareIntentResponse{PaymentIntentID: intentID})
}

// ProcessPayment confirms a submitted payment method and returns the
// normalized result. Precondition violations are the only 400s; business
// declines come back as 200 with status Declined.
func (h *Handler) ProcessPayment(c *gin.Context) {
	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.ValidationError(err.Error()))
		return
	}

	result, err := h.service.ProcessPayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	c.JSON(http.StatusOK, result)
}

// FinalizePayment settles an intent after the authentication detour.
func (h *Handler) FinalizePayment(c *gin.Context) {
	var req struct {
		PaymentIntentID string `json:"paymentIntentId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.ValidationError(err.Error()))
		return
	}

	result, err := h.service.FinalizePayment(c.Request.Context(), req.PaymentIntentID)
	if err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	c.JSON(http.StatusOK, result)
}
