package flow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReturnHandler accepts return signals over HTTP. The post-3DS landing page
// posts its signal here, which feeds the listener and resumes the session.
type ReturnHandler struct {
	listener *ReturnListener
}

// NewReturnHandler creates a return handler.
func NewReturnHandler(listener *ReturnListener) *ReturnHandler {
	return &ReturnHandler{listener: listener}
}

// RegisterRoutes registers the return route.
func (h *ReturnHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payment/return", h.HandleReturn)
}

// HandleReturn forwards a raw signal into the listener. Unrecognized
// messages are rejected without side effects.
func (h *ReturnHandler) HandleReturn(c *gin.Context) {
	var req struct {
		Signal string `json:"signal" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.listener.Notify(c.Request.Context(), req.Signal); err != nil {
		if errors.Is(err, ErrUnrecognizedSignal) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized signal"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal not accepted"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
