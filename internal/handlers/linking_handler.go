package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fintrackhq/fintrack-linking/internal/models"
	"github.com/fintrackhq/fintrack-linking/internal/services"
)

// ==============================================
// SERVICE INTERFACES (for testing)
// ==============================================

type LinkingService interface {
	StartLinking(ctx context.Context, userID string, channel models.Channel, destination string) (*services.StartResult, error)
	SubmitCode(ctx context.Context, userID string, channel models.Channel, code string) (*services.SubmitResult, error)
	Status(ctx context.Context, userID string, channel models.Channel) (models.SessionStatus, string, error)
	CancelLinking(ctx context.Context, userID string, channel models.Channel) error
}

type StatusWatcher interface {
	Watch(ctx context.Context, userID string, channel models.Channel) <-chan services.StatusUpdate
}

// ==============================================
// HANDLER (HTTP Layer ONLY)
// ==============================================

type LinkingHandler struct {
	service LinkingService
	watcher StatusWatcher
}

func NewLinkingHandler(service LinkingService, watcher StatusWatcher) *LinkingHandler {
	return &LinkingHandler{service: service, watcher: watcher}
}

// ==============================================
// REQUEST / RESPONSE TYPES
// ==============================================

type startLinkingRequest struct {
	Phone string `json:"phone"` // required for whatsapp, ignored for telegram
}

type submitCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// ==============================================
// ENDPOINTS
// ==============================================

// StartLinking handles POST /api/v1/linking/:channel/start
func (h *LinkingHandler) StartLinking(c *gin.Context) {
	userID, channel, ok := h.parseIdentity(c)
	if !ok {
		return
	}

	var req startLinkingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, models.ErrCodeValidationFailed, err)
			return
		}
	}

	resp, err := h.service.StartLinking(c.Request.Context(), userID, channel, req.Phone)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// SubmitCode handles POST /api/v1/linking/:channel/verify
func (h *LinkingHandler) SubmitCode(c *gin.Context) {
	userID, channel, ok := h.parseIdentity(c)
	if !ok {
		return
	}

	var req submitCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, models.ErrCodeValidationFailed, err)
		return
	}

	resp, err := h.service.SubmitCode(c.Request.Context(), userID, channel, req.Code)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, resp)
}

// Status handles GET /api/v1/linking/:channel/status
func (h *LinkingHandler) Status(c *gin.Context) {
	userID, channel, ok := h.parseIdentity(c)
	if !ok {
		return
	}

	status, externalRef, err := h.service.Status(c.Request.Context(), userID, channel)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, services.StatusUpdate{
		Status:      status,
		ExternalRef: externalRef,
	})
}

// StreamStatus handles GET /api/v1/linking/:channel/status/stream as a
// server-sent event stream. The poll loop's lifetime is the request
// context: when the client disconnects, gin cancels it and the watcher
// closes the stream.
func (h *LinkingHandler) StreamStatus(c *gin.Context) {
	userID, channel, ok := h.parseIdentity(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	updates := h.watcher.Watch(c.Request.Context(), userID, channel)
	c.Stream(func(w io.Writer) bool {
		update, open := <-updates
		if !open {
			return false
		}
		c.SSEvent("status", update)
		return !update.Status.IsTerminal()
	})
}

// CancelLinking handles DELETE /api/v1/linking/:channel
func (h *LinkingHandler) CancelLinking(c *gin.Context) {
	userID, channel, ok := h.parseIdentity(c)
	if !ok {
		return
	}

	if err := h.service.CancelLinking(c.Request.Context(), userID, channel); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ==============================================
// ROUTE REGISTRATION
// ==============================================

func (h *LinkingHandler) RegisterRoutes(router *gin.Engine, startLimit, verifyLimit gin.HandlerFunc) {
	v1 := router.Group("/api/v1/linking")
	{
		v1.POST("/:channel/start", startLimit, h.StartLinking)
		v1.POST("/:channel/verify", verifyLimit, h.SubmitCode)
		v1.GET("/:channel/status", h.Status)
		v1.GET("/:channel/status/stream", h.StreamStatus)
		v1.DELETE("/:channel", h.CancelLinking)
	}
}

// ==============================================
// HELPER FUNCTIONS
// ==============================================

// parseIdentity extracts the authenticated user and the channel from the
// request. Identity comes from the upstream auth gateway; this service
// never authenticates users itself.
func (h *LinkingHandler) parseIdentity(c *gin.Context) (string, models.Channel, bool) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", errors.New("missing X-User-ID header"))
		return "", "", false
	}

	channel, err := models.ParseChannel(c.Param("channel"))
	if err != nil {
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidChannel, err)
		return "", "", false
	}

	return userID, channel, true
}

// respondSuccess sends a successful JSON response
func respondSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// respondError sends an error JSON response
func respondError(c *gin.Context, statusCode int, code string, err error) {
	c.JSON(statusCode, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

// respondServiceError maps service errors to appropriate HTTP status codes and responses
func respondServiceError(c *gin.Context, err error) {
	if mismatch, ok := models.IsCodeMismatch(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":              models.ErrCodeMismatch,
			"message":            "incorrect code",
			"attempts_remaining": mismatch.AttemptsRemaining,
		})
		return
	}

	statusCode, code := mapServiceError(err)
	c.JSON(statusCode, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

// mapServiceError maps service errors to HTTP status codes and API error codes
func mapServiceError(err error) (int, string) {
	switch {
	// Validation errors (400 Bad Request)
	case errors.Is(err, models.ErrInvalidChannel):
		return http.StatusBadRequest, models.ErrCodeInvalidChannel
	case errors.Is(err, models.ErrInvalidDestination):
		return http.StatusBadRequest, models.ErrCodeValidationFailed

	// Not found (404)
	case errors.Is(err, models.ErrNoPendingSession):
		return http.StatusNotFound, models.ErrCodeNoPendingSession

	// Conflicts (409)
	case errors.Is(err, models.ErrAlreadyLinked):
		return http.StatusConflict, models.ErrCodeAlreadyLinked

	// Terminal session states: the caller must regenerate
	case errors.Is(err, models.ErrSessionExpired):
		return http.StatusGone, models.ErrCodeExpired
	case errors.Is(err, models.ErrLockedOut):
		return http.StatusLocked, models.ErrCodeLockedOut

	// Transient upstream failures, safe to retry
	case errors.Is(err, models.ErrDeliveryFailed):
		return http.StatusBadGateway, models.ErrCodeDeliveryFailed
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, models.ErrCodeStoreUnavailable

	default:
		return http.StatusInternalServerError, models.ErrCodeInternalError
	}
}
