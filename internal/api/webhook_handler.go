package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gofamint/content-sync/internal/config"
	"github.com/gofamint/content-sync/internal/service"
	"github.com/rs/zerolog"
)

// WebhookHandler handles inbound CMS notifications
type WebhookHandler struct {
	services        *service.Services
	signatureHeader string
	maxBodyBytes    int64
	log             zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(services *service.Services, cfg *config.Config, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		services:        services,
		signatureHeader: cfg.Webhook.SignatureHeader,
		maxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		log:             log.With().Str("handler", "webhook").Logger(),
	}
}

// Receive handles POST /v1/webhooks/content
// The body is read as raw bytes so the signature covers exactly what was sent.
func (h *WebhookHandler) Receive(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	result, err := h.services.Sync.Process(c.Request.Context(), body, c.GetHeader(h.signatureHeader))
	if err != nil {
		status, message := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("Notification processing failed")
		}
		response := gin.H{"error": message}
		if result != nil {
			response["state"] = result.State
			if result.ExternalID != "" {
				response["external_id"] = result.ExternalID
			}
		}
		c.JSON(status, response)
		return
	}

	c.JSON(http.StatusOK, result)
}

// errorStatus maps service errors to HTTP responses. Internal details of
// persistence failures are not echoed to the caller.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, service.ErrUnresolvedReference),
		errors.Is(err, service.ErrNotFound):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "failed to process notification"
	}
}
