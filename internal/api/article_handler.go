package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/service"
	"github.com/rs/zerolog"
)

const (
	authenticatedUserHeader = "X-Authenticated-User"
	maxListLimit            = 1000
)

// ArticleHandler serves the local article mirror
type ArticleHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewArticleHandler creates a new ArticleHandler
func NewArticleHandler(services *service.Services, log zerolog.Logger) *ArticleHandler {
	return &ArticleHandler{
		services: services,
		log:      log.With().Str("handler", "article").Logger(),
	}
}

// List handles GET /v1/articles?author=...&approved=...&format=...&limit=...
// Streams the listing directly to the response
func (h *ArticleHandler) List(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "ndjson" && format != "json" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be one of: ndjson, json"})
		return
	}

	filter := models.ArticleFilter{AuthorExternalID: c.Query("author")}

	if raw := c.Query("approved"); raw != "" {
		approved, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "approved must be true or false"})
			return
		}
		filter.Approved = &approved
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || limit == 0 || limit > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		filter.Limit = limit
	}

	if err := h.services.Article.StreamArticles(c.Request.Context(), c.Writer, filter, format); err != nil {
		h.log.Error().Err(err).Msg("Article listing failed")
		// Can't return error JSON after streaming has started
		return
	}
}

// RecordView handles POST /v1/articles/:external_id/views
func (h *ArticleHandler) RecordView(c *gin.Context) {
	externalID := c.Param("external_id")
	verified := c.GetHeader(authenticatedUserHeader) != ""

	found, err := h.services.Article.RecordView(c.Request.Context(), externalID, verified)
	if err != nil {
		h.log.Error().Err(err).Str("external_id", externalID).Msg("Failed to record view")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record view"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"external_id": externalID, "verified": verified})
}
