package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/repository"
	"github.com/rs/zerolog"
)

// articleService is the concrete implementation of ArticleService
type articleService struct {
	repos *repository.Repositories
	log   zerolog.Logger
}

// newArticleService creates a new ArticleService
func newArticleService(repos *repository.Repositories, log zerolog.Logger) *articleService {
	return &articleService{
		repos: repos,
		log:   log.With().Str("service", "article").Logger(),
	}
}

// StreamArticles streams live mirror rows in the specified format
func (s *articleService) StreamArticles(ctx context.Context, w http.ResponseWriter, filter models.ArticleFilter, format string) error {
	s.log.Debug().Str("format", format).Str("author", filter.AuthorExternalID).Msg("Listing articles")

	switch format {
	case "ndjson":
		return s.streamNDJSON(ctx, w, filter)
	case "json":
		return s.streamJSON(ctx, w, filter)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func (s *articleService) streamNDJSON(ctx context.Context, w http.ResponseWriter, filter models.ArticleFilter) error {
	w.Header().Set("Content-Type", "application/x-ndjson")

	flusher, _ := w.(http.Flusher)
	count := 0

	err := s.repos.Article.StreamAll(ctx, filter, func(article *models.Article) error {
		data, err := json.Marshal(article)
		if err != nil {
			return err
		}
		w.Write(data)
		w.Write([]byte("\n"))
		count++

		// Flush every 100 records for streaming
		if count%100 == 0 && flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	s.log.Debug().Int("count", count).Msg("Article listing completed")
	return err
}

func (s *articleService) streamJSON(ctx context.Context, w http.ResponseWriter, filter models.ArticleFilter) error {
	w.Header().Set("Content-Type", "application/json")

	w.Write([]byte("["))
	first := true

	err := s.repos.Article.StreamAll(ctx, filter, func(article *models.Article) error {
		if !first {
			w.Write([]byte(","))
		}
		first = false

		data, err := json.Marshal(article)
		if err != nil {
			return err
		}
		w.Write(data)
		return nil
	})

	w.Write([]byte("]"))
	return err
}

// RecordView increments a live article's view counter. It reports false
// for unknown or deleted articles.
func (s *articleService) RecordView(ctx context.Context, externalID string, verified bool) (bool, error) {
	found, err := s.repos.Article.IncrementViews(ctx, externalID, verified)
	if err != nil {
		return false, persistence("record view", err)
	}
	return found, nil
}

// GetCount returns the count for a mirrored resource
func (s *articleService) GetCount(ctx context.Context, resource string) (int, error) {
	switch resource {
	case "articles":
		return s.repos.Article.Count(ctx)
	case "authors":
		return s.repos.Author.Count(ctx)
	default:
		return 0, fmt.Errorf("unknown resource: %s", resource)
	}
}
