package service

import (
	"context"
	"net/http"

	"github.com/gofamint/content-sync/internal/config"
	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/repository"
	"github.com/gofamint/content-sync/internal/webhook"
	"github.com/rs/zerolog"
)

// SyncService defines the interface for webhook processing
type SyncService interface {
	Process(ctx context.Context, body []byte, signature string) (*models.SyncResult, error)
}

// Reconciler applies classified events to the local mirror
type Reconciler interface {
	Reconcile(ctx context.Context, ev *models.NotificationEvent) (*models.Transition, error)
}

// Dispatcher fires the downstream effects of a real transition
type Dispatcher interface {
	Dispatch(ctx context.Context, tr *models.Transition) models.EffectReport
}

// ArticleService defines the interface for mirror reads and view counting
type ArticleService interface {
	StreamArticles(ctx context.Context, w http.ResponseWriter, filter models.ArticleFilter, format string) error
	RecordView(ctx context.Context, externalID string, verified bool) (bool, error)
	GetCount(ctx context.Context, resource string) (int, error)
}

// HealthChecker reports whether backing stores are reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services holds all service interfaces. CacheHealth is reported by /health
// but never fails it.
type Services struct {
	Sync        SyncService
	Article     ArticleService
	Health      HealthChecker
	CacheHealth HealthChecker
}

// Deps are the external collaborators services are built from
type Deps struct {
	Repos       *repository.Repositories
	Verifier    *webhook.Verifier
	Invalidator Invalidator
	Mailer      Mailer
	Health      HealthChecker
	CacheHealth HealthChecker
}

// NewServices creates all services
func NewServices(deps Deps, cfg *config.Config, log zerolog.Logger) *Services {
	reconciler := newReconciler(deps.Repos, log)
	dispatcher := newDispatcher(deps.Invalidator, deps.Mailer, log)
	syncSvc := newSyncService(
		deps.Verifier,
		reconciler,
		dispatcher,
		cfg.Sync.ReconcileTimeout,
		cfg.Sync.EffectTimeout,
		log,
	)

	return &Services{
		Sync:        syncSvc,
		Article:     newArticleService(deps.Repos, log),
		Health:      deps.Health,
		CacheHealth: deps.CacheHealth,
	}
}

// NewReconciler exposes the reconciler for callers that drive it directly
func NewReconciler(repos *repository.Repositories, log zerolog.Logger) Reconciler {
	return newReconciler(repos, log)
}

// NewDispatcher exposes the effect dispatcher
func NewDispatcher(cache Invalidator, mailer Mailer, log zerolog.Logger) Dispatcher {
	return newDispatcher(cache, mailer, log)
}
