package service

import (
	"context"
	"time"

	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/webhook"
	"github.com/rs/zerolog"
)

// syncService is the concrete implementation of SyncService
type syncService struct {
	verifier         *webhook.Verifier
	classifier       *webhook.Classifier
	reconciler       Reconciler
	dispatcher       Dispatcher
	reconcileTimeout time.Duration
	effectTimeout    time.Duration
	log              zerolog.Logger
}

// newSyncService creates a new SyncService
func newSyncService(verifier *webhook.Verifier, reconciler Reconciler, dispatcher Dispatcher, reconcileTimeout, effectTimeout time.Duration, log zerolog.Logger) *syncService {
	return &syncService{
		verifier:         verifier,
		classifier:       webhook.NewClassifier(),
		reconciler:       reconciler,
		dispatcher:       dispatcher,
		reconcileTimeout: reconcileTimeout,
		effectTimeout:    effectTimeout,
		log:              log.With().Str("service", "sync").Logger(),
	}
}

// Process runs one notification through verify, classify, reconcile and
// dispatch. The returned result is always non-nil and carries the state the
// request ended in.
func (s *syncService) Process(ctx context.Context, body []byte, signature string) (*models.SyncResult, error) {
	result := &models.SyncResult{State: models.StateReceived}

	if !s.verifier.Verify(body, signature) {
		result.State = models.StateRejected
		s.log.Warn().Int("body_bytes", len(body)).Bool("signature_present", signature != "").Msg("Rejected unsigned notification")
		return result, ErrUnauthorized
	}
	result.State = models.StateVerified

	ev := s.classifier.Classify(body)
	result.State = models.StateClassified
	result.Kind = ev.Kind
	result.Operation = ev.Op
	result.ExternalID = ev.ExternalID
	result.Fingerprint = ev.Fingerprint

	log := s.log.With().
		Str("fingerprint", ev.Fingerprint).
		Str("kind", string(ev.Kind)).
		Str("op", string(ev.Op)).
		Str("external_id", ev.ExternalID).
		Logger()

	if !ev.Actionable() {
		result.State = models.StateAcknowledgedNoOp
		result.Reason = ev.Reason
		log.Info().Str("reason", ev.Reason).Msg("Acknowledged unrecognized notification")
		return result, nil
	}

	// Once verified, work must not be abandoned half-way because the caller
	// hung up.
	detached := context.WithoutCancel(ctx)

	reconcileCtx, cancel := context.WithTimeout(detached, s.reconcileTimeout)
	tr, err := s.reconciler.Reconcile(reconcileCtx, ev)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("Reconciliation failed")
		return result, err
	}
	result.State = models.StateReconciled
	result.Changed = tr.Real
	if tr.ExternalID != "" {
		result.ExternalID = tr.ExternalID
	}
	if tr.Stale {
		result.Reason = "stale event"
	}

	if tr.Real {
		effectCtx, cancel := context.WithTimeout(detached, s.effectTimeout)
		result.Effects = s.dispatcher.Dispatch(effectCtx, tr)
		cancel()
	}
	result.State = models.StateEffectsDispatched

	log.Info().
		Bool("changed", result.Changed).
		Bool("invalidated", result.Effects.Invalidated).
		Int("emails_sent", result.Effects.EmailsSent).
		Int("effect_failures", result.Effects.Failures).
		Msg("Notification processed")

	result.State = models.StateResponded
	return result, nil
}
