package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofamint/content-sync/internal/models"
	"github.com/rs/zerolog"
)

const (
	TemplateAuthorApproved = "author-approved"
	TemplateAuthorRevoked  = "author-revoked"
)

var errMissingRecipient = errors.New("missing email recipient")

// Invalidator purges cached renderings for a set of tags
type Invalidator interface {
	Invalidate(ctx context.Context, tags []string) error
}

// Mailer delivers one transactional email
type Mailer interface {
	Send(ctx context.Context, msg models.EmailMessage) error
}

// dispatcher is the concrete implementation of Dispatcher
type dispatcher struct {
	cache  Invalidator
	mailer Mailer
	log    zerolog.Logger
}

// newDispatcher creates a new Dispatcher
func newDispatcher(cache Invalidator, mailer Mailer, log zerolog.Logger) *dispatcher {
	return &dispatcher{
		cache:  cache,
		mailer: mailer,
		log:    log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch fires the effects of a real transition. Delivery failures are
// logged and counted, never returned.
func (d *dispatcher) Dispatch(ctx context.Context, tr *models.Transition) models.EffectReport {
	var report models.EffectReport
	if tr == nil || !tr.Real {
		return report
	}

	if len(tr.CacheTags) > 0 {
		if err := d.cache.Invalidate(ctx, tr.CacheTags); err != nil {
			report.Failures++
			d.log.Error().Err(err).
				Str("external_id", tr.ExternalID).
				Strs("tags", tr.CacheTags).
				Msg("Cache invalidation failed")
		} else {
			report.Invalidated = true
		}
	}

	if tr.NotifiesAuthor() {
		sent, err := d.notifyAuthor(ctx, tr)
		switch {
		case err != nil:
			report.Failures++
		case sent:
			report.EmailsSent++
		}
	}

	return report
}

func (d *dispatcher) notifyAuthor(ctx context.Context, tr *models.Transition) (bool, error) {
	profile := tr.Author
	log := d.log.With().
		Str("profile_id", profile.ID).
		Str("status", string(profile.Status)).
		Logger()

	var template string
	switch profile.Status {
	case models.ApprovalApproved:
		template = TemplateAuthorApproved
	case models.ApprovalRevoked:
		template = TemplateAuthorRevoked
	default:
		return false, nil
	}

	if tr.Recipient == nil || tr.Recipient.Email == "" {
		log.Warn().Str("user_id", profile.UserID).Msg("No recipient for author status email")
		return false, errMissingRecipient
	}

	changedAt := time.Time{}
	if profile.StatusChangedAt != nil {
		changedAt = *profile.StatusChangedAt
	}

	msg := models.EmailMessage{
		Template: template,
		To:       tr.Recipient.Email,
		Data: map[string]any{
			"name":        tr.Recipient.Name,
			"status":      string(profile.Status),
			"reviewNotes": profile.ReviewNotes,
			"changedAt":   changedAt.Format(time.RFC3339),
		},
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", profile.ID, profile.Status, changedAt.UnixMicro()),
	}

	if err := d.mailer.Send(ctx, msg); err != nil {
		log.Error().Err(err).Str("template", template).Msg("Author status email failed")
		return false, err
	}

	log.Info().Str("template", template).Msg("Author status email sent")
	return true, nil
}
