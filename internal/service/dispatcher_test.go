package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gofamint/content-sync/internal/mocks"
	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/service"
	"github.com/rs/zerolog"
)

func approvedTransition() *models.Transition {
	changed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &models.Transition{
		Kind:           models.EntityAuthor,
		Op:             models.OpStatusChange,
		ExternalID:     "A1",
		Real:           true,
		CacheTags:      []string{"author:A1", "authors"},
		PreviousStatus: models.ApprovalPending,
		Author: &models.AuthorProfile{
			ID:              "p-1",
			UserID:          "u-1",
			Status:          models.ApprovalApproved,
			StatusChangedAt: &changed,
		},
		Recipient: &models.User{ID: "u-1", Email: "ada@example.org", Name: "Ada"},
	}
}

func TestDispatch_NoOpTransition(t *testing.T) {
	inv := mocks.NewMockInvalidator()
	mailer := mocks.NewMockMailer()
	d := service.NewDispatcher(inv, mailer, zerolog.Nop())

	tr := approvedTransition()
	tr.Real = false
	report := d.Dispatch(context.Background(), tr)

	if report.Invalidated || report.EmailsSent != 0 || report.Failures != 0 {
		t.Errorf("Expected empty report, got %+v", report)
	}
	if len(inv.Calls) != 0 || len(mailer.Sent) != 0 {
		t.Error("No-op transitions must not fire effects")
	}
}

func TestDispatch_AuthorApproved(t *testing.T) {
	inv := mocks.NewMockInvalidator()
	mailer := mocks.NewMockMailer()
	d := service.NewDispatcher(inv, mailer, zerolog.Nop())

	report := d.Dispatch(context.Background(), approvedTransition())

	if !report.Invalidated || report.EmailsSent != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
	if len(inv.Calls) != 1 || inv.Calls[0][0] != "author:A1" {
		t.Errorf("Unexpected invalidation calls: %v", inv.Calls)
	}

	msg := mailer.Sent[0]
	if msg.Template != service.TemplateAuthorApproved {
		t.Errorf("Expected %s, got %s", service.TemplateAuthorApproved, msg.Template)
	}
	if !strings.HasPrefix(msg.IdempotencyKey, "p-1:approved:") {
		t.Errorf("Unexpected idempotency key %q", msg.IdempotencyKey)
	}
	if msg.Data["name"] != "Ada" {
		t.Errorf("Expected recipient name in template data, got %v", msg.Data["name"])
	}
}

func TestDispatch_SameKeyForSameTransition(t *testing.T) {
	mailer := mocks.NewMockMailer()
	d := service.NewDispatcher(mocks.NewMockInvalidator(), mailer, zerolog.Nop())

	d.Dispatch(context.Background(), approvedTransition())
	d.Dispatch(context.Background(), approvedTransition())

	if mailer.Sent[0].IdempotencyKey != mailer.Sent[1].IdempotencyKey {
		t.Errorf("Expected identical keys, got %q and %q", mailer.Sent[0].IdempotencyKey, mailer.Sent[1].IdempotencyKey)
	}
}

func TestDispatch_MissingRecipient(t *testing.T) {
	mailer := mocks.NewMockMailer()
	d := service.NewDispatcher(mocks.NewMockInvalidator(), mailer, zerolog.Nop())

	tr := approvedTransition()
	tr.Recipient = nil
	report := d.Dispatch(context.Background(), tr)

	if report.EmailsSent != 0 || report.Failures != 1 {
		t.Errorf("Expected one failure and no email, got %+v", report)
	}
	if !report.Invalidated {
		t.Error("Expected invalidation to still fire")
	}
}

func TestDispatch_ContentTransitionSendsNoEmail(t *testing.T) {
	inv := mocks.NewMockInvalidator()
	mailer := mocks.NewMockMailer()
	d := service.NewDispatcher(inv, mailer, zerolog.Nop())

	report := d.Dispatch(context.Background(), &models.Transition{
		Kind:       models.EntityContent,
		Op:         models.OpUpsert,
		ExternalID: "X1",
		Real:       true,
		CacheTags:  []string{"X1", "articles"},
	})

	if !report.Invalidated || report.EmailsSent != 0 {
		t.Errorf("Unexpected report: %+v", report)
	}
	if len(mailer.Sent) != 0 {
		t.Errorf("Expected no emails, got %d", len(mailer.Sent))
	}
}
