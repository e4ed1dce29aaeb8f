package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/validation"
)

// Discriminator fields tolerated on the wire. The CMS has shipped more than
// one payload shape; any shape outside these sets classifies as unknown.
var (
	kindFields       = []string{"_type", "type", "kind", "entity"}
	idFields         = []string{"_id", "externalId", "id"}
	operationFields  = []string{"operation", "op", "_operation", "event"}
	revisionFields   = []string{"_rev", "revision"}
	updatedAtFields  = []string{"_updatedAt", "updatedAt"}
	authorRefFields  = []string{"authorExternalId", "authorId", "author"}
	approvedFields   = []string{"approved", "isApproved"}
	statusFields     = []string{"status", "approvalStatus"}
	userRefFields    = []string{"userId", "user"}
	reviewNoteFields = []string{"reviewNotes", "notes"}
)

var contentKinds = map[string]bool{
	"post":          true,
	"article":       true,
	"blog":          true,
	"blogpost":      true,
	"content":       true,
	"contententity": true,
}

var authorKinds = map[string]bool{
	"author":        true,
	"writer":        true,
	"authorprofile": true,
}

var operations = map[string]models.Operation{
	"create":        models.OpUpsert,
	"update":        models.OpUpsert,
	"upsert":        models.OpUpsert,
	"publish":       models.OpUpsert,
	"delete":        models.OpDelete,
	"unpublish":     models.OpDelete,
	"status_change": models.OpStatusChange,
	"statuschange":  models.OpStatusChange,
	"status":        models.OpStatusChange,
}

const draftPrefix = "drafts."

type contentFields struct {
	ExternalID       string `json:"externalId" validate:"required,external_id"`
	AuthorExternalID string `json:"authorExternalId" validate:"required,external_id"`
	Slug             string `json:"slug" validate:"omitempty,max=200,slug"`
}

type authorStatusFields struct {
	ExternalID string `json:"externalId" validate:"required_without=UserID,omitempty,external_id"`
	UserID     string `json:"userId" validate:"omitempty,max=255"`
	Status     string `json:"status" validate:"required,oneof=pending approved revoked"`
}

type authorFields struct {
	ExternalID string `json:"externalId" validate:"required,external_id"`
	UserID     string `json:"userId" validate:"omitempty,max=255"`
}

type deleteFields struct {
	ExternalID string `json:"externalId" validate:"required,external_id"`
}

// Classifier turns a verified payload into a NotificationEvent. It holds no
// mutable state, so identical bodies always classify identically.
type Classifier struct {
	validator *validation.Validator
}

// NewClassifier creates a Classifier
func NewClassifier() *Classifier {
	return &Classifier{validator: validation.NewValidator()}
}

// Classify never fails: anything it cannot map is returned with OpUnknown
// and a Reason.
func (c *Classifier) Classify(body []byte) *models.NotificationEvent {
	sum := sha256.Sum256(body)
	ev := &models.NotificationEvent{
		Op:          models.OpUnknown,
		Fingerprint: hex.EncodeToString(sum[:]),
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return unknown(ev, "payload is not a JSON object")
	}

	kind, _ := stringField(doc, kindFields...)
	switch k := strings.ToLower(kind); {
	case contentKinds[k]:
		ev.Kind = models.EntityContent
	case authorKinds[k]:
		ev.Kind = models.EntityAuthor
	case kind == "":
		return unknown(ev, "missing entity discriminator")
	default:
		return unknown(ev, "unrecognized entity kind "+kind)
	}

	ev.ExternalID, _ = stringField(doc, idFields...)
	if strings.HasPrefix(ev.ExternalID, draftPrefix) {
		return unknown(ev, "draft document")
	}
	ev.Revision, _ = stringField(doc, revisionFields...)

	updatedAt, ok := timeField(doc, updatedAtFields...)
	if !ok {
		return unknown(ev, "malformed updated timestamp")
	}
	ev.SourceUpdatedAt = updatedAt

	op, ok := c.operation(doc, ev.Kind)
	if !ok {
		return unknown(ev, "unsupported operation")
	}

	switch {
	case ev.Kind == models.EntityContent && op == models.OpDelete:
		return c.classifyDelete(ev)
	case ev.Kind == models.EntityContent && (op == models.OpUpsert || op == models.OpStatusChange):
		// approval changes on content travel with the upsert
		return c.classifyContent(ev, doc)
	case ev.Kind == models.EntityAuthor && op == models.OpStatusChange:
		return c.classifyAuthorStatus(ev, doc)
	case ev.Kind == models.EntityAuthor && op == models.OpUpsert:
		return c.classifyAuthor(ev, doc)
	default:
		return unknown(ev, "unsupported operation for "+string(ev.Kind))
	}
}

func (c *Classifier) operation(doc map[string]json.RawMessage, kind models.EntityKind) (models.Operation, bool) {
	if deleted, ok := boolField(doc, "_deleted"); ok && deleted != nil && *deleted {
		return models.OpDelete, true
	}
	if raw, ok := stringField(doc, operationFields...); ok {
		op, known := operations[strings.ToLower(raw)]
		return op, known
	}
	if kind == models.EntityAuthor {
		if _, ok := stringField(doc, statusFields...); ok {
			return models.OpStatusChange, true
		}
	}
	return models.OpUpsert, true
}

func (c *Classifier) classifyContent(ev *models.NotificationEvent, doc map[string]json.RawMessage) *models.NotificationEvent {
	change := &models.ContentChange{}
	change.AuthorExternalID, _ = refField(doc, "_ref", authorRefFields...)
	change.Slug, _ = refField(doc, "current", "slug")

	publishedAt, ok := timeField(doc, "publishedAt")
	if !ok {
		return unknown(ev, "malformed publishedAt")
	}
	change.PublishedAt = publishedAt

	approved, ok := boolField(doc, approvedFields...)
	if !ok {
		return unknown(ev, "malformed approval flag")
	}
	change.Approved = approved

	if errs := c.validator.Struct(contentFields{
		ExternalID:       ev.ExternalID,
		AuthorExternalID: change.AuthorExternalID,
		Slug:             change.Slug,
	}); len(errs) > 0 {
		return unknown(ev, errs[0].Error())
	}

	ev.Op = models.OpUpsert
	ev.Content = change
	return ev
}

func (c *Classifier) classifyDelete(ev *models.NotificationEvent) *models.NotificationEvent {
	if errs := c.validator.Struct(deleteFields{ExternalID: ev.ExternalID}); len(errs) > 0 {
		return unknown(ev, errs[0].Error())
	}
	ev.Op = models.OpDelete
	return ev
}

func (c *Classifier) classifyAuthorStatus(ev *models.NotificationEvent, doc map[string]json.RawMessage) *models.NotificationEvent {
	status, _ := stringField(doc, statusFields...)
	status = strings.ToLower(status)
	userID, _ := refField(doc, "_ref", userRefFields...)
	// either identifier locates the profile
	if errs := c.validator.Struct(authorStatusFields{ExternalID: ev.ExternalID, UserID: userID, Status: status}); len(errs) > 0 {
		return unknown(ev, errs[0].Error())
	}

	change := &models.AuthorChange{Status: models.ApprovalStatus(status), UserID: userID}
	if notes, ok := stringField(doc, reviewNoteFields...); ok {
		change.ReviewNotes = &notes
	}

	ev.Op = models.OpStatusChange
	ev.Author = change
	return ev
}

func (c *Classifier) classifyAuthor(ev *models.NotificationEvent, doc map[string]json.RawMessage) *models.NotificationEvent {
	change := &models.AuthorChange{}
	change.UserID, _ = refField(doc, "_ref", userRefFields...)
	if notes, ok := stringField(doc, reviewNoteFields...); ok {
		change.ReviewNotes = &notes
	}
	if errs := c.validator.Struct(authorFields{ExternalID: ev.ExternalID, UserID: change.UserID}); len(errs) > 0 {
		return unknown(ev, errs[0].Error())
	}

	ev.Op = models.OpUpsert
	ev.Author = change
	return ev
}

func unknown(ev *models.NotificationEvent, reason string) *models.NotificationEvent {
	ev.Op = models.OpUnknown
	ev.Reason = reason
	ev.Content = nil
	ev.Author = nil
	return ev
}

// stringField returns the first of keys holding a JSON string
func stringField(doc map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := doc[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// refField reads keys either as plain strings or as objects carrying the
// value under inner, e.g. {"author": {"_ref": "a1"}} or {"slug": {"current": "x"}}.
func refField(doc map[string]json.RawMessage, inner string, keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := doc[k]
		if !ok {
			continue
		}
		if s, ok := stringField(map[string]json.RawMessage{k: raw}, k); ok {
			return s, true
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil {
			if s, ok := stringField(obj, inner); ok {
				return s, true
			}
		}
	}
	return "", false
}

// timeField returns nil when no key is present and false when a present
// value is not an RFC 3339 string.
func timeField(doc map[string]json.RawMessage, keys ...string) (*time.Time, bool) {
	for _, k := range keys {
		raw, ok := doc[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, false
		}
		// stored timestamps keep microsecond precision
		t = t.UTC().Truncate(time.Microsecond)
		return &t, true
	}
	return nil, true
}

func boolField(doc map[string]json.RawMessage, keys ...string) (*bool, bool) {
	for _, k := range keys {
		raw, ok := doc[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, false
		}
		return &b, true
	}
	return nil, true
}
