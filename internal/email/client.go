package email

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofamint/content-sync/internal/config"
	"github.com/gofamint/content-sync/internal/models"
	"github.com/rs/zerolog"
)

// sendRequest is the body accepted by the transactional email API
type sendRequest struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// Client sends templated emails over HTTP
type Client struct {
	client *resty.Client
	from   string
	log    zerolog.Logger
}

// NewClient creates an email API client. Transport errors and 5xx responses
// are retried with the same idempotency key.
func NewClient(cfg *config.EmailConfig, log zerolog.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		client: client,
		from:   cfg.From,
		log:    log.With().Str("component", "email").Logger(),
	}
}

// Send delivers msg
func (c *Client) Send(ctx context.Context, msg models.EmailMessage) error {
	req := c.client.R().
		SetContext(ctx).
		SetBody(sendRequest{
			From:     c.from,
			To:       msg.To,
			Template: msg.Template,
			Data:     msg.Data,
		})
	if msg.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := req.Post("/send")
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", msg.Template, err)
	}
	if resp.IsError() {
		return fmt.Errorf("email API returned status %d for %s", resp.StatusCode(), msg.Template)
	}

	c.log.Debug().
		Str("template", msg.Template).
		Int("status", resp.StatusCode()).
		Int("attempts", resp.Request.Attempt).
		Msg("Email accepted")
	return nil
}
