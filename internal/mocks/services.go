package mocks

import (
	"context"
	"net/http"
	"sync"

	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/service"
)

// MockSyncService is a mock implementation of SyncService
type MockSyncService struct {
	ProcessFunc func(ctx context.Context, body []byte, signature string) (*models.SyncResult, error)
	Bodies      [][]byte
	Signatures  []string
}

// Verify interface compliance
var _ service.SyncService = (*MockSyncService)(nil)

func NewMockSyncService() *MockSyncService {
	return &MockSyncService{}
}

func (m *MockSyncService) Process(ctx context.Context, body []byte, signature string) (*models.SyncResult, error) {
	m.Bodies = append(m.Bodies, body)
	m.Signatures = append(m.Signatures, signature)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, body, signature)
	}
	return &models.SyncResult{State: models.StateResponded, Changed: true}, nil
}

// MockArticleService is a mock implementation of ArticleService
type MockArticleService struct {
	StreamFunc   func(ctx context.Context, w http.ResponseWriter, filter models.ArticleFilter, format string) error
	Filters      []models.ArticleFilter
	Views        map[string]int
	VerifiedHits int
	Known        map[string]bool
	ViewError    error
	Counts       map[string]int
}

// Verify interface compliance
var _ service.ArticleService = (*MockArticleService)(nil)

func NewMockArticleService() *MockArticleService {
	return &MockArticleService{
		Views:  make(map[string]int),
		Known:  make(map[string]bool),
		Counts: make(map[string]int),
	}
}

func (m *MockArticleService) StreamArticles(ctx context.Context, w http.ResponseWriter, filter models.ArticleFilter, format string) error {
	m.Filters = append(m.Filters, filter)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, w, filter, format)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("[]"))
	return nil
}

func (m *MockArticleService) RecordView(ctx context.Context, externalID string, verified bool) (bool, error) {
	if m.ViewError != nil {
		return false, m.ViewError
	}
	if !m.Known[externalID] {
		return false, nil
	}
	m.Views[externalID]++
	if verified {
		m.VerifiedHits++
	}
	return true, nil
}

func (m *MockArticleService) GetCount(ctx context.Context, resource string) (int, error) {
	return m.Counts[resource], nil
}

// MockHealthChecker is a mock implementation of HealthChecker
type MockHealthChecker struct {
	Err error
}

var _ service.HealthChecker = (*MockHealthChecker)(nil)

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Err
}

// MockInvalidator records invalidation calls
type MockInvalidator struct {
	mu    sync.Mutex
	Calls [][]string
	Err   error
}

var _ service.Invalidator = (*MockInvalidator)(nil)

func NewMockInvalidator() *MockInvalidator {
	return &MockInvalidator{}
}

func (m *MockInvalidator) Invalidate(ctx context.Context, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]string(nil), tags...))
	return m.Err
}

// MockMailer records sent emails
type MockMailer struct {
	mu   sync.Mutex
	Sent []models.EmailMessage
	Err  error
}

var _ service.Mailer = (*MockMailer)(nil)

func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

func (m *MockMailer) Send(ctx context.Context, msg models.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}
