package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofamint/content-sync/internal/api"
	"github.com/gofamint/content-sync/internal/config"
	"github.com/gofamint/content-sync/internal/mocks"
	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/service"
	"github.com/gofamint/content-sync/internal/webhook"
	"github.com/rs/zerolog"
)

const testSecret = "0123456789abcdef-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "8080"},
		Webhook: config.WebhookConfig{
			Secret:          testSecret,
			SignatureHeader: "X-Webhook-Signature",
			MaxBodyBytes:    1024,
		},
		Sync: config.SyncConfig{ReconcileTimeout: time.Second, EffectTimeout: time.Second},
	}
}

func setupTestRouter() (*gin.Engine, *mocks.MockSyncService, *mocks.MockArticleService, *mocks.MockHealthChecker) {
	gin.SetMode(gin.TestMode)

	mockSync := mocks.NewMockSyncService()
	mockArticle := mocks.NewMockArticleService()
	mockHealth := &mocks.MockHealthChecker{}

	services := &service.Services{
		Sync:    mockSync,
		Article: mockArticle,
		Health:  mockHealth,
	}

	router := api.NewRouter(services, testConfig(), zerolog.Nop())
	return router, mockSync, mockArticle, mockHealth
}

func postWebhook(router *gin.Engine, path, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)

	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", response["status"])
	}
	if response["service"] != "content-sync" {
		t.Errorf("Expected service name, got %v", response["service"])
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a request id header")
	}
}

func TestHealthEndpoint_DatabaseDown(t *testing.T) {
	router, _, _, mockHealth := setupTestRouter()
	mockHealth.Err = errors.New("connection refused")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestHealthEndpoint_CacheDownStaysHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	services := &service.Services{
		Sync:        mocks.NewMockSyncService(),
		Article:     mocks.NewMockArticleService(),
		Health:      &mocks.MockHealthChecker{},
		CacheHealth: &mocks.MockHealthChecker{Err: errors.New("connection refused")},
	}
	router := api.NewRouter(services, testConfig(), zerolog.Nop())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)

	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", response["status"])
	}
	if response["cache"] != "down" {
		t.Errorf("Expected cache 'down', got %v", response["cache"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, mockArticle, _ := setupTestRouter()
	mockArticle.Counts["articles"] = 500
	mockArticle.Counts["authors"] = 12

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)

	db := response["database"].(map[string]interface{})
	if db["articles"].(float64) != 500 {
		t.Errorf("Expected 500 articles, got %v", db["articles"])
	}
	if db["authors"].(float64) != 12 {
		t.Errorf("Expected 12 authors, got %v", db["authors"])
	}
}

func TestWebhook_PassesRawBodyAndSignature(t *testing.T) {
	router, mockSync, _, _ := setupTestRouter()
	body := `{"kind":"ContentEntity","op":"Upsert","externalId":"X1","authorExternalId":"A1"}`

	w := postWebhook(router, "/v1/webhooks/content", body, "sha256=abc")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if len(mockSync.Bodies) != 1 || string(mockSync.Bodies[0]) != body {
		t.Errorf("Expected raw body to reach the service, got %q", mockSync.Bodies)
	}
	if mockSync.Signatures[0] != "sha256=abc" {
		t.Errorf("Expected signature header to reach the service, got %q", mockSync.Signatures[0])
	}
}

func TestWebhook_LegacyPath(t *testing.T) {
	router, mockSync, _, _ := setupTestRouter()

	w := postWebhook(router, "/api/webhooks/cms", `{}`, "sig")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if len(mockSync.Bodies) != 1 {
		t.Errorf("Expected 1 call, got %d", len(mockSync.Bodies))
	}
}

func TestWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", service.ErrUnauthorized, http.StatusUnauthorized},
		{"unresolved reference", fmt.Errorf("%w: author \"A9\"", service.ErrUnresolvedReference), http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("%w: author \"A9\"", service.ErrNotFound), http.StatusUnprocessableEntity},
		{"persistence", &service.PersistenceError{Op: "insert article", Err: errors.New("connection reset")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mockSync, _, _ := setupTestRouter()
			mockSync.ProcessFunc = func(ctx context.Context, body []byte, signature string) (*models.SyncResult, error) {
				return &models.SyncResult{State: models.StateRejected}, tt.err
			}

			w := postWebhook(router, "/v1/webhooks/content", `{}`, "sig")

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
			if strings.Contains(w.Body.String(), "connection reset") {
				t.Error("Persistence details must not be echoed")
			}
		})
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	router, mockSync, _, _ := setupTestRouter()

	w := postWebhook(router, "/v1/webhooks/content", strings.Repeat("a", 2048), "sig")

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", w.Code)
	}
	if len(mockSync.Bodies) != 0 {
		t.Error("Oversized body must not reach the service")
	}
}

// End to end through the real sync service with in-memory storage
func TestWebhook_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := mocks.NewMockStore()
	store.AddUser(&models.User{ID: "u-1", Email: "ada@example.org", Name: "Ada"})
	store.AddAuthor(&models.AuthorProfile{ID: "p-1", ExternalID: "A1", UserID: "u-1", Status: models.ApprovalPending})
	invalidator := mocks.NewMockInvalidator()
	mailer := mocks.NewMockMailer()

	verifier, err := webhook.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	cfg := testConfig()
	services := service.NewServices(service.Deps{
		Repos:       store.Repositories(),
		Verifier:    verifier,
		Invalidator: invalidator,
		Mailer:      mailer,
	}, cfg, zerolog.Nop())
	router := api.NewRouter(services, cfg, zerolog.Nop())

	content := `{"kind":"ContentEntity","op":"Upsert","externalId":"X1","authorExternalId":"A1"}`
	w := postWebhook(router, "/v1/webhooks/content", content, verifier.Sign([]byte(content)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(invalidator.Calls) != 1 || len(mailer.Sent) != 0 {
		t.Errorf("Expected 1 invalidation and 0 emails, got %d/%d", len(invalidator.Calls), len(mailer.Sent))
	}

	approve := `{"kind":"Author","op":"StatusChange","status":"approved","externalId":"A1"}`
	for i := 0; i < 2; i++ {
		w = postWebhook(router, "/v1/webhooks/content", approve, verifier.Sign([]byte(approve)))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
	}
	if len(mailer.Sent) != 1 {
		t.Errorf("Expected exactly 1 email, got %d", len(mailer.Sent))
	}

	w = postWebhook(router, "/v1/webhooks/content", content, "sha256="+strings.Repeat("0", 64))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}

	var result models.SyncResult
	missing := `{"kind":"ContentEntity","op":"Upsert","externalId":"X2","authorExternalId":"A404"}`
	w = postWebhook(router, "/v1/webhooks/content", missing, verifier.Sign([]byte(missing)))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.State != models.StateClassified {
		t.Errorf("Expected classified state in error body, got %s", result.State)
	}
}

func TestListArticles(t *testing.T) {
	router, _, mockArticle, _ := setupTestRouter()

	req := httptest.NewRequest("GET", "/v1/articles?author=A1&approved=true&limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if len(mockArticle.Filters) != 1 {
		t.Fatalf("Expected 1 listing call, got %d", len(mockArticle.Filters))
	}
	filter := mockArticle.Filters[0]
	if filter.AuthorExternalID != "A1" || filter.Approved == nil || !*filter.Approved || filter.Limit != 10 {
		t.Errorf("Unexpected filter: %+v", filter)
	}
}

func TestListArticles_BadParams(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	for _, query := range []string{"format=csv", "approved=maybe", "limit=0", "limit=5000"} {
		req := httptest.NewRequest("GET", "/v1/articles?"+query, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %s, got %d", query, w.Code)
		}
	}
}

func TestRecordView(t *testing.T) {
	router, _, mockArticle, _ := setupTestRouter()
	mockArticle.Known["X1"] = true

	req := httptest.NewRequest("POST", "/v1/articles/X1/views", bytes.NewReader(nil))
	req.Header.Set("X-Authenticated-User", "u-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if mockArticle.Views["X1"] != 1 || mockArticle.VerifiedHits != 1 {
		t.Errorf("Expected one verified view, got %d/%d", mockArticle.Views["X1"], mockArticle.VerifiedHits)
	}

	req = httptest.NewRequest("POST", "/v1/articles/X404/views", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
