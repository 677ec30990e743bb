package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roadwatch/roadwatch/internal/config"
	"github.com/roadwatch/roadwatch/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing (in-memory storage)
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		MutationTimeout:  time.Second,
		RecoveryInterval: time.Hour,
		RecoveryWindow:   24 * time.Hour,
		SweepTimeout:     time.Minute,
		AdminSecret:      "test-admin-secret",
		RateLimitRPM:     10000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), logging.New("error", "text"))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp.Status)
	}
	if resp.Checks["database"] != "in-memory" {
		t.Errorf("Expected in-memory database check, got %v", resp.Checks["database"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/v1/drivers/:userId/score",
		"GET:/v1/drivers/:userId/score/history",
		"GET:/v1/drivers/:userId/score/breakdown",
		"GET:/v1/drivers/:userId/score/percentile",
		"GET:/v1/drivers/:userId/milestones",
		"GET:/v1/incident-weights",
		"POST:/v1/reports",
		"GET:/v1/reports/:reportId",
		"POST:/v1/reports/:reportId/disputes",
		"GET:/v1/drivers/:userId/reports",
		"POST:/v1/identity/verifications",
		"POST:/v1/identity/webhook",
		"GET:/v1/drivers/:userId/verification",
		"PUT:/v1/admin/incident-weights/:incidentType",
		"POST:/v1/admin/drivers/:userId/recovery",
		"POST:/v1/admin/recovery/sweep",
		"POST:/v1/admin/disputes/:disputeId/resolve",
		"POST:/v1/admin/drivers/:userId/verify",
	}

	registered := make(map[string]bool)
	for _, route := range routes {
		registered[route.Method+":"+route.Path] = true
	}

	for _, route := range expected {
		if !registered[route] {
			t.Errorf("Route %s not registered", route)
		}
	}
}

// ---------------------------------------------------------------------------
// Admin gating
// ---------------------------------------------------------------------------

func TestAdminRoutesRequireSecret(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/admin/recovery/sweep", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/admin/recovery/sweep", nil)
	req.Header.Set("Authorization", "Bearer test-admin-secret")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with valid secret, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// End-to-end: report submission moves the score
// ---------------------------------------------------------------------------

func TestReportSubmissionAffectsScore(t *testing.T) {
	s := newTestServer(t)

	body := `{"reportedUserId":"driver-1","reporterId":"citizen-1","incidentType":"speeding","description":"well over the limit","latitude":37.77,"longitude":-122.42}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/reports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/drivers/driver-1/score", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		CurrentScore int `json:"currentScore"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.CurrentScore != 70 {
		t.Errorf("Expected score 70 after speeding report, got %d", resp.CurrentScore)
	}
}
