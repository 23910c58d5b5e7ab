package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/phishnet/phishnet/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// captureNotifier records sent messages instead of delivering them
type captureNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	To   string
	Body string
}

func (n *captureNotifier) Send(_ context.Context, to, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: to, Body: body})
	return nil
}

func (n *captureNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentMessage, len(n.sent))
	copy(out, n.sent)
	return out
}

// testConfig returns a minimal config for testing (in-memory, inline scoring)
func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		FlagThreshold: config.DefaultFlagThreshold,
		AlertLookback: config.DefaultAlertLookback,
	}
}

// newTestServer creates a server with mock dependencies
func newTestServer(t *testing.T) (*Server, *captureNotifier) {
	t.Helper()
	notifier := &captureNotifier{}
	s, err := New(testConfig(), WithNotifier(notifier))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s, notifier
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.router.ServeHTTP(w, req)
	return w
}

func seedUser(t *testing.T, s *Server, id, phone string) {
	t.Helper()
	w := doJSON(t, s, "POST", "/v1/users", `{"id":"`+id+`","phone":"`+phone+`","firstName":"Ada"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to seed user: %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/live", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/ready", "")

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s, _ := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/webhooks/sms",
		"POST:/v1/transactions",
		"GET:/v1/transactions/:id",
		"POST:/v1/users",
		"GET:/v1/users/:id",
		"GET:/v1/alerts/:phone",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// User provisioning tests
// ---------------------------------------------------------------------------

func TestCreateUser(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/users", `{"phone":"+15551234567","firstName":"Ada","lastName":"Lovelace"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		User struct {
			ID    string `json:"id"`
			Phone string `json:"phone"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.User.ID == "" {
		t.Error("Expected generated user id")
	}
	if resp.User.Phone != "+15551234567" {
		t.Errorf("Expected normalized phone, got %q", resp.User.Phone)
	}
}

func TestCreateUser_InvalidPhone(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/users", `{"phone":"not-a-phone"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/users/usr_nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Ingest tests
// ---------------------------------------------------------------------------

func TestIngest_LowRiskStaysPending(t *testing.T) {
	s, notifier := newTestServer(t)
	seedUser(t, s, "usr_1", "+15551234567")

	w := doJSON(t, s, "POST", "/v1/transactions",
		`{"id":"txn_1","userId":"usr_1","amount":25.00,"merchant":"Starbucks","category":"Food","paymentMethod":"Credit Card","location":"Chicago"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	if len(notifier.messages()) != 0 {
		t.Errorf("Expected no SMS for low-risk transaction, got %d", len(notifier.messages()))
	}

	w = doJSON(t, s, "GET", "/v1/transactions/txn_1", "")
	if !strings.Contains(w.Body.String(), `"Pending"`) {
		t.Errorf("Expected status Pending, got %s", w.Body.String())
	}
}

func TestIngest_HighRiskFlagsAndAlerts(t *testing.T) {
	s, notifier := newTestServer(t)
	seedUser(t, s, "usr_1", "+15551234567")

	// 4000 in Tokyo: amount risk 40 + location risk 30 crosses the threshold
	w := doJSON(t, s, "POST", "/v1/transactions",
		`{"id":"txn_2","userId":"usr_1","amount":4000,"merchant":"Best Buy","category":"Shopping","paymentMethod":"Credit Card","location":"Tokyo"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	msgs := notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 alert SMS, got %d", len(msgs))
	}
	if msgs[0].To != "+15551234567" {
		t.Errorf("Alert went to %q", msgs[0].To)
	}
	if !strings.Contains(msgs[0].Body, "Fraud Alert") || !strings.Contains(msgs[0].Body, "Best Buy") {
		t.Errorf("Unexpected alert body: %q", msgs[0].Body)
	}

	w = doJSON(t, s, "GET", "/v1/transactions/txn_2", "")
	if !strings.Contains(w.Body.String(), `"AwaitingConfirmation"`) {
		t.Errorf("Expected status AwaitingConfirmation, got %s", w.Body.String())
	}

	// Correlation entry is visible on the ops endpoint
	w = doJSON(t, s, "GET", "/v1/alerts/+15551234567", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "txn_2") {
		t.Errorf("Expected alert listed, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIngest_UnknownUser(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/transactions", `{"userId":"usr_ghost","amount":10}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestIngest_ValidationFailure(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/transactions", `{"userId":"","amount":-5}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// SMS webhook tests
// ---------------------------------------------------------------------------

func postWebhook(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/webhooks/sms", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.router.ServeHTTP(w, req)
	return w
}

func flagTransaction(t *testing.T, s *Server, id string) {
	t.Helper()
	w := doJSON(t, s, "POST", "/v1/transactions",
		`{"id":"`+id+`","userId":"usr_1","amount":4000,"merchant":"Best Buy","category":"Shopping","paymentMethod":"Credit Card","location":"Tokyo"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Failed to flag transaction: %d", w.Code)
	}
}

func TestWebhook_ConfirmFraud(t *testing.T) {
	s, _ := newTestServer(t)
	seedUser(t, s, "usr_1", "+15551234567")
	flagTransaction(t, s, "txn_10")

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "YES")

	w := postWebhook(t, s, form.Encode())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "marked as FRAUD") {
		t.Errorf("Unexpected reply: %q", w.Body.String())
	}

	resp := doJSON(t, s, "GET", "/v1/transactions/txn_10", "")
	if !strings.Contains(resp.Body.String(), `"ConfirmedFraud"`) {
		t.Errorf("Expected ConfirmedFraud, got %s", resp.Body.String())
	}
}

func TestWebhook_DenyFraud(t *testing.T) {
	s, _ := newTestServer(t)
	seedUser(t, s, "usr_1", "+15551234567")
	flagTransaction(t, s, "txn_11")

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "no")

	w := postWebhook(t, s, form.Encode())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "marked as NOT FRAUD") {
		t.Errorf("Unexpected reply: %q", w.Body.String())
	}

	resp := doJSON(t, s, "GET", "/v1/transactions/txn_11", "")
	if !strings.Contains(resp.Body.String(), `"ConfirmedLegitimate"`) {
		t.Errorf("Expected ConfirmedLegitimate, got %s", resp.Body.String())
	}
}

func TestWebhook_Base64Body(t *testing.T) {
	s, _ := newTestServer(t)
	seedUser(t, s, "usr_1", "+15551234567")
	flagTransaction(t, s, "txn_12")

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "YES")
	encoded := base64.StdEncoding.EncodeToString([]byte(form.Encode()))

	w := postWebhook(t, s, encoded)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for base64 body, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "marked as FRAUD") {
		t.Errorf("Unexpected reply: %q", w.Body.String())
	}
}

func TestWebhook_NoActiveAlert(t *testing.T) {
	s, _ := newTestServer(t)
	seedUser(t, s, "usr_1", "+15551234567")

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "YES")

	w := postWebhook(t, s, form.Encode())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "No recent fraud alert") {
		t.Errorf("Unexpected reply: %q", w.Body.String())
	}
}

func TestWebhook_TravelMode(t *testing.T) {
	s, notifier := newTestServer(t)
	seedUser(t, s, "usr_1", "+15551234567")

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "travel - tokyo")

	w := postWebhook(t, s, form.Encode())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Travel mode enabled") {
		t.Errorf("Unexpected reply: %q", w.Body.String())
	}

	// A Tokyo transaction under the amount threshold no longer triggers
	// a location-risk alert.
	doJSON(t, s, "POST", "/v1/transactions",
		`{"id":"txn_13","userId":"usr_1","amount":900,"merchant":"Restaurant","category":"Food","paymentMethod":"Credit Card","location":"Tokyo"}`)
	if len(notifier.messages()) != 0 {
		t.Errorf("Expected no alert in travel mode, got %d", len(notifier.messages()))
	}
}

func TestWebhook_MissingFrom(t *testing.T) {
	s, _ := newTestServer(t)

	w := postWebhook(t, s, "Body=YES")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
