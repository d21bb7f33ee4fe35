package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"risparmi/internal/amqp"
	"risparmi/internal/auth"
	"risparmi/internal/projection"
	"risparmi/internal/storage"
)

type capturingPublisher struct {
	mu       sync.Mutex
	messages []*amqp.ExportMessage
}

func (p *capturingPublisher) Publish(_ context.Context, msg *amqp.ExportMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *capturingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Kind)
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *capturingPublisher) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "api_test.db")
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("creating repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	pub := &capturingPublisher{}
	authSvc := auth.NewService("test-secret", time.Hour)
	srv := NewServer(":0", repo, authSvc, pub, projection.DefaultHistoryRate, projection.DefaultScenarios())
	t.Cleanup(func() { srv.rateLimiter.stop() })
	return srv, pub
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, srv *Server, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "hunter2hunter2"}
	if rec := doJSON(t, srv, http.MethodPost, "/register", "", creds); rec.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", rec.Code, rec.Body.String())
	}
	rec := doJSON(t, srv, http.MethodPost, "/login", "", creds)
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return resp.Token
}

func createDeposit(t *testing.T, srv *Server, token string, body map[string]any) depositResponse {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/deposits", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create deposit returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp depositResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding deposit response: %v", err)
	}
	return resp
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"empty username", map[string]string{"username": "", "password": "hunter2hunter2"}, http.StatusBadRequest},
		{"short password", map[string]string{"username": "alice", "password": "short"}, http.StatusBadRequest},
		{"valid", map[string]string{"username": "alice", "password": "hunter2hunter2"}, http.StatusCreated},
		{"duplicate", map[string]string{"username": "alice", "password": "hunter2hunter2"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/register", "", tt.body)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	registerAndLogin(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodPost, "/login",
		"", map[string]string{"username": "alice", "password": "wrong-password"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: got %d, want 401", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/login",
		"", map[string]string{"username": "nobody", "password": "hunter2hunter2"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: got %d, want 401", rec.Code)
	}
}

func TestDepositsRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/deposits", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: got %d, want 401", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/deposits", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: got %d, want 401", rec.Code)
	}
}

func TestCreateAndListDeposits(t *testing.T) {
	srv, pub := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	created := createDeposit(t, srv, token, map[string]any{
		"date": "2024-01-15", "amount": 250.0,
	})
	if created.IsTotal {
		t.Error("plain contribution should not be a total record")
	}

	// A non-zero current_total forces a total record even without the flag.
	total := createDeposit(t, srv, token, map[string]any{
		"date": "2024-02-15", "amount": 0.0, "current_total": 1000.0,
	})
	if !total.IsTotal {
		t.Error("non-zero current_total should imply a total record")
	}
	if total.CurrentTotal == nil || *total.CurrentTotal != 1000 {
		t.Errorf("current_total not preserved: %+v", total)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/deposits", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", rec.Code, rec.Body.String())
	}
	var list depositListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if list.Count != 2 {
		t.Fatalf("expected 2 deposits, got %d", list.Count)
	}
	if list.Deposits[0].Date != "2024-01-15" {
		t.Errorf("expected date-ascending order, first was %s", list.Deposits[0].Date)
	}

	kinds := pub.kinds()
	if len(kinds) != 2 || kinds[0] != amqp.KindDepositSync {
		t.Errorf("expected 2 deposit_sync messages, got %v", kinds)
	}
}

func TestCreateDepositRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"bad date", map[string]any{"date": "15/01/2024", "amount": 10.0}, http.StatusBadRequest},
		{"negative amount", map[string]any{"date": "2024-01-15", "amount": -5.0}, http.StatusBadRequest},
		{"unknown field", map[string]any{"date": "2024-01-15", "amount": 5.0, "extra": true}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/deposits", token, tt.body)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestDeleteDeposit(t *testing.T) {
	srv, pub := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")
	otherToken := registerAndLogin(t, srv, "bob")

	created := createDeposit(t, srv, token, map[string]any{"date": "2024-01-15", "amount": 100.0})
	path := fmt.Sprintf("/api/deposits/%d", created.ID)

	// Another user cannot delete it.
	if rec := doJSON(t, srv, http.MethodDelete, path, otherToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("cross-user delete: got %d, want 404", rec.Code)
	}

	if rec := doJSON(t, srv, http.MethodDelete, path, token, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: got %d, want 204", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodDelete, path, token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", rec.Code)
	}

	kinds := pub.kinds()
	if len(kinds) != 2 || kinds[len(kinds)-1] != amqp.KindUserMirror {
		t.Errorf("delete should publish a mirror message, got %v", kinds)
	}
}

func TestDeleteAllDeposits(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")
	createDeposit(t, srv, token, map[string]any{"date": "2024-01-15", "amount": 100.0})
	createDeposit(t, srv, token, map[string]any{"date": "2024-02-15", "amount": 200.0})

	rec := doJSON(t, srv, http.MethodDelete, "/api/deposits", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk delete returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["deleted"] != 2 {
		t.Errorf("expected 2 deleted, got %d", resp["deleted"])
	}

	list := doJSON(t, srv, http.MethodGet, "/api/deposits", token, nil)
	var remaining depositListResponse
	if err := json.Unmarshal(list.Body.Bytes(), &remaining); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if remaining.Count != 0 {
		t.Errorf("expected empty log, got %d deposits", remaining.Count)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	// Empty log is unprocessable.
	if rec := doJSON(t, srv, http.MethodGet, "/api/history", token, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty history: got %d, want 422", rec.Code)
	}

	createDeposit(t, srv, token, map[string]any{"date": "2024-01-15", "amount": 100.0})
	createDeposit(t, srv, token, map[string]any{"date": "2024-04-15", "amount": 50.0})

	rec := doJSON(t, srv, http.MethodGet, "/api/history", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if resp.AnnualRate != projection.DefaultHistoryRate {
		t.Errorf("expected default rate %v, got %v", projection.DefaultHistoryRate, resp.AnnualRate)
	}
	// Three whole months between records yields three interpolated points.
	if len(resp.Points) != 5 {
		t.Errorf("expected 5 points, got %d", len(resp.Points))
	}
	if len(resp.Cumulative) != 2 || resp.Cumulative[1] != 150 {
		t.Errorf("unexpected cumulative totals %v", resp.Cumulative)
	}

	// Rate override.
	rec = doJSON(t, srv, http.MethodGet, "/api/history?rate=0.10", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history with rate returned %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if resp.AnnualRate != 0.10 {
		t.Errorf("expected rate 0.10, got %v", resp.AnnualRate)
	}

	if rec := doJSON(t, srv, http.MethodGet, "/api/history?rate=abc", token, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad rate: got %d, want 400", rec.Code)
	}
}

func TestForecastEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	if rec := doJSON(t, srv, http.MethodGet, "/api/forecast?monthly=100", token, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty log: got %d, want 422", rec.Code)
	}

	createDeposit(t, srv, token, map[string]any{"date": "2024-01-15", "amount": 100.0})
	createDeposit(t, srv, token, map[string]any{"date": "2024-02-15", "amount": 0.0, "current_total": 1000.0})

	rec := doJSON(t, srv, http.MethodGet, "/api/forecast?monthly=100&years=5", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("forecast returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp forecastResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding forecast: %v", err)
	}
	// The total record replaces the running balance.
	if resp.Initial != 1000 {
		t.Errorf("expected initial 1000, got %v", resp.Initial)
	}
	if resp.Years != 5 {
		t.Errorf("expected years 5, got %d", resp.Years)
	}
	if len(resp.Scenarios) != 3 {
		t.Fatalf("expected 3 scenarios, got %d", len(resp.Scenarios))
	}
	for _, sc := range resp.Scenarios {
		if len(sc.Series) != 5*12 {
			t.Errorf("scenario %s: expected 60 points, got %d", sc.Label, len(sc.Series))
		}
	}

	if rec := doJSON(t, srv, http.MethodGet, "/api/forecast?monthly=abc", token, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad monthly: got %d, want 400", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/api/forecast?monthly=100&years=0", token, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero years: got %d, want 422", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/api/forecast?monthly=-5", token, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative monthly: got %d, want 422", rec.Code)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	srv, _ := newTestServer(t)
	aliceToken := registerAndLogin(t, srv, "alice")
	bobToken := registerAndLogin(t, srv, "bob")

	createDeposit(t, srv, aliceToken, map[string]any{"date": "2024-01-15", "amount": 100.0})

	rec := doJSON(t, srv, http.MethodGet, "/api/deposits", bobToken, nil)
	var list depositListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if list.Count != 0 {
		t.Errorf("bob sees %d of alice's deposits", list.Count)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	if rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", rec.Code)
	}
}
