package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"otcdesk/internal/config"
	"otcdesk/internal/services"
	"otcdesk/internal/snapshot"
	"otcdesk/internal/websocket"
)

// testServer wires the real services against a file snapshot store in a
// temp dir, so handler tests exercise the same paths the binary does.
type testServer struct {
	routes http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		AllowedOrigins: "*",
	}
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()
	state, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	rates := services.NewRateService(state, store)
	if _, err := rates.SetRate(ctx, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("seed rate: %v", err)
	}
	if _, err := rates.SetFees(ctx, decimal.Zero, decimal.Zero, decimal.Zero); err != nil {
		t.Fatalf("seed fees: %v", err)
	}
	users := services.NewUserService(state, store)
	hub := websocket.NewHub()
	engine := services.NewLedger(state, store, rates, users, hub, services.LedgerOptions{
		DealTTL:      24 * time.Hour,
		OfferTTL:     30 * time.Minute,
		DisputeDelay: 0,
	})
	adverts := services.NewAdvertService(state, store, engine)
	engine.AttachOrderBook(adverts)
	disputes := services.NewDisputeService(state, store, engine, users)

	handler := New(cfg, users, engine, adverts, disputes, rates, hub)
	return &testServer{routes: handler.Routes()}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.routes.ServeHTTP(rr, req)
	return rr
}

// register signs up a user and returns the session token. The first
// registration on a fresh server yields a moderator.
func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"password": "long-enough-password",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.Token
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}
