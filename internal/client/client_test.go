package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brightcart/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *MemoryStore, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := NewMemoryStore()
	c, err := New(Config{Origin: server.URL, Credentials: store})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c, store, server
}

func writeEnvelope(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func TestClientInjectsBearerToken(t *testing.T) {
	var authorization atomic.Value
	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization.Store(r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"ok": true}})
	}))

	if err := c.Get(context.Background(), "/products", nil); err != nil {
		t.Fatalf("unauthenticated get: %v", err)
	}
	if got := authorization.Load().(string); got != "" {
		t.Fatalf("expected no Authorization header before login, got %q", got)
	}

	if err := store.SetToken("tok-123"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := c.Get(context.Background(), "/products", nil); err != nil {
		t.Fatalf("authenticated get: %v", err)
	}
	if got := authorization.Load().(string); got != "Bearer tok-123" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestClientDecodesEnvelopeData(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"items": []any{map[string]any{"name": "Desk Lamp"}}, "total": 1},
		})
	}))

	var page struct {
		Items []models.Product `json:"items"`
		Total int              `json:"total"`
	}
	if err := c.Get(context.Background(), "/products", &page); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Name != "Desk Lamp" {
		t.Fatalf("unexpected decoded page: %+v", page)
	}
}

func TestClientNormalizesServerErrors(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"message": "validation failed",
			"errors":  []any{map[string]any{"field": "name", "message": "name is required"}},
		})
	}))

	err := c.Post(context.Background(), "/products", map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Message != "validation failed" || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected error payload: %+v", apiErr)
	}
	if len(apiErr.Errors) != 1 || apiErr.Errors[0].Field != "name" {
		t.Fatalf("expected field violations to survive normalization: %+v", apiErr.Errors)
	}
}

func TestClientNormalizesTransportFailure(t *testing.T) {
	c, _, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	err := c.Get(context.Background(), "/products", nil)
	if err == nil {
		t.Fatal("expected an error after the server went away")
	}
	if err.Error() != "Network error. Please try again." {
		t.Fatalf("expected the fixed network error message, got %q", err.Error())
	}
	if !IsNetworkError(err) {
		t.Fatalf("expected IsNetworkError to match: %+v", err)
	}
}

func TestClientUnauthorizedEvictsOnce(t *testing.T) {
	release := make(chan struct{})
	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeEnvelope(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "session expired"})
	}))

	if err := store.SetToken("tok-evict"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := store.SetProfile(models.User{ID: "u1"}); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}

	var navigations atomic.Int64
	c.navigate = func(target string) {
		if target != "/login" {
			t.Errorf("expected /login navigation, got %q", target)
		}
		navigations.Add(1)
	}

	const concurrent = 8
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Get(context.Background(), "/orders", nil)
			if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected a 401 APIError, got %v", err)
			}
		}()
	}
	close(release)
	wg.Wait()

	if got := navigations.Load(); got != 1 {
		t.Fatalf("expected exactly one forced navigation, got %d", got)
	}
	if _, ok := store.Token(); ok {
		t.Fatal("expected token eviction")
	}
	if _, ok := store.Profile(); ok {
		t.Fatal("expected profile eviction")
	}

	// A fresh login arms the eviction again.
	if err := store.SetToken("tok-second"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	_ = c.Get(context.Background(), "/orders", nil)
	if got := navigations.Load(); got != 2 {
		t.Fatalf("expected a second navigation after re-login, got %d", got)
	}
}

func TestClientLoadingCounter(t *testing.T) {
	tracker := &LoadingTracker{}
	inHandler := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler <- struct{}{}
		<-release
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true})
	}))
	t.Cleanup(server.Close)

	c, err := New(Config{Origin: server.URL, Credentials: NewMemoryStore(), Loading: tracker})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Get(context.Background(), "/products", nil) }()
	<-inHandler
	if got := tracker.InFlight(); got != 1 {
		t.Fatalf("expected one request in flight, got %d", got)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got := tracker.InFlight(); got != 0 {
		t.Fatalf("expected counter back at zero, got %d", got)
	}
}

func TestClientLoadingCounterSettledOnFailure(t *testing.T) {
	tracker := &LoadingTracker{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c, err := New(Config{Origin: server.URL, Credentials: NewMemoryStore(), Loading: tracker})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := c.Get(context.Background(), "/products", nil); err == nil {
		t.Fatal("expected transport failure")
	}
	if got := tracker.InFlight(); got != 0 {
		t.Fatalf("expected counter settled after failure, got %d", got)
	}
}

func TestClientBackgroundSkipsLoadingCounter(t *testing.T) {
	tracker := &LoadingTracker{}
	observed := make(chan int64, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observed <- tracker.InFlight()
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true})
	}))
	t.Cleanup(server.Close)

	c, err := New(Config{Origin: server.URL, Credentials: NewMemoryStore(), Loading: tracker})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := c.Get(context.Background(), "/products", nil, Background()); err != nil {
		t.Fatalf("background get: %v", err)
	}
	if got := <-observed; got != 0 {
		t.Fatalf("expected background request to skip the counter, got %d", got)
	}
	if err := c.Get(context.Background(), "/products", nil, SuppressLoader()); err != nil {
		t.Fatalf("suppressed get: %v", err)
	}
	if got := <-observed; got != 0 {
		t.Fatalf("expected suppressed request to skip the counter, got %d", got)
	}
}

func TestClientLoginPersistsCredentials(t *testing.T) {
	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			writeEnvelope(w, http.StatusNotFound, map[string]any{"success": false, "message": "not found"})
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "alice@example.com" {
			writeEnvelope(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "invalid credentials"})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"token":     "tok-login",
				"expiresAt": time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano),
				"user":      map[string]any{"id": "u1", "email": "alice@example.com", "roles": []string{"customer"}},
			},
		})
	}))

	result, err := c.Login(context.Background(), "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if result.Token != "tok-login" || result.User.ID != "u1" {
		t.Fatalf("unexpected login result: %+v", result)
	}
	if token, ok := store.Token(); !ok || token != "tok-login" {
		t.Fatalf("expected persisted token, got %q (%v)", token, ok)
	}
	if profile, ok := store.Profile(); !ok || profile.Email != "alice@example.com" {
		t.Fatalf("expected persisted profile, got %+v (%v)", profile, ok)
	}
}

func TestClientLogoutClearsCredentials(t *testing.T) {
	c, store, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	store.SetToken("tok-out")
	store.SetProfile(models.User{ID: "u1"})

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if _, ok := store.Token(); ok {
		t.Fatal("expected token cleared on logout")
	}
	if _, ok := store.Profile(); ok {
		t.Fatal("expected profile cleared on logout")
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := t.TempDir() + "/credentials.json"
	store := NewFileStore(path)

	if err := store.SetToken("tok-file"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := store.SetProfile(models.User{ID: "u1", Email: "alice@example.com", Roles: []string{"admin"}}); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}

	reopened := NewFileStore(path)
	if token, ok := reopened.Token(); !ok || token != "tok-file" {
		t.Fatalf("expected token to survive reopen, got %q (%v)", token, ok)
	}
	profile, ok := reopened.Profile()
	if !ok || profile.Email != "alice@example.com" || !profile.HasRole("admin") {
		t.Fatalf("expected profile to survive reopen, got %+v (%v)", profile, ok)
	}

	if err := reopened.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := reopened.Token(); ok {
		t.Fatal("expected token removed after Clear")
	}
	if _, ok := NewFileStore(path).Profile(); ok {
		t.Fatal("expected profile removed after Clear")
	}
}
