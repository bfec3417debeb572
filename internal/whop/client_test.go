package whop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/logger"
)

func TestNilClientIsNoop(t *testing.T) {
	var c *Client
	if err := c.SendDirectMessage(context.Background(), "exp", "user", "hi"); err != nil {
		t.Fatalf("nil client should not fail, got %v", err)
	}
	if NewClient(&config.Config{}, logger.Discard()) != nil {
		t.Fatal("unconfigured client should be nil")
	}
}

func TestSendDirectMessage(t *testing.T) {
	var got directMessageRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/direct" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(&config.Config{WhopAPIURL: srv.URL + "/", WhopAPIKey: "secret"}, logger.Discard())
	if err := c.SendDirectMessage(context.Background(), "exp_1", "user_1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got.ExperienceID != "exp_1" || got.UserID != "user_1" || got.Message != "hello" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestSendDirectMessageReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "user blocked DMs", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(&config.Config{WhopAPIURL: srv.URL, WhopAPIKey: "secret"}, logger.Discard())
	err := c.SendDirectMessage(context.Background(), "exp_1", "user_1", "hello")
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 error, got %v", err)
	}
}
