package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docuscene/pkg/config"
	"docuscene/pkg/request"
	"docuscene/pkg/tracker"
)

func newRC(tr *tracker.Tracker) *request.Client {
	return request.New(nil, tr, request.ClientConfig{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
}

func TestOpenAI_GenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test_key" {
			t.Errorf("Expected Bearer test_key, got %s", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Model != "test_model" || req.MaxTokens != maxTokens {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
	}))
	defer server.Close()

	tr := tracker.New()
	cfg := config.ProviderConfig{Type: "openai", Key: "test_key", Profiles: map[string]string{"test": "test_model"}}

	c, err := NewClient(cfg, server.URL, newRC(tr))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	res, err := c.GenerateText(context.Background(), "test", "ping")
	if err != nil {
		t.Fatalf("failed to generate text: %v", err)
	}
	if res != "pong" {
		t.Errorf("expected pong, got %s", res)
	}
	if tr.Snapshot()["openai"].APISuccess != 1 {
		t.Errorf("expected request tracked under label openai, got %v", tr.Snapshot())
	}
}

func TestOpenAI_GenerateJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format")
		}
		if !strings.Contains(req.Messages[0].Content, "JSON") {
			t.Errorf("expected JSON hint appended to prompt")
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```json\\n{\\\"result\\\": \\\"ok\\\"}\\n```" + `"}}]}`))
	}))
	defer server.Close()

	c, _ := NewClient(config.ProviderConfig{Key: "key", Profiles: map[string]string{"test": "model"}}, server.URL, newRC(nil))

	var target struct {
		Result string `json:"result"`
	}
	if err := c.GenerateJSON(context.Background(), "test", "prompt", &target); err != nil {
		t.Fatalf("failed to generate json: %v", err)
	}
	if target.Result != "ok" {
		t.Errorf("expected ok, got %s", target.Result)
	}
}

func TestOpenAI_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"BadRequest", http.StatusBadRequest, `{"error": {"message": "invalid model", "type": "invalid_request_error"}}`, "status 400"},
		{"ErrorIn200", http.StatusOK, `{"error": {"message": "internal limitation", "type": "proxy_error"}}`, "internal limitation"},
		{"InvalidJSON", http.StatusOK, `invalid json`, "failed to unmarshal"},
		{"NoChoices", http.StatusOK, `{"choices":[]}`, "returned no choices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, _ := NewClient(config.ProviderConfig{Key: "key", Profiles: map[string]string{"test": "model"}}, server.URL, newRC(nil))
			_, err := c.GenerateText(context.Background(), "test", "ping")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestOpenAI_MissingKey(t *testing.T) {
	c, _ := NewClient(config.ProviderConfig{Profiles: map[string]string{"test": "model"}}, "http://localhost", newRC(nil))
	if _, err := c.GenerateText(context.Background(), "test", "ping"); err == nil {
		t.Error("expected error without api key")
	}
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check error without api key")
	}
}

func TestOpenAI_HealthCheckAndValidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o-mini"},{"id":"gpt-4o"}]}`))
	}))
	defer server.Close()

	t.Setenv("TEST_MODE", "")

	ok, _ := NewClient(config.ProviderConfig{Key: "key", Profiles: map[string]string{"scenes": "gpt-4o-mini"}}, server.URL, newRC(nil))
	if err := ok.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
	if err := ok.ValidateModels(context.Background()); err != nil {
		t.Errorf("ValidateModels failed: %v", err)
	}

	bad, _ := NewClient(config.ProviderConfig{Key: "key", Profiles: map[string]string{"scenes": "missing-model"}}, server.URL, newRC(nil))
	if err := bad.ValidateModels(context.Background()); err == nil || !strings.Contains(err.Error(), "missing-model") {
		t.Errorf("expected missing model error, got %v", err)
	}
}

func TestOpenAI_ResolveModel(t *testing.T) {
	cfg := config.ProviderConfig{Profiles: map[string]string{"scenes": "pro-model"}}
	c, _ := NewClient(cfg, "http://localhost", newRC(nil))

	tests := []struct {
		intent  string
		want    string
		wantErr bool
	}{
		{"scenes", "pro-model", false},
		{"other", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			m, err := c.resolveModel(tt.intent)
			if (err != nil) != tt.wantErr || m != tt.want {
				t.Errorf("resolveModel(%q) = %q, %v", tt.intent, m, err)
			}
		})
	}
	if !c.HasProfile("scenes") || c.HasProfile("other") {
		t.Error("HasProfile mismatch")
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(config.ProviderConfig{}, "", newRC(nil)); err == nil {
		t.Error("expected error without base url")
	}
}
