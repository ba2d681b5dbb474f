package gemini

import (
	"context"
	"testing"

	"google.golang.org/genai"

	"docuscene/pkg/config"
)

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		wantError bool
	}{
		{
			name:      "No API Key",
			apiKey:    "",
			wantError: true,
		},
		{
			name:      "With API Key",
			apiKey:    "dummy_key",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_MODE", "true")

			c, err := NewClient(config.ProviderConfig{
				Key:   tt.apiKey,
				Model: "gemini-2.5-flash",
				Type:  "gemini",
			}, "", nil)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}

			err = c.HealthCheck(context.Background())
			if (err != nil) != tt.wantError {
				t.Errorf("HealthCheck() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestGenerateText_NotConfigured(t *testing.T) {
	c, err := NewClient(config.ProviderConfig{Type: "gemini"}, "", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.GenerateText(context.Background(), "scenes", "hi"); err == nil {
		t.Error("expected error for unconfigured client")
	}
}

func TestResolveModel(t *testing.T) {
	c, _ := NewClient(config.ProviderConfig{
		Type:     "gemini",
		Model:    "base-model",
		Profiles: map[string]string{"scenes": "scene-model", "empty": ""},
	}, "", nil)
	c.SetTemperature(0.4)

	tests := []struct {
		intent string
		want   string
	}{
		{"scenes", "scene-model"},
		{"empty", "base-model"},
		{"unknown", "base-model"},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			model, cfg := c.resolveModel(tt.intent)
			if model != tt.want {
				t.Errorf("resolveModel(%q) = %q, want %q", tt.intent, model, tt.want)
			}
			if cfg.Temperature == nil || *cfg.Temperature != 0.4 {
				t.Errorf("expected temperature 0.4, got %v", cfg.Temperature)
			}
		})
	}

	if !c.HasProfile("scenes") || c.HasProfile("empty") || c.HasProfile("unknown") {
		t.Error("HasProfile mismatch")
	}
}

func TestGetResponseText(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr bool
	}{
		{name: "nil", resp: nil, wantErr: true},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}, wantErr: true},
		{
			name:    "no content",
			resp:    &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}},
			wantErr: true,
		},
		{
			name: "joins parts",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "[{"}, {Text: "}]"}}},
			}}},
			want: "[{}]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := getResponseText(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
