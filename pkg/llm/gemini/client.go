package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"docuscene/pkg/config"
	"docuscene/pkg/llm"
	"docuscene/pkg/tracker"
)

const defaultModel = "gemini-2.5-flash-lite"

// Client implements llm.Provider for Google Gemini.
type Client struct {
	genaiClient *genai.Client
	apiKey      string
	modelName   string
	profiles    map[string]string // Map intent -> modelName
	tracker     *tracker.Tracker
	logPath     string
	temperature float32

	mu sync.RWMutex
}

// NewClient creates a new Gemini client.
func NewClient(cfg config.ProviderConfig, logPath string, t *tracker.Tracker) (*Client, error) {
	c := &Client{tracker: t, logPath: logPath, temperature: 0.7}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure updates the client with new settings.
func (c *Client) Configure(cfg config.ProviderConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = cfg.Key
	c.modelName = cfg.Model
	c.profiles = cfg.Profiles

	if c.modelName == "" {
		c.modelName = defaultModel
	}

	if c.apiKey == "" {
		c.genaiClient = nil
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client

	if os.Getenv("TEST_MODE") == "true" {
		return nil
	}
	// Startup must survive a flaky API; a wrong model fails on first generation.
	if err := c.validateModel(context.Background()); err != nil {
		slog.Warn("Gemini model validation failed (proceeding anyway)", "error", err)
	}

	return nil
}

// SetTemperature sets the sampling temperature for all requests.
func (c *Client) SetTemperature(temp float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperature = temp
}

// Close cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genaiClient = nil
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	text, err := c.generate(ctx, name, prompt, false)
	if err != nil {
		return "", err
	}
	c.logPrompt(name, prompt, text)
	return text, nil
}

// GenerateJSON sends a prompt and unmarshals the response into the target struct.
func (c *Client) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	text, err := c.generate(ctx, name, prompt, true)
	if err != nil {
		return err
	}

	cleaned := llm.CleanJSONBlock(text)
	c.logPrompt(name, prompt, cleaned)

	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		c.track(false)
		return fmt.Errorf("failed to unmarshal JSON response: %w. Response: %s", err, cleaned)
	}
	return nil
}

func (c *Client) generate(ctx context.Context, name, prompt string, jsonMode bool) (string, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return "", fmt.Errorf("gemini client not configured")
	}

	modelName, cfg := c.resolveModel(name)
	if jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("ERROR: %v", err))
		c.track(false)
		return "", fmt.Errorf("generate content error: %w", err)
	}

	text, err := getResponseText(resp)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.track(false)
		return "", err
	}

	c.track(true)
	return text, nil
}

// HealthCheck verifies that the provider is configured and the model is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.genaiClient
	model := c.modelName
	c.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("gemini api key not configured")
	}
	if os.Getenv("TEST_MODE") == "true" {
		return nil
	}
	if _, err := client.Models.Get(ctx, modelPath(model), nil); err != nil {
		return fmt.Errorf("gemini model %s unavailable: %w", model, err)
	}
	return nil
}

// HasProfile reports whether an intent maps to a model.
func (c *Client) HasProfile(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.profiles[name]
	return ok && m != ""
}

// resolveModel returns the target model name and configuration for the given intent.
func (c *Client) resolveModel(intent string) (string, *genai.GenerateContentConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	target := c.modelName
	if m, ok := c.profiles[intent]; ok && m != "" {
		target = m
	}

	temp := c.temperature
	return target, &genai.GenerateContentConfig{Temperature: &temp}
}

func (c *Client) track(success bool) {
	if c.tracker == nil {
		return
	}
	if success {
		c.tracker.TrackAPISuccess("gemini")
		return
	}
	c.tracker.TrackAPIFailure("gemini")
}

func (c *Client) logPrompt(name, prompt, response string) {
	if c.logPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s][GEMINI] PROMPT: %s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		timestamp, name, llm.TruncateParagraphs(prompt, 80), llm.WordWrap(response, 80), strings.Repeat("-", 80))

	_, _ = f.WriteString(entry)
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("candidate has no content (finish reason %s)", cand.FinishReason)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response text")
	}
	return sb.String(), nil
}

func modelPath(name string) string {
	if strings.HasPrefix(name, "models/") {
		return name
	}
	return "models/" + name
}

// validateModel checks if the configured model is available for the API key
// and logs the available alternatives when it is not.
func (c *Client) validateModel(ctx context.Context) error {
	_, err := c.genaiClient.Models.Get(ctx, modelPath(c.modelName), nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "model", c.modelName)
		return nil
	}

	slog.Warn("Gemini model validation failed, fetching available models...", "model", c.modelName, "error", err)

	page, listErr := c.genaiClient.Models.List(ctx, nil)
	if listErr != nil {
		slog.Warn("Failed to list models for recovery", "error", listErr)
		return nil
	}

	var available []string
	for {
		for _, m := range page.Items {
			if m != nil && strings.Contains(strings.ToLower(m.Name), "gemini") {
				available = append(available, m.Name)
			}
		}
		next, nextErr := page.Next(ctx)
		if nextErr == iterator.Done || nextErr != nil {
			break
		}
		page = next
	}

	slog.Error("Configured model not found", "configured", c.modelName, "available", available)
	return nil
}
