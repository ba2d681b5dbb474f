package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"docuscene/pkg/config"
	"docuscene/pkg/llm"
	"docuscene/pkg/request"
)

// maxTokens bounds a single completion. Scene plans for 20 scenes fit comfortably.
const maxTokens = 2000

// Client implements llm.Provider for any OpenAI-compatible chat completions API.
type Client struct {
	rc       *request.Client
	apiKey   string
	baseURL  string
	profiles map[string]string
	label    string

	temperature float32

	mu sync.RWMutex
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float32         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a new OpenAI-compatible client. cfg.BaseURL wins over defaultBaseURL.
func NewClient(cfg config.ProviderConfig, defaultBaseURL string, rc *request.Client) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}

	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      cfg.Key,
		profiles:    cfg.Profiles,
		rc:          rc,
		label:       cfg.Type,
		temperature: 0.7,
	}, nil
}

// SetLabel sets the provider label for request tracking.
func (c *Client) SetLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.label = label
}

// SetTemperature overrides the sampling temperature for text generation.
func (c *Client) SetTemperature(t float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperature = t
}

// HealthCheck verifies the key against the models endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("openai client not configured (missing key)")
	}
	_, err := c.listModels(ctx)
	return err
}

// ValidateModels checks that every profile model is offered by the endpoint.
func (c *Client) ValidateModels(ctx context.Context) error {
	if os.Getenv("TEST_MODE") == "true" {
		slog.Warn("Skipping OpenAI model validation (TEST_MODE=true)")
		return nil
	}
	if len(c.profiles) == 0 {
		return nil
	}

	availableList, err := c.listModels(ctx)
	if err != nil {
		return err
	}
	available := make(map[string]bool, len(availableList))
	for _, id := range availableList {
		available[id] = true
	}

	var missing []string
	for _, model := range c.profiles {
		if !available[model] {
			missing = append(missing, model)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("configured models %v not found at %s. Available models: %v", missing, c.baseURL, availableList)
	}
	return nil
}

func (c *Client) listModels(ctx context.Context) ([]string, error) {
	u := c.baseURL + "/models"
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}

	respBody, err := c.rc.GetWithHeaders(c.labeled(ctx), u, headers, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models from %s: %w", u, err)
	}

	var mresp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &mresp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	ids := make([]string, 0, len(mresp.Data))
	for _, m := range mresp.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	model, err := c.resolveModel(name)
	if err != nil {
		return "", err
	}

	c.mu.RLock()
	temp := c.temperature
	c.mu.RUnlock()

	return c.execute(ctx, chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temp,
		MaxTokens:   maxTokens,
	})
}

func (c *Client) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	model, err := c.resolveModel(name)
	if err != nil {
		return err
	}

	// json_object mode requires the word "json" somewhere in the prompt.
	if !strings.Contains(strings.ToLower(prompt), "json") {
		prompt += " Respond in JSON."
	}

	respText, err := c.execute(ctx, chatRequest{
		Model:          model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.1,
		MaxTokens:      maxTokens,
	})
	if err != nil {
		return err
	}

	respText = llm.CleanJSONBlock(respText)
	if err := json.Unmarshal([]byte(respText), target); err != nil {
		return fmt.Errorf("failed to unmarshal openai json: %w (raw: %s)", err, respText)
	}
	return nil
}

func (c *Client) Close() {}

func (c *Client) labeled(ctx context.Context) context.Context {
	c.mu.RLock()
	label := c.label
	c.mu.RUnlock()
	if label == "" {
		return ctx
	}
	return context.WithValue(ctx, request.CtxProviderLabel, label)
}

func (c *Client) execute(ctx context.Context, oreq chatRequest) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("api key is missing")
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}

	respBody, err := c.rc.PostWithHeaders(c.labeled(ctx), c.baseURL+"/chat/completions", body, headers)
	if err != nil {
		return "", err
	}

	var oresp openaiResponse
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if oresp.Error != nil {
		return "", fmt.Errorf("openai api error: %s (%s)", oresp.Error.Message, oresp.Error.Type)
	}
	if len(oresp.Choices) == 0 {
		return "", fmt.Errorf("api returned no choices")
	}

	return oresp.Choices[0].Message.Content, nil
}

func (c *Client) HasProfile(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profiles[name] != ""
}

func (c *Client) resolveModel(intent string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.profiles[intent]; ok && model != "" {
		return model, nil
	}
	return "", fmt.Errorf("profile %q not configured", intent)
}
