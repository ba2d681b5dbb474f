package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"docuscene/pkg/llm"
)

// Provider wraps an ordered chain of LLM providers and falls back along it.
type Provider struct {
	providers  []llm.Provider
	names      []string
	disabled   map[int]bool
	backoffs   map[string]*backoffState // key: providerName:profileName
	logPath    string
	retryDelay time.Duration
	mu         sync.RWMutex
}

type backoffState struct {
	subsequentFailures int
	skippedRequests    int
}

// New creates a failover Provider. names label providers in logs and must
// match providers by position. An empty logPath disables the prompt log.
func New(providers []llm.Provider, names []string, logPath string) (*Provider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required for failover")
	}
	if len(providers) != len(names) {
		return nil, fmt.Errorf("provider count (%d) does not match name count (%d)", len(providers), len(names))
	}

	return &Provider{
		providers:  providers,
		names:      names,
		disabled:   make(map[int]bool),
		backoffs:   make(map[string]*backoffState),
		logPath:    logPath,
		retryDelay: time.Second,
	}, nil
}

// SetRetryDelay sets the initial delay between retries of the last provider.
func (f *Provider) SetRetryDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryDelay = d
}

// GenerateText implements llm.Provider.
func (f *Provider) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	res, err := f.execute(ctx, name, prompt, func(p llm.Provider) (any, error) {
		return p.GenerateText(ctx, name, prompt)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// GenerateJSON implements llm.Provider.
func (f *Provider) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	_, err := f.execute(ctx, name, prompt, func(p llm.Provider) (any, error) {
		if err := p.GenerateJSON(ctx, name, prompt, target); err != nil {
			return nil, err
		}
		return target, nil
	})
	return err
}

// HasProfile implements llm.Provider.
func (f *Provider) HasProfile(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, p := range f.providers {
		if !f.disabled[i] && p.HasProfile(name) {
			return true
		}
	}
	return false
}

// HealthCheck verifies that at least one enabled provider is healthy.
func (f *Provider) HealthCheck(ctx context.Context) error {
	f.mu.RLock()
	providers := f.providers
	names := f.names
	disabled := make(map[int]bool, len(f.disabled))
	for k, v := range f.disabled {
		disabled[k] = v
	}
	f.mu.RUnlock()

	var errs []string
	for i, p := range providers {
		if disabled[i] {
			continue
		}
		if err := p.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", names[i], err))
			continue
		}
		return nil
	}

	if len(errs) == 0 {
		return fmt.Errorf("no providers available in failover chain")
	}
	return fmt.Errorf("all LLM providers failed health check: %s", strings.Join(errs, "; "))
}

type candidate struct {
	index int
	p     llm.Provider
	name  string
}

func (f *Provider) candidates(callName string) []candidate {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []candidate
	for i, p := range f.providers {
		if f.disabled[i] || !p.HasProfile(callName) {
			continue
		}
		out = append(out, candidate{i, p, f.names[i]})
	}
	return out
}

// execute runs fn against the chain. Fatal errors disable a provider for the
// session unless it is the last candidate; retryable errors put the
// provider/profile pair into a skip-count backoff.
func (f *Provider) execute(ctx context.Context, callName, prompt string, fn func(llm.Provider) (any, error)) (any, error) {
	candidates := f.candidates(callName)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no active provider supports profile %q", callName)
	}

	for idx, c := range candidates {
		backoffKey := c.name + ":" + callName
		isLast := idx == len(candidates)-1

		f.mu.Lock()
		bs, exists := f.backoffs[backoffKey]
		if exists && !isLast && bs.skippedRequests < bs.subsequentFailures {
			bs.skippedRequests++
			slog.Debug("LLM Provider in backoff, skipping", "provider", c.name, "profile", callName, "skipped", bs.skippedRequests, "target", bs.subsequentFailures)
			f.mu.Unlock()
			continue
		}
		f.mu.Unlock()

		res, err := fn(c.p)
		if err == nil {
			f.resetBackoff(backoffKey)
			f.logRequest(c.name, callName, prompt, fmt.Sprintf("%v", res), nil)
			return res, nil
		}
		f.logRequest(c.name, callName, prompt, "", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isUnrecoverable(err) {
			if isLast {
				return nil, err
			}
			slog.Warn("LLM Provider fatal error, disabling for the session", "provider", c.name, "error", err)
			f.mu.Lock()
			f.disabled[c.index] = true
			f.mu.Unlock()
			continue
		}

		f.mu.Lock()
		bs, exists = f.backoffs[backoffKey]
		if !exists {
			bs = &backoffState{}
			f.backoffs[backoffKey] = bs
		}
		bs.subsequentFailures++
		bs.skippedRequests = 0
		failures := bs.subsequentFailures
		f.mu.Unlock()

		if !isLast {
			slog.Info("LLM Provider failed (retryable), falling back", "provider", c.name, "next", candidates[idx+1].name, "error", err, "backoff_failures", failures)
			continue
		}

		res, err = f.retryLast(ctx, c.name, func() (any, error) { return fn(c.p) })
		if err != nil {
			f.logRequest(c.name, callName, prompt, "", err)
			return nil, err
		}
		f.resetBackoff(backoffKey)
		f.logRequest(c.name, callName, prompt, fmt.Sprintf("%v", res), nil)
		return res, nil
	}

	return nil, fmt.Errorf("all LLM providers exhausted for profile %q", callName)
}

func (f *Provider) resetBackoff(key string) {
	f.mu.Lock()
	delete(f.backoffs, key)
	f.mu.Unlock()
}

func (f *Provider) retryLast(ctx context.Context, name string, call func() (any, error)) (any, error) {
	f.mu.RLock()
	delay := f.retryDelay
	f.mu.RUnlock()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		res, err := call()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if isUnrecoverable(err) {
			return nil, fmt.Errorf("last provider failed with fatal error: %w", err)
		}

		slog.Warn("Last LLM provider failed, retrying with backoff", "provider", name, "attempt", attempt, "next_delay", delay*2, "error", err)
		delay *= 2
	}
	return nil, fmt.Errorf("last provider exhausted after 3 retries: %w", lastErr)
}

// logRequest appends to the LLM log. Failed calls record only the reason.
func (f *Provider) logRequest(providerName, callName, prompt, response string, err error) {
	if f.logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(f.logPath), 0o755); err != nil {
		return
	}

	file, fErr := os.OpenFile(f.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fErr != nil {
		return
	}
	defer file.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	var entry string
	if err != nil {
		entry = fmt.Sprintf("[%s][%s] ERROR: %s - %v\n%s\n",
			timestamp, strings.ToUpper(providerName), callName, err, strings.Repeat("-", 80))
	} else {
		entry = fmt.Sprintf("[%s][%s] PROMPT: %s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
			timestamp, strings.ToUpper(providerName), callName,
			llm.TruncateParagraphs(prompt, 80), llm.WordWrap(response, 80), strings.Repeat("-", 80))
	}

	_, _ = file.WriteString(entry)
}

// isUnrecoverable identifies errors that disable a provider (unless it's the last one).
// 429 and 5xx stay retryable.
func isUnrecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid_api_key") || strings.Contains(msg, "api key is missing") ||
		strings.Contains(msg, "not configured")
}
