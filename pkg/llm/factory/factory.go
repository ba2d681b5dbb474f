// Package factory assembles the configured LLM providers into a failover chain.
package factory

import (
	"errors"
	"fmt"
	"log/slog"

	"docuscene/pkg/config"
	"docuscene/pkg/llm"
	"docuscene/pkg/llm/failover"
	"docuscene/pkg/llm/gemini"
	"docuscene/pkg/llm/openai"
	"docuscene/pkg/request"
	"docuscene/pkg/tracker"
)

// ErrNoProviders is returned when no provider in the fallback list is usable.
// Callers treat it as "plan without an LLM".
var ErrNoProviders = errors.New("no usable llm providers")

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// New builds the failover chain in cfg.Fallback order. Providers without a
// key are skipped. The failover chain owns the LLM log at logPath.
func New(cfg config.LLMConfig, logPath string, rc *request.Client, t *tracker.Tracker) (llm.Provider, error) {
	if !cfg.Enabled {
		return nil, ErrNoProviders
	}
	if len(cfg.Fallback) == 0 {
		return nil, fmt.Errorf("%w: fallback list is empty", ErrNoProviders)
	}

	var providers []llm.Provider
	var names []string
	for _, name := range cfg.Fallback {
		pCfg, ok := cfg.Providers[name]
		if !ok {
			return nil, fmt.Errorf("provider %q not found in config", name)
		}
		if pCfg.Key == "" {
			slog.Warn("LLM provider has no API key, skipping", "provider", name)
			continue
		}

		p, err := build(name, pCfg, rc, t)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		providers = append(providers, p)
		names = append(names, name)
	}

	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return failover.New(providers, names, logPath)
}

func build(name string, pCfg config.ProviderConfig, rc *request.Client, t *tracker.Tracker) (llm.Provider, error) {
	switch pCfg.Type {
	case "gemini":
		return gemini.NewClient(pCfg, "", t)
	case "openai":
		c, err := openai.NewClient(pCfg, defaultOpenAIBaseURL, rc)
		if err != nil {
			return nil, err
		}
		c.SetLabel(name)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown llm provider type: %s", pCfg.Type)
	}
}
