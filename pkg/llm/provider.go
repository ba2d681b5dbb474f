package llm

import "context"

// Provider generates text from a prompt. name selects the profile (model)
// configured for an intent, such as "scenes".
type Provider interface {
	GenerateText(ctx context.Context, name, prompt string) (string, error)
	// GenerateJSON unmarshals the cleaned response into target.
	GenerateJSON(ctx context.Context, name, prompt string, target any) error
	// HealthCheck reports whether the provider is configured and reachable.
	HealthCheck(ctx context.Context) error
	HasProfile(name string) bool
}
