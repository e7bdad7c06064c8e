package gateway

import (
	"fmt"
	"os"
	"strings"
)

// ProviderFromEnv builds a Provider from environment variables:
//
//	MODEL_PROVIDER    "anthropic" (default) or "openai"
//	ANTHROPIC_API_KEY / OPENAI_API_KEY
//	MODEL_NAME        optional model override
//	MODEL_BASE_URL    optional endpoint override (for proxies and tests)
func ProviderFromEnv() (Provider, error) {
	provider := strings.ToLower(os.Getenv("MODEL_PROVIDER"))
	model := os.Getenv("MODEL_NAME")
	baseURL := os.Getenv("MODEL_BASE_URL")

	switch provider {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		return NewOpenAI(key, model, baseURL), nil

	case "anthropic", "":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
		return NewAnthropic(key, model, baseURL), nil

	default:
		return nil, fmt.Errorf("unsupported MODEL_PROVIDER: %s (supported: anthropic, openai)", provider)
	}
}
