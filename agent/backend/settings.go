package backend

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

const (
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
)

// Settings selects and authenticates the model backend.
type Settings struct {
	Provider string `envconfig:"PROVIDER" default:"openai"`
	BaseURL  string `envconfig:"BASE_URL" split_words:"true"`
	APIKey   string `envconfig:"API_KEY" split_words:"true"`
	Model    string `envconfig:"MODEL"`
	// Temperature overrides the scene value when >= 0.
	Temperature float64 `envconfig:"TEMPERATURE" default:"-1"`
	// MaxTokens overrides the scene value when > 0.
	MaxTokens int           `envconfig:"MAX_TOKENS" split_words:"true" default:"0"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

func (s Settings) Validate() error {
	var missing []string
	if strings.TrimSpace(s.BaseURL) == "" {
		missing = append(missing, "base url")
	}
	if strings.TrimSpace(s.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(s.Model) == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", contractx.ErrConfig, strings.Join(missing, ", "))
	}
	return nil
}

func (s Settings) isGoogle() bool {
	return strings.EqualFold(strings.TrimSpace(s.Provider), ProviderGoogle)
}

// Resolve applies the settings overrides on top of the scene parameters.
func (s Settings) Resolve(params contractx.GenerationParams) contractx.GenerationParams {
	if s.Temperature >= 0 {
		params.Temperature = s.Temperature
	}
	if s.MaxTokens > 0 {
		params.MaxTokens = s.MaxTokens
	}
	return params
}

// SettingsFunc is consulted on every call so configuration changes apply
// without rebuilding the invoker.
type SettingsFunc func() Settings

func Static(s Settings) SettingsFunc {
	return func() Settings { return s }
}
