package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

var _ contractx.Invoker = (*Invoker)(nil)

// Invoker sends prompts to the configured backend using one of two wire
// shapes, chosen per call from the provider setting.
type Invoker struct {
	settings   SettingsFunc
	httpClient *http.Client
}

type Option func(*Invoker)

func WithHTTPClient(client *http.Client) Option {
	return func(i *Invoker) {
		if client != nil {
			i.httpClient = client
		}
	}
}

func New(settings SettingsFunc, opts ...Option) (*Invoker, error) {
	if settings == nil {
		return nil, errors.New("settings source is required")
	}
	inv := &Invoker{
		settings:   settings,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv, nil
}

func (i *Invoker) CheckConfig() error {
	return i.settings().Validate()
}

// Call returns the first candidate text. A response without a text field
// yields "" and no error.
func (i *Invoker) Call(ctx context.Context, messages []contractx.Message, params contractx.GenerationParams) (string, error) {
	s := i.settings()
	if err := s.Validate(); err != nil {
		return "", err
	}
	params = s.Resolve(params)

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var (
		text string
		err  error
	)
	if s.isGoogle() {
		text, err = i.generateContent(ctx, s, messages, params)
	} else {
		text, err = i.chatCompletion(ctx, s, messages, params)
	}
	if err != nil {
		log.Debug().Err(err).Str("provider", s.Provider).Str("model", s.Model).Msg("backend call failed")
		return "", fmt.Errorf("%w: %v", contractx.ErrBackend, err)
	}
	return text, nil
}
