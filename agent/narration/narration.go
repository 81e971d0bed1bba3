// Package narration produces short third-person scene descriptions that are
// interleaved with character replies.
package narration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	promptx "github.com/tanpawarit/Chative-Character-Chat/agent/prompt"
)

const (
	temperature = 0.8
	maxTokens   = 100
)

type Config struct {
	// Interval makes every Nth turn narrate.
	Interval int `envconfig:"INTERVAL" default:"3"`
	// Chance is the probability of narrating on any other turn.
	Chance float64 `envconfig:"CHANCE" default:"0.3"`
}

var fallbackTemplates = []string{
	"{name}停顿了一下，似乎在思考着什么。",
	"房间里安静了片刻，只有轻微的呼吸声。",
	"{name}的表情变得柔和起来。",
	"窗外的光线洒进来，照在两人之间。",
	"时间仿佛在这一刻慢了下来。",
}

type Input struct {
	Scene  string
	Role   string
	Recent []string
}

// Generator decides when to narrate and produces the narration text.
type Generator struct {
	invoker  contractx.Invoker
	rng      contractx.Rand
	interval int
	chance   float64

	mu      sync.Mutex
	counter int

	now func() time.Time
}

func New(invoker contractx.Invoker, rng contractx.Rand, cfg Config) (*Generator, error) {
	if invoker == nil {
		return nil, errors.New("backend invoker is required")
	}
	if rng == nil {
		rng = contractx.DefaultRand
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3
	}
	return &Generator{
		invoker:  invoker,
		rng:      rng,
		interval: cfg.Interval,
		chance:   cfg.Chance,
		now:      time.Now,
	}, nil
}

// ShouldFire counts one turn and reports whether it should be narrated.
func (g *Generator) ShouldFire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	if g.counter >= g.interval {
		g.counter = 0
		return true
	}
	return g.rng.Float64() < g.chance
}

// Generate never fails: backend errors, missing configuration and empty
// output all produce a literal fallback line.
func (g *Generator) Generate(ctx context.Context, in Input) string {
	if err := g.invoker.CheckConfig(); err != nil {
		log.Debug().Err(err).Msg("narration backend not configured, using fallback")
		return g.fallback(in.Role)
	}

	msgs, err := promptx.Narration(ctx, promptx.NarrationInput{
		Scene:  in.Scene,
		Role:   in.Role,
		Recent: in.Recent,
		Now:    g.now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("render narration prompt failed")
		return g.fallback(in.Role)
	}

	text, err := g.invoker.Call(ctx, msgs, contractx.GenerationParams{Temperature: temperature, MaxTokens: maxTokens})
	if err != nil {
		log.Warn().Err(err).Msg("narration call failed, using fallback")
		return g.fallback(in.Role)
	}
	text = Polish(text)
	if text == "" {
		return g.fallback(in.Role)
	}
	return text
}

func (g *Generator) fallback(role string) string {
	name := strings.TrimSpace(role)
	if name == "" {
		name = "他"
	}
	tmpl := fallbackTemplates[g.rng.IntN(len(fallbackTemplates))]
	return strings.ReplaceAll(tmpl, "{name}", name)
}

// Polish trims text and closes it with a full stop when it lacks final
// punctuation.
func Polish(text string) string {
	text = strings.Trim(strings.TrimSpace(text), "\"“”")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	runes := []rune(text)
	switch runes[len(runes)-1] {
	case '。', '！', '？', '.', '!', '?', '」', '』':
		return text
	}
	return text + "。"
}
