package scene

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

const (
	PrivateChat = "private_chat"
	GroupChat   = "group_chat"
	Forum       = "forum"
	Moments     = "moments"
	Card        = "card"

	// DefaultTag is served for unknown scene tags.
	DefaultTag = PrivateChat
)

//go:embed scenes.toml
var defaultTable []byte

// Config is the immutable configuration of one scene.
type Config struct {
	Tag         string
	Temperature float64
	MaxTokens   int
	Template    string
	Features    Features
	Priority    contractx.Priority
	Fallbacks   []string
}

type sceneFile struct {
	Scenes []sceneEntry `toml:"scene"`
}

type sceneEntry struct {
	Tag         string   `toml:"tag"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Template    string   `toml:"template"`
	Features    []string `toml:"features"`
	Priority    string   `toml:"priority"`
	Fallbacks   []string `toml:"fallbacks"`
}

// Registry maps scene tags to configurations. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	scenes map[string]Config
	order  []string
}

func New() (*Registry, error) {
	r := &Registry{scenes: make(map[string]Config)}
	if err := r.merge(defaultTable); err != nil {
		return nil, fmt.Errorf("load default scenes: %w", err)
	}
	return r, nil
}

func MustNew() *Registry {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// NewFromFile loads the defaults, then overrides them with the scenes in path.
func NewFromFile(path string) (*Registry, error) {
	r, err := New()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene file: %w", err)
	}
	if err := r.merge(raw); err != nil {
		return nil, fmt.Errorf("load scene file %s: %w", path, err)
	}
	return r, nil
}

func (r *Registry) merge(raw []byte) error {
	var file sceneFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return err
	}
	for _, entry := range file.Scenes {
		cfg, err := entry.toConfig()
		if err != nil {
			return err
		}
		if _, ok := r.scenes[cfg.Tag]; !ok {
			r.order = append(r.order, cfg.Tag)
		}
		r.scenes[cfg.Tag] = cfg
	}
	if _, ok := r.scenes[DefaultTag]; !ok {
		return fmt.Errorf("%w: default scene %q is missing", contractx.ErrValidation, DefaultTag)
	}
	return nil
}

func (e sceneEntry) toConfig() (Config, error) {
	tag := strings.TrimSpace(e.Tag)
	if tag == "" {
		return Config{}, fmt.Errorf("%w: scene tag is empty", contractx.ErrValidation)
	}
	if e.Temperature < 0 || e.Temperature > 2 {
		return Config{}, fmt.Errorf("%w: scene %s temperature %v out of range", contractx.ErrValidation, tag, e.Temperature)
	}
	if e.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("%w: scene %s max_tokens must be positive", contractx.ErrValidation, tag)
	}
	if strings.TrimSpace(e.Template) == "" {
		return Config{}, fmt.Errorf("%w: scene %s template is empty", contractx.ErrValidation, tag)
	}
	if len(e.Fallbacks) == 0 {
		return Config{}, fmt.Errorf("%w: scene %s has no fallback replies", contractx.ErrValidation, tag)
	}
	features, err := ParseFeatures(e.Features)
	if err != nil {
		return Config{}, fmt.Errorf("scene %s: %w", tag, err)
	}
	priority := contractx.ParsePriority(strings.ToLower(strings.TrimSpace(e.Priority)))
	if priority == contractx.PriorityDefault {
		return Config{}, fmt.Errorf("%w: scene %s priority %q", contractx.ErrValidation, tag, e.Priority)
	}
	return Config{
		Tag:         tag,
		Temperature: e.Temperature,
		MaxTokens:   e.MaxTokens,
		Template:    e.Template,
		Features:    features,
		Priority:    priority,
		Fallbacks:   slices.Clone(e.Fallbacks),
	}, nil
}

// Get returns the scene for tag, or the private chat scene when the tag is unknown.
func (r *Registry) Get(tag string) Config {
	if cfg, ok := r.scenes[tag]; ok {
		return cfg
	}
	return r.scenes[DefaultTag]
}

func (r *Registry) Lookup(tag string) (Config, bool) {
	cfg, ok := r.scenes[tag]
	return cfg, ok
}

func (r *Registry) Tags() []string {
	return slices.Clone(r.order)
}

// Fallback picks one of the scene's literal replies.
func (c Config) Fallback(rng contractx.Rand) string {
	if len(c.Fallbacks) == 0 {
		return ""
	}
	return c.Fallbacks[rng.IntN(len(c.Fallbacks))]
}
