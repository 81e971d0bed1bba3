package role

import (
	"slices"
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

const (
	DefaultName = "助手"
	DefaultTone = "friendly"

	ShortTermLimit = 20
	LongTermLimit  = 50
	HistoryLimit   = 10

	relevantShortTerm = 10
	relevantLongTerm  = 5
)

// Data is the caller-supplied identity of a character.
type Data struct {
	Name        string   `json:"name"`
	Background  string   `json:"background"`
	Personality string   `json:"personality"`
	Traits      []string `json:"traits,omitempty"`
}

// Role is a character together with its memories and per-scene turn history.
type Role struct {
	ID          string                         `json:"id"`
	Name        string                         `json:"name"`
	Background  string                         `json:"background"`
	Personality string                         `json:"personality"`
	Tone        string                         `json:"tone"`
	Traits      []string                       `json:"traits,omitempty"`
	ShortTerm   []contractx.MemoryRecord       `json:"short_term,omitempty"`
	LongTerm    []contractx.MemoryRecord       `json:"long_term,omitempty"`
	History     map[string][]contractx.Message `json:"history,omitempty"`
	UpdatedAt   time.Time                      `json:"updated_at"`
}

// Default returns the identity served for unregistered ids.
func Default(id string) Role {
	return Role{ID: id, Name: DefaultName, Tone: DefaultTone}
}

func (r Role) clone() Role {
	out := r
	out.Traits = slices.Clone(r.Traits)
	out.ShortTerm = slices.Clone(r.ShortTerm)
	out.LongTerm = slices.Clone(r.LongTerm)
	if r.History != nil {
		out.History = make(map[string][]contractx.Message, len(r.History))
		for scene, turns := range r.History {
			out.History[scene] = slices.Clone(turns)
		}
	}
	return out
}

func toneFor(personality string) string {
	if personality == "" {
		return DefaultTone
	}
	return personality
}

// capTail keeps the newest limit entries.
func capTail[T any](items []T, limit int) []T {
	if len(items) <= limit {
		return items
	}
	return slices.Clone(items[len(items)-limit:])
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return slices.Clone(items)
	}
	return slices.Clone(items[len(items)-n:])
}
