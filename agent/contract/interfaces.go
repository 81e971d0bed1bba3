package contract

import (
	"context"
	"time"
)

// Invoker performs one model call.
type Invoker interface {
	Call(ctx context.Context, messages []Message, params GenerationParams) (string, error)
	// CheckConfig reports ErrConfig when the backend cannot be reached at all.
	CheckConfig() error
}

// PersonaSource yields the active user persona, if any.
type PersonaSource interface {
	Persona(ctx context.Context) (*Persona, error)
}

// ReminderSource yields reminders due on the day of now.
type ReminderSource interface {
	Reminders(ctx context.Context, now time.Time) ([]Reminder, error)
}

// Rand is satisfied by *math/rand/v2.Rand.
type Rand interface {
	Float64() float64
	IntN(n int) int
}
