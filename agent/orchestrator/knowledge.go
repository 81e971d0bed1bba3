package orchestrator

import (
	"context"
	"slices"
	"sync"
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

// PersonaBook holds the active user persona.
type PersonaBook struct {
	mu      sync.RWMutex
	persona *contractx.Persona
}

func (b *PersonaBook) Persona(context.Context) (*contractx.Persona, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.persona == nil {
		return nil, nil
	}
	p := *b.persona
	return &p, nil
}

func (b *PersonaBook) Set(p contractx.Persona) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persona = &p
}

// Calendar keeps reminders and serves the ones falling on a given day.
type Calendar struct {
	mu        sync.RWMutex
	reminders []contractx.Reminder
}

func (c *Calendar) Add(r contractx.Reminder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reminders = append(c.reminders, r)
}

// Reminders returns the reminders on the calendar day of now, earliest first.
func (c *Calendar) Reminders(_ context.Context, now time.Time) ([]contractx.Reminder, error) {
	loc := contractx.DefaultLocation()
	y, m, d := now.In(loc).Date()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []contractx.Reminder
	for _, r := range c.reminders {
		ry, rm, rd := r.Time.In(loc).Date()
		if ry == y && rm == m && rd == d {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b contractx.Reminder) int {
		return a.Time.Compare(b.Time)
	})
	return out, nil
}
