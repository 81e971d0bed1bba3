package role

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

// Registry holds every known character. All methods are safe for
// concurrent use; reads return copies.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]*Role
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		roles: make(map[string]*Role),
		now:   time.Now,
	}
}

// RegisterRole creates or overwrites the identity of id. Existing memories
// and history are preserved.
func (r *Registry) RegisterRole(id string, data Data) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role id is empty", contractx.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.apply(id, data)
	return nil
}

// EnsureRole registers id with data unless it already has an identity of
// its own. Roles created implicitly by memory writes still carry the
// default name and are filled in. It reports whether data was applied.
func (r *Registry) EnsureRole(id string, data Data) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("%w: role id is empty", contractx.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.roles[id]; ok && entry.Name != "" && entry.Name != DefaultName {
		return false, nil
	}
	r.apply(id, data)
	return true, nil
}

// apply is called with mu held.
func (r *Registry) apply(id string, data Data) {
	entry, ok := r.roles[id]
	if !ok {
		entry = &Role{ID: id}
		r.roles[id] = entry
	}
	name := strings.TrimSpace(data.Name)
	if name == "" {
		name = DefaultName
	}
	entry.Name = name
	entry.Background = strings.TrimSpace(data.Background)
	entry.Personality = strings.TrimSpace(data.Personality)
	entry.Tone = toneFor(entry.Personality)
	entry.Traits = slices.Clone(data.Traits)
	entry.UpdatedAt = r.now()
}

// GetRole never fails: unknown ids yield the default identity, which is
// not stored.
func (r *Registry) GetRole(id string) Role {
	if role, ok := r.Lookup(id); ok {
		return role
	}
	return Default(id)
}

func (r *Registry) Lookup(id string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.roles[id]
	if !ok {
		return Role{}, false
	}
	return entry.clone(), true
}

// entry returns the stored role, creating a default one. Callers hold mu.
func (r *Registry) entry(id string) *Role {
	entry, ok := r.roles[id]
	if !ok {
		def := Default(id)
		entry = &def
		r.roles[id] = entry
	}
	return entry
}

// UpdateMemory appends rec to short-term memory, evicting the oldest entry
// past ShortTermLimit.
func (r *Registry) UpdateMemory(id string, rec contractx.MemoryRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entry(id)
	entry.ShortTerm = capTail(append(entry.ShortTerm, rec), ShortTermLimit)
	entry.UpdatedAt = r.now()
}

// Remember appends rec to short-term memory and promotes the overflow into
// long-term memory, which is itself capped at LongTermLimit.
func (r *Registry) Remember(id string, rec contractx.MemoryRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entry(id)
	entry.ShortTerm = append(entry.ShortTerm, rec)
	if overflow := len(entry.ShortTerm) - ShortTermLimit; overflow > 0 {
		entry.LongTerm = append(entry.LongTerm, entry.ShortTerm[:overflow]...)
		entry.ShortTerm = slices.Clone(entry.ShortTerm[overflow:])
	}
	entry.LongTerm = capTail(entry.LongTerm, LongTermLimit)
	entry.UpdatedAt = r.now()
}

// Relevant returns the most recent short-term records followed by the most
// recent long-term ones.
func (r *Registry) Relevant(id string) []contractx.MemoryRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.roles[id]
	if !ok {
		return nil
	}
	out := lastN(entry.ShortTerm, relevantShortTerm)
	return append(out, lastN(entry.LongTerm, relevantLongTerm)...)
}

// AppendTurn records messages in the (scene, id) history, keeping the
// newest HistoryLimit entries.
func (r *Registry) AppendTurn(scene, id string, msgs ...contractx.Message) {
	if len(msgs) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entry(id)
	if entry.History == nil {
		entry.History = make(map[string][]contractx.Message)
	}
	entry.History[scene] = capTail(append(entry.History[scene], msgs...), HistoryLimit)
}

func (r *Registry) History(scene, id string) []contractx.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.roles[id]
	if !ok {
		return nil
	}
	return slices.Clone(entry.History[scene])
}

// Restore replaces the stored state of role.ID with role, enforcing caps.
func (r *Registry) Restore(role Role) error {
	if strings.TrimSpace(role.ID) == "" {
		return fmt.Errorf("%w: role id is empty", contractx.ErrValidation)
	}
	restored := role.clone()
	restored.ShortTerm = capTail(restored.ShortTerm, ShortTermLimit)
	restored.LongTerm = capTail(restored.LongTerm, LongTermLimit)
	for scene, turns := range restored.History {
		restored.History[scene] = capTail(turns, HistoryLimit)
	}
	if restored.Tone == "" {
		restored.Tone = toneFor(restored.Personality)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[restored.ID] = &restored
	return nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.roles))
	for id := range r.roles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}

// HistoryCount is the number of (scene, role) conversation histories.
func (r *Registry) HistoryCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.roles {
		n += len(entry.History)
	}
	return n
}
