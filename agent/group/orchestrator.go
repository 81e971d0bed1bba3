// Package group schedules staggered replies from several characters to one
// group chat message.
package group

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
	splitterx "github.com/tanpawarit/Chative-Character-Chat/agent/splitter"
	"golang.org/x/sync/errgroup"
)

const (
	NobodyOnline = "（群里现在没有人在线）"

	baseChance      = 0.5
	mentionChance   = 0.95
	personalityStep = 0.2

	maxCallsPerMember = 3
	minBubbles        = 1
	maxBubbles        = 4

	baseDelay     = 500 * time.Millisecond
	jitterDelay   = 1500 * time.Millisecond
	positionDelay = 500 * time.Millisecond
)

// Asker is the part of the dispatcher the orchestrator needs.
type Asker interface {
	Ask(ctx context.Context, req contractx.Request) (string, error)
}

// Roster gives members without a character of their own an identity built
// from their name and personality.
type Roster interface {
	EnsureRole(id string, data rolex.Data) (bool, error)
}

// Item is one bubble of the merged group timeline.
type Item struct {
	RoleID  string        `json:"role_id,omitempty"`
	Name    string        `json:"name,omitempty"`
	Content string        `json:"content"`
	System  bool          `json:"system,omitempty"`
	Delay   time.Duration `json:"delay"`
}

type Orchestrator struct {
	asker  Asker
	roster Roster

	rngMu sync.Mutex
	rng   contractx.Rand

	now func() time.Time
}

type Option func(*Orchestrator)

// WithRoster registers unknown responders before they are asked.
func WithRoster(r Roster) Option {
	return func(o *Orchestrator) { o.roster = r }
}

func New(asker Asker, rng contractx.Rand, opts ...Option) (*Orchestrator, error) {
	if asker == nil {
		return nil, errors.New("asker is required")
	}
	if rng == nil {
		rng = contractx.DefaultRand
	}
	o := &Orchestrator{asker: asker, rng: rng, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Replies picks responders among the awake members, asks each for one to
// three replies concurrently and interleaves the resulting bubbles.
// recent holds the latest group lines, oldest first.
func (o *Orchestrator) Replies(ctx context.Context, g Group, message string, recent []string) ([]Item, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	}

	awake := o.awakeMembers(g.Members)
	if len(awake) == 0 {
		return []Item{{System: true, Content: NobodyOnline, Delay: baseDelay}}, nil
	}

	o.rngMu.Lock()
	responders := o.selectResponders(awake, message)
	calls := make([]int, len(responders))
	for i := range calls {
		calls[i] = 1 + o.rng.IntN(maxCallsPerMember)
	}
	o.rngMu.Unlock()

	log.Debug().Str("group_id", g.ID).Int("awake", len(awake)).Int("responders", len(responders)).Msg("group responders selected")

	if err := o.ensureMembers(responders); err != nil {
		return nil, err
	}

	bubbles := make([][]string, len(responders))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, m := range responders {
		eg.Go(func() error {
			out, err := o.memberBubbles(egCtx, m, message, recent, calls[i])
			if err != nil {
				return fmt.Errorf("member %s: %w", m.RoleID, err)
			}
			bubbles[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.interleave(responders, bubbles), nil
}

func (o *Orchestrator) ensureMembers(members []Member) error {
	if o.roster == nil {
		return nil
	}
	for _, m := range members {
		applied, err := o.roster.EnsureRole(m.RoleID, rolex.Data{Name: m.Name, Personality: m.Personality.Label()})
		if err != nil {
			return fmt.Errorf("member %s: %w", m.RoleID, err)
		}
		if applied {
			log.Debug().Str("role_id", m.RoleID).Str("name", m.Name).Msg("group member registered")
		}
	}
	return nil
}

func (o *Orchestrator) awakeMembers(members []Member) []Member {
	now := o.now()
	var out []Member
	for _, m := range members {
		if m.Schedule.Awake(now) {
			out = append(out, m)
		}
	}
	return out
}

// selectResponders always returns at least one member. Callers hold rngMu.
func (o *Orchestrator) selectResponders(awake []Member, message string) []Member {
	var selected []Member
	for _, m := range awake {
		if o.rng.Float64() < chance(m, message) {
			selected = append(selected, m)
		}
	}
	if len(selected) == 0 {
		selected = append(selected, awake[o.rng.IntN(len(awake))])
	}
	return selected
}

func chance(m Member, message string) float64 {
	p := baseChance
	switch m.Personality {
	case PersonalityActive:
		p += personalityStep
	case PersonalityQuiet:
		p -= personalityStep
	}
	if m.Name != "" && strings.Contains(message, "@"+m.Name) {
		p = max(p, mentionChance)
	}
	return min(max(p, 0), 1)
}

func (o *Orchestrator) memberBubbles(ctx context.Context, m Member, message string, recent []string, calls int) ([]string, error) {
	var (
		out     []string
		replies []string
	)
	for c := range calls {
		extra := slices.Clone(recent)
		for _, prev := range replies {
			extra = append(extra, "你刚才说："+prev)
		}
		reply, err := o.asker.Ask(ctx, contractx.Request{
			Message:      message,
			Scene:        scenex.GroupChat,
			RoleID:       m.RoleID,
			ExtraContext: extra,
			SkipCache:    c > 0,
		})
		if err != nil {
			return nil, err
		}
		replies = append(replies, reply)
		out = append(out, splitterx.Split(reply, minBubbles, maxBubbles)...)
	}
	return out, nil
}

// interleave merges each member's bubbles into one timeline, keeping every
// member's own order, then assigns delivery delays. Callers hold rngMu.
func (o *Orchestrator) interleave(responders []Member, bubbles [][]string) []Item {
	var items []Item
	for i, m := range responders {
		last := -1
		for _, text := range bubbles[i] {
			var pos int
			if last < 0 {
				pos = o.rng.IntN(len(items) + 1)
			} else {
				pos = last + min(1+o.rng.IntN(3), len(items)-last)
			}
			items = slices.Insert(items, pos, Item{RoleID: m.RoleID, Name: m.Name, Content: text})
			last = pos
		}
	}
	for i := range items {
		jitter := time.Duration(o.rng.Float64() * float64(jitterDelay))
		items[i].Delay = baseDelay + jitter + time.Duration(i)*positionDelay
	}
	return items
}
