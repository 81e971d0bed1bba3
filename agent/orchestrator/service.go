package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	cachex "github.com/tanpawarit/Chative-Character-Chat/agent/cache"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	dispatcherx "github.com/tanpawarit/Chative-Character-Chat/agent/dispatcher"
	groupx "github.com/tanpawarit/Chative-Character-Chat/agent/group"
	narrationx "github.com/tanpawarit/Chative-Character-Chat/agent/narration"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
	splitterx "github.com/tanpawarit/Chative-Character-Chat/agent/splitter"
)

// Publisher delivers a payload to destination after delay.
type Publisher interface {
	Publish(ctx context.Context, destination string, body []byte, delay time.Duration) (string, error)
}

type Config struct {
	Dispatcher dispatcherx.Config
	Narration  narrationx.Config
	CacheTTL   time.Duration
	// ReplyMinBubbles and ReplyMaxBubbles bound the split of one-on-one replies.
	ReplyMinBubbles int
	ReplyMaxBubbles int
}

type Deps struct {
	Scenes    *scenex.Registry
	Invoker   contractx.Invoker
	Store     rolex.Store
	Publisher Publisher
	Rand      contractx.Rand
}

// Orchestrator is the engine instance: it owns the registries, the cache,
// the dispatcher and the narration and group schedulers.
type Orchestrator struct {
	scenes     *scenex.Registry
	roles      *rolex.Registry
	cache      *cachex.Cache
	dispatcher *dispatcherx.Dispatcher
	narrator   *narrationx.Generator
	group      *groupx.Orchestrator
	persona    *PersonaBook
	calendar   *Calendar
	store      rolex.Store
	publisher  Publisher

	replyMin int
	replyMax int
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Invoker == nil {
		return nil, errors.New("backend invoker is required")
	}
	if deps.Scenes == nil {
		scenes, err := scenex.New()
		if err != nil {
			return nil, err
		}
		deps.Scenes = scenes
	}
	if deps.Rand == nil {
		deps.Rand = contractx.DefaultRand
	}
	if cfg.ReplyMinBubbles <= 0 {
		cfg.ReplyMinBubbles = 6
	}
	if cfg.ReplyMaxBubbles <= 0 {
		cfg.ReplyMaxBubbles = 10
	}

	o := &Orchestrator{
		scenes:    deps.Scenes,
		roles:     rolex.NewRegistry(),
		cache:     cachex.New(cachex.WithTTL(cfg.CacheTTL)),
		persona:   &PersonaBook{},
		calendar:  &Calendar{},
		store:     deps.Store,
		publisher: deps.Publisher,
		replyMin:  cfg.ReplyMinBubbles,
		replyMax:  cfg.ReplyMaxBubbles,
	}

	d, err := dispatcherx.New(dispatcherx.Deps{
		Scenes:    o.scenes,
		Roles:     o.roles,
		Cache:     o.cache,
		Invoker:   deps.Invoker,
		Persona:   o.persona,
		Reminders: o.calendar,
		Store:     deps.Store,
		Rand:      deps.Rand,
	}, cfg.Dispatcher)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	o.dispatcher = d

	if o.narrator, err = narrationx.New(deps.Invoker, deps.Rand, cfg.Narration); err != nil {
		return nil, fmt.Errorf("create narrator: %w", err)
	}
	if o.group, err = groupx.New(d, deps.Rand, groupx.WithRoster(o.roles)); err != nil {
		return nil, fmt.Errorf("create group orchestrator: %w", err)
	}
	return o, nil
}

func (o *Orchestrator) Start(ctx context.Context) { o.dispatcher.Start(ctx) }

func (o *Orchestrator) Stop() { o.dispatcher.Stop() }

func (o *Orchestrator) Scenes() *scenex.Registry { return o.scenes }

func (o *Orchestrator) Enqueue(ctx context.Context, req contractx.Request) (*dispatcherx.Future, error) {
	return o.dispatcher.Enqueue(ctx, req)
}

func (o *Orchestrator) Ask(ctx context.Context, req contractx.Request) (string, error) {
	return o.dispatcher.Ask(ctx, req)
}

func (o *Orchestrator) Batch(ctx context.Context, reqs []contractx.Request) []dispatcherx.Result {
	return o.dispatcher.Batch(ctx, reqs)
}

// Reply asks for one reply and splits it into chat bubbles.
func (o *Orchestrator) Reply(ctx context.Context, req contractx.Request) ([]string, error) {
	text, err := o.dispatcher.Ask(ctx, req)
	if err != nil {
		return nil, err
	}
	return splitterx.Split(text, o.replyMin, o.replyMax), nil
}

func (o *Orchestrator) RegisterRole(id string, data rolex.Data) error {
	return o.roles.RegisterRole(id, data)
}

func (o *Orchestrator) GetRole(id string) rolex.Role {
	return o.roles.GetRole(id)
}

// LookupRole reports whether id is registered, without falling back to the default.
func (o *Orchestrator) LookupRole(id string) (rolex.Role, bool) {
	return o.roles.Lookup(id)
}

func (o *Orchestrator) UpdateMemory(id string, rec contractx.MemoryRecord) {
	o.roles.UpdateMemory(id, rec)
}

// SetPersona changes the active user persona and lets every registered
// character remember it.
func (o *Orchestrator) SetPersona(p contractx.Persona) {
	o.persona.Set(p)
	note := fmt.Sprintf("用户资料：%s，性别%s，%s", p.Name, p.Gender.Label(), strings.TrimSpace(p.Background))
	for _, id := range o.roles.IDs() {
		o.roles.Remember(id, contractx.MemoryRecord{Kind: contractx.MemoryPersona, Content: note})
	}
}

// NotifyReminder puts r on the calendar and tells the bound characters about it.
func (o *Orchestrator) NotifyReminder(r contractx.Reminder, roleIDs ...string) {
	o.calendar.Add(r)
	note := fmt.Sprintf("提醒：%s（%s）", r.Content, r.Time.In(contractx.DefaultLocation()).Format("2006-01-02 15:04"))
	for _, id := range roleIDs {
		o.roles.Remember(id, contractx.MemoryRecord{Kind: contractx.MemoryReminder, Content: note})
	}
}

// Narrate counts a turn and, when it fires, returns a narration line.
func (o *Orchestrator) Narrate(ctx context.Context, in narrationx.Input) (string, bool) {
	if !o.narrator.ShouldFire() {
		return "", false
	}
	return o.narrator.Generate(ctx, in), true
}

// Narration generates a narration line without consulting the trigger.
func (o *Orchestrator) Narration(ctx context.Context, in narrationx.Input) string {
	return o.narrator.Generate(ctx, in)
}

func (o *Orchestrator) GroupReplies(ctx context.Context, g groupx.Group, message string, recent []string) ([]groupx.Item, error) {
	return o.group.Replies(ctx, g, message, recent)
}

type groupDelivery struct {
	GroupID string      `json:"group_id"`
	Index   int         `json:"index"`
	Item    groupx.Item `json:"item"`
}

// DeliverGroupReplies publishes every item to destination, each after its
// own delay.
func (o *Orchestrator) DeliverGroupReplies(ctx context.Context, destination, groupID string, items []groupx.Item) error {
	if o.publisher == nil {
		return fmt.Errorf("%w: no publisher configured", contractx.ErrConfig)
	}
	for i, item := range items {
		body, err := json.Marshal(groupDelivery{GroupID: groupID, Index: i, Item: item})
		if err != nil {
			return fmt.Errorf("marshal group item: %w", err)
		}
		id, err := o.publisher.Publish(ctx, destination, body, item.Delay)
		if err != nil {
			return fmt.Errorf("publish group item %d: %w", i, err)
		}
		log.Debug().Str("group_id", groupID).Int("index", i).Str("message_id", id).Dur("delay", item.Delay).Msg("group item published")
	}
	return nil
}

func (o *Orchestrator) Stats() contractx.Stats {
	return o.dispatcher.Stats()
}

// LoadRole restores id from the role store. A missing snapshot is not an error.
func (o *Orchestrator) LoadRole(ctx context.Context, id string) error {
	if o.store == nil {
		return nil
	}
	role, err := o.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, contractx.ErrRoleNotFound) {
			return nil
		}
		return err
	}
	return o.roles.Restore(*role)
}

func (o *Orchestrator) SaveRoles(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	var errs []error
	for _, id := range o.roles.IDs() {
		role, ok := o.roles.Lookup(id)
		if !ok {
			continue
		}
		if err := o.store.Save(ctx, &role); err != nil {
			errs = append(errs, fmt.Errorf("save role %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
