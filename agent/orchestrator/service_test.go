package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	dispatcherx "github.com/tanpawarit/Chative-Character-Chat/agent/dispatcher"
	groupx "github.com/tanpawarit/Chative-Character-Chat/agent/group"
	narrationx "github.com/tanpawarit/Chative-Character-Chat/agent/narration"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
)

type fakeInvoker struct {
	mu      sync.Mutex
	systems []string
	reply   string
}

func (f *fakeInvoker) Call(_ context.Context, msgs []contractx.Message, _ contractx.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systems = append(f.systems, msgs[0].Content)
	return f.reply, nil
}

func (f *fakeInvoker) CheckConfig() error { return nil }

func (f *fakeInvoker) lastSystem() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.systems[len(f.systems)-1]
}

type published struct {
	destination string
	body        []byte
	delay       time.Duration
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, destination string, body []byte, delay time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, published{destination: destination, body: body, delay: delay})
	return "msg", nil
}

type memoryStore struct {
	mu    sync.Mutex
	roles map[string]rolex.Role
}

func newMemoryStore() *memoryStore {
	return &memoryStore{roles: map[string]rolex.Role{}}
}

func (m *memoryStore) Load(_ context.Context, id string) (*rolex.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, contractx.ErrRoleNotFound
	}
	return &r, nil
}

func (m *memoryStore) Save(_ context.Context, r *rolex.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = *r
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, id)
	return nil
}

type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }
func (zeroRand) IntN(int) int     { return 0 }

func newTestOrchestrator(t *testing.T, inv *fakeInvoker, deps Deps) *Orchestrator {
	t.Helper()

	deps.Invoker = inv
	deps.Rand = zeroRand{}
	o, err := New(deps, Config{Dispatcher: dispatcherx.Config{MaxConcurrent: 2, MaxRetries: 1}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return o
}

func TestNewRequiresInvoker(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}, Config{}); err == nil {
		t.Fatal("New() error = nil, want missing invoker")
	}
}

func TestReplySplitsAndUsesPersonaAndReminders(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("嗯", 28)
	inv := &fakeInvoker{reply: long + "。" + long + "！"}
	o := newTestOrchestrator(t, inv, Deps{})

	if err := o.RegisterRole("r1", rolex.Data{Name: "小林", Background: "大学生"}); err != nil {
		t.Fatalf("RegisterRole() error = %v", err)
	}
	o.SetPersona(contractx.Persona{Name: "阿明", Gender: contractx.GenderFemale, Background: "设计师"})
	o.NotifyReminder(contractx.Reminder{Content: "交作业", Time: time.Now()}, "r1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bubbles, err := o.Reply(ctx, contractx.Request{Message: "今天怎么样", Scene: scenex.PrivateChat, RoleID: "r1"})
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if len(bubbles) != 2 {
		t.Fatalf("Reply() = %v, want 2 bubbles", bubbles)
	}

	system := inv.lastSystem()
	for _, want := range []string{"你是小林，大学生。", "- 名字：阿明", "- 性别：女", "- 背景：设计师", "今日提醒事项：", "- 交作业"} {
		if !strings.Contains(system, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, system)
		}
	}

	role := o.GetRole("r1")
	var kinds []contractx.MemoryKind
	for _, m := range role.ShortTerm {
		kinds = append(kinds, m.Kind)
	}
	want := []contractx.MemoryKind{contractx.MemoryPersona, contractx.MemoryReminder, contractx.MemoryConversation}
	if len(kinds) != len(want) {
		t.Fatalf("memory kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("memory kinds = %v, want %v", kinds, want)
		}
	}

	stats := o.Stats()
	if stats.RoleCount != 1 || stats.CacheSize != 1 || stats.MemorySize != 1 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestLaterReminderReachesPromptThroughMemory(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{reply: "好的"}
	o := newTestOrchestrator(t, inv, Deps{})
	if err := o.RegisterRole("r1", rolex.Data{Name: "小林"}); err != nil {
		t.Fatalf("RegisterRole() error = %v", err)
	}
	o.NotifyReminder(contractx.Reminder{Content: "体检", Time: time.Now().AddDate(0, 0, 7)}, "r1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.Ask(ctx, contractx.Request{Message: "下周有什么安排", Scene: scenex.PrivateChat, RoleID: "r1"}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	system := inv.lastSystem()
	if strings.Contains(system, "今日提醒事项") {
		t.Fatalf("reminder a week out listed as today:\n%s", system)
	}
	if !strings.Contains(system, "你的记忆：") || !strings.Contains(system, "- 提醒：体检（") {
		t.Fatalf("system prompt missing remembered reminder:\n%s", system)
	}

	if _, err := o.Ask(ctx, contractx.Request{Message: "还记得吗", Scene: scenex.PrivateChat, RoleID: "r1"}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if system := inv.lastSystem(); !strings.Contains(system, "- 最近互动：用户：下周有什么安排 / 回复：好的") {
		t.Fatalf("system prompt missing conversation memory:\n%s", system)
	}
}

func TestCalendarOnlyServesToday(t *testing.T) {
	t.Parallel()

	loc := contractx.DefaultLocation()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, loc)
	c := &Calendar{}
	c.Add(contractx.Reminder{Content: "late", Time: time.Date(2024, 5, 1, 20, 0, 0, 0, loc)})
	c.Add(contractx.Reminder{Content: "tomorrow", Time: time.Date(2024, 5, 2, 9, 0, 0, 0, loc)})
	c.Add(contractx.Reminder{Content: "early", Time: time.Date(2024, 5, 1, 8, 0, 0, 0, loc)})

	got, err := c.Reminders(context.Background(), now)
	if err != nil {
		t.Fatalf("Reminders() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "early" || got[1].Content != "late" {
		t.Fatalf("Reminders() = %+v", got)
	}
}

func TestNarrateFiresOnThirdTurn(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{reply: "雨停了"}
	o, err := New(Deps{Invoker: inv, Rand: oneRand{}}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(o.Stop)

	in := narrationx.Input{Scene: "街角", Role: "小林"}
	for i := range 2 {
		if _, ok := o.Narrate(context.Background(), in); ok {
			t.Fatalf("Narrate() fired on turn %d", i+1)
		}
	}
	got, ok := o.Narrate(context.Background(), in)
	if !ok || got != "雨停了。" {
		t.Fatalf("Narrate() = %q, %v", got, ok)
	}
}

func TestNarrationIgnoresTrigger(t *testing.T) {
	t.Parallel()

	o, err := New(Deps{Invoker: &fakeInvoker{reply: "“风起了”"}, Rand: oneRand{}}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(o.Stop)

	if got := o.Narration(context.Background(), narrationx.Input{Role: "小林"}); got != "风起了。" {
		t.Fatalf("Narration() = %q", got)
	}
}

type oneRand struct{}

func (oneRand) Float64() float64 { return 0.999 }
func (oneRand) IntN(int) int     { return 0 }

func TestGroupRepliesAndDelivery(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	inv := &fakeInvoker{reply: "哈哈好的"}
	o := newTestOrchestrator(t, inv, Deps{Publisher: pub})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g := groupx.Group{ID: "g1", Members: []groupx.Member{{RoleID: "a", Name: "甲"}}}
	items, err := o.GroupReplies(ctx, g, "周末去哪玩", nil)
	if err != nil {
		t.Fatalf("GroupReplies() error = %v", err)
	}
	if len(items) != 1 || items[0].Content != "哈哈好的" {
		t.Fatalf("GroupReplies() = %+v", items)
	}
	if system := inv.lastSystem(); !strings.HasPrefix(system, "你是群成员甲，性格：普通。") {
		t.Fatalf("group system prompt = %q, want member identity", system)
	}

	if err := o.DeliverGroupReplies(ctx, "https://app.example.com/hook", "g1", items); err != nil {
		t.Fatalf("DeliverGroupReplies() error = %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("published %d items, want 1", len(pub.sent))
	}
	if pub.sent[0].delay != items[0].Delay {
		t.Fatalf("delay = %v, want %v", pub.sent[0].delay, items[0].Delay)
	}
	var payload groupDelivery
	if err := json.Unmarshal(pub.sent[0].body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.GroupID != "g1" || payload.Item.RoleID != "a" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestBatchKeepsInputOrder(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, &fakeInvoker{reply: "嗯"}, Deps{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := o.Batch(ctx, []contractx.Request{
		{Message: "一", RoleID: "a"},
		{Message: ""},
		{Message: "三", RoleID: "b", Scene: scenex.Forum},
	})
	if len(results) != 3 {
		t.Fatalf("Batch() returned %d results", len(results))
	}
	if results[0].Err != nil || results[0].Reply != "嗯" {
		t.Fatalf("results[0] = %+v", results[0])
	}
	if !errors.Is(results[1].Err, contractx.ErrValidation) {
		t.Fatalf("results[1].Err = %v, want ErrValidation", results[1].Err)
	}
	if results[2].Err != nil || results[2].Reply != "嗯" {
		t.Fatalf("results[2] = %+v", results[2])
	}
}

func TestDeliverGroupRepliesWithoutPublisher(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, &fakeInvoker{reply: "x"}, Deps{})
	err := o.DeliverGroupReplies(context.Background(), "https://x", "g", []groupx.Item{{Content: "a"}})
	if !errors.Is(err, contractx.ErrConfig) {
		t.Fatalf("DeliverGroupReplies() error = %v, want ErrConfig", err)
	}
}

func TestSaveAndLoadRoles(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	first := newTestOrchestrator(t, &fakeInvoker{reply: "x"}, Deps{Store: store})
	if err := first.RegisterRole("r1", rolex.Data{Name: "小林"}); err != nil {
		t.Fatalf("RegisterRole() error = %v", err)
	}
	first.UpdateMemory("r1", contractx.MemoryRecord{Content: "喜欢猫"})
	if err := first.SaveRoles(context.Background()); err != nil {
		t.Fatalf("SaveRoles() error = %v", err)
	}

	second := newTestOrchestrator(t, &fakeInvoker{reply: "x"}, Deps{Store: store})
	if err := second.LoadRole(context.Background(), "r1"); err != nil {
		t.Fatalf("LoadRole() error = %v", err)
	}
	if err := second.LoadRole(context.Background(), "missing"); err != nil {
		t.Fatalf("LoadRole(missing) error = %v", err)
	}
	if _, ok := second.LookupRole("missing"); ok {
		t.Fatal("LookupRole(missing) reported a role")
	}
	got, ok := second.LookupRole("r1")
	if !ok {
		t.Fatal("LookupRole(r1) not found after LoadRole")
	}
	if got.Name != "小林" || len(got.ShortTerm) != 1 {
		t.Fatalf("loaded role = %+v", got)
	}
}
