package group

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
)

// 2024-05-01 12:00 in Shanghai.
var noon = time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC)

type scriptedRand struct {
	floats []float64
	ints   []int
}

func (s *scriptedRand) Float64() float64 {
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *scriptedRand) IntN(n int) int {
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	return v % n
}

type fakeAsker struct {
	mu    sync.Mutex
	reqs  []contractx.Request
	reply func(req contractx.Request, n int) (string, error)
}

func (f *fakeAsker) Ask(_ context.Context, req contractx.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	n := 0
	for _, r := range f.reqs {
		if r.RoleID == req.RoleID {
			n++
		}
	}
	f.mu.Unlock()

	if f.reply == nil {
		return fmt.Sprintf("%s-%d", req.RoleID, n), nil
	}
	return f.reply(req, n)
}

func newOrchestrator(t *testing.T, asker Asker, rng contractx.Rand, opts ...Option) *Orchestrator {
	t.Helper()

	o, err := New(asker, rng, opts...)
	require.NoError(t, err)
	o.now = func() time.Time { return noon }
	return o
}

func TestRepliesNobodyAwake(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{}
	o := newOrchestrator(t, asker, &scriptedRand{})
	g := Group{ID: "g1", Members: []Member{
		{RoleID: "a", Name: "甲", Schedule: Schedule{Wake: 22, Sleep: 6}},
		{RoleID: "b", Name: "乙", Schedule: Schedule{Wake: 7, Sleep: 11}},
	}}

	items, err := o.Replies(context.Background(), g, "有人吗", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].System)
	assert.Equal(t, NobodyOnline, items[0].Content)
	assert.Empty(t, asker.reqs)
}

func TestRepliesMentionedMemberResponds(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{}
	rng := &scriptedRand{
		floats: []float64{0.9, 0.5, 0.25},
		ints:   []int{0, 0},
	}
	o := newOrchestrator(t, asker, rng)
	g := Group{ID: "g1", Members: []Member{
		{RoleID: "a", Name: "小林", Personality: PersonalityNormal},
		{RoleID: "b", Name: "小王", Personality: PersonalityQuiet},
	}}

	items, err := o.Replies(context.Background(), g, "@小林 在吗", []string{"小王：早"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].RoleID)
	assert.Equal(t, "a-1", items[0].Content)
	assert.Equal(t, baseDelay+time.Duration(0.25*float64(jitterDelay)), items[0].Delay)

	require.Len(t, asker.reqs, 1)
	req := asker.reqs[0]
	assert.Equal(t, scenex.GroupChat, req.Scene)
	assert.Equal(t, []string{"小王：早"}, req.ExtraContext)
	assert.False(t, req.SkipCache)
}

func TestRepliesPicksSomeoneWhenNobodySelected(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{}
	rng := &scriptedRand{
		floats: []float64{0.99, 0.99, 0.99},
		ints:   []int{2, 0, 0},
	}
	o := newOrchestrator(t, asker, rng)
	g := Group{Members: []Member{
		{RoleID: "a", Name: "甲"},
		{RoleID: "b", Name: "乙"},
		{RoleID: "c", Name: "丙"},
	}}

	items, err := o.Replies(context.Background(), g, "随便聊聊", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].RoleID)
}

func TestRepliesFollowUpCallsSkipCache(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{}
	rng := &scriptedRand{
		floats: []float64{0.1},
		ints:   []int{2},
	}
	o := newOrchestrator(t, asker, rng)
	g := Group{Members: []Member{{RoleID: "a", Name: "甲", Personality: PersonalityActive}}}

	items, err := o.Replies(context.Background(), g, "今天吃什么", []string{"乙：饿了"})
	require.NoError(t, err)
	require.Len(t, asker.reqs, 3)
	assert.False(t, asker.reqs[0].SkipCache)
	assert.True(t, asker.reqs[1].SkipCache)
	assert.True(t, asker.reqs[2].SkipCache)
	assert.Equal(t, []string{"乙：饿了", "你刚才说：a-1", "你刚才说：a-2"}, asker.reqs[2].ExtraContext)

	var contents []string
	for _, it := range items {
		contents = append(contents, it.Content)
	}
	assert.Equal(t, []string{"a-1", "a-2", "a-3"}, contents)
}

func TestRepliesPreservesPerMemberOrder(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{reply: func(req contractx.Request, n int) (string, error) {
		long := strings.Repeat("话", 28)
		return fmt.Sprintf("%s-%d-a%s。%s-%d-b%s。", req.RoleID, n, long, req.RoleID, n, long), nil
	}}
	o := newOrchestrator(t, asker, rand.New(rand.NewPCG(7, 11)))

	var members []Member
	for i := range 5 {
		members = append(members, Member{RoleID: fmt.Sprintf("m%d", i), Name: fmt.Sprintf("成员%d", i), Personality: PersonalityActive})
	}

	for range 20 {
		items, err := o.Replies(context.Background(), Group{Members: members}, "大家好", nil)
		require.NoError(t, err)
		require.NotEmpty(t, items)

		seen := map[string][]string{}
		for i, it := range items {
			seen[it.RoleID] = append(seen[it.RoleID], it.Content)
			lower := baseDelay + time.Duration(i)*positionDelay
			assert.GreaterOrEqual(t, it.Delay, lower)
			assert.Less(t, it.Delay, lower+jitterDelay)
		}
		for roleID, contents := range seen {
			for i := 1; i < len(contents); i++ {
				assert.Less(t, bubbleIndex(contents[i-1]), bubbleIndex(contents[i]),
					"bubbles of %s out of order: %v", roleID, contents)
			}
		}
	}
}

// bubbleIndex orders a member's bubbles by call number, then by sentence.
func bubbleIndex(content string) int {
	parts := strings.SplitN(content, "-", 3)
	call, _ := strconv.Atoi(parts[1])
	if strings.HasPrefix(parts[2], "b") {
		return call*2 + 1
	}
	return call * 2
}

func TestRepliesRegistersUnknownResponders(t *testing.T) {
	t.Parallel()

	roles := rolex.NewRegistry()
	require.NoError(t, roles.RegisterRole("b", rolex.Data{Name: "王老师", Background: "班主任"}))

	asker := &fakeAsker{}
	o := newOrchestrator(t, asker, &scriptedRand{}, WithRoster(roles))
	g := Group{Members: []Member{
		{RoleID: "a", Name: "甲", Personality: PersonalityQuiet},
		{RoleID: "b", Name: "乙", Personality: PersonalityActive},
	}}
	_, err := o.Replies(context.Background(), g, "@甲 @乙 在吗", nil)
	require.NoError(t, err)

	a, ok := roles.Lookup("a")
	require.True(t, ok, "responder a was not registered")
	assert.Equal(t, "甲", a.Name)
	assert.Equal(t, "安静", a.Personality)

	b := roles.GetRole("b")
	assert.Equal(t, "王老师", b.Name, "registered role must keep its identity")
	assert.Equal(t, "班主任", b.Background)
}

func TestRepliesRosterErrorStopsBeforeAsking(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{}
	o := newOrchestrator(t, asker, &scriptedRand{}, WithRoster(rolex.NewRegistry()))
	_, err := o.Replies(context.Background(), Group{Members: []Member{{RoleID: " ", Name: "甲"}}}, "hi", nil)
	require.ErrorIs(t, err, contractx.ErrValidation)
	assert.Empty(t, asker.reqs)
}

func TestPersonalityLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "活跃", PersonalityActive.Label())
	assert.Equal(t, "安静", PersonalityQuiet.Label())
	assert.Equal(t, "普通", PersonalityNormal.Label())
	assert.Equal(t, "普通", Personality("").Label())
}

func TestRepliesPropagatesAskError(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{reply: func(contractx.Request, int) (string, error) {
		return "", contractx.ErrDispatcherStopped
	}}
	o := newOrchestrator(t, asker, &scriptedRand{})
	_, err := o.Replies(context.Background(), Group{Members: []Member{{RoleID: "a", Name: "甲"}}}, "hi", nil)
	require.True(t, errors.Is(err, contractx.ErrDispatcherStopped))
}

func TestChance(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, chance(Member{Name: "甲"}, "hi"), 1e-9)
	assert.InDelta(t, 0.7, chance(Member{Name: "甲", Personality: PersonalityActive}, "hi"), 1e-9)
	assert.InDelta(t, 0.3, chance(Member{Name: "甲", Personality: PersonalityQuiet}, "hi"), 1e-9)
	assert.InDelta(t, 0.95, chance(Member{Name: "甲", Personality: PersonalityQuiet}, "@甲 hi"), 1e-9)
}

func TestScheduleAwake(t *testing.T) {
	t.Parallel()

	at := func(hour int) time.Time {
		return time.Date(2024, 5, 1, hour, 0, 0, 0, contractx.DefaultLocation())
	}
	day := Schedule{Wake: 7, Sleep: 23}
	assert.True(t, day.Awake(at(7)))
	assert.True(t, day.Awake(at(22)))
	assert.False(t, day.Awake(at(23)))
	assert.False(t, day.Awake(at(3)))

	night := Schedule{Wake: 20, Sleep: 4}
	assert.True(t, night.Awake(at(2)))
	assert.False(t, night.Awake(at(12)))

	assert.True(t, Schedule{}.Awake(at(3)))
}

func TestParseMember(t *testing.T) {
	t.Parallel()

	m, err := ParseMember("r1:小林:active:8-23")
	require.NoError(t, err)
	assert.Equal(t, Member{RoleID: "r1", Name: "小林", Personality: PersonalityActive, Schedule: Schedule{Wake: 8, Sleep: 23}}, m)

	m, err = ParseMember("r2:小王")
	require.NoError(t, err)
	assert.Equal(t, PersonalityNormal, m.Personality)

	for _, bad := range []string{"r1", "r1:小林:grumpy", "r1:小林:quiet:8", "r1:小林:quiet:8-99"} {
		_, err := ParseMember(bad)
		assert.ErrorIs(t, err, contractx.ErrValidation, bad)
	}
}
