package narration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	promptx "github.com/tanpawarit/Chative-Character-Chat/agent/prompt"
)

type scriptedRand struct {
	floats []float64
	ints   []int
}

func (s *scriptedRand) Float64() float64 {
	if len(s.floats) == 0 {
		return 1
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

type stubInvoker struct {
	reply     string
	err       error
	configErr error
	messages  []contractx.Message
	params    contractx.GenerationParams
}

func (s *stubInvoker) Call(_ context.Context, msgs []contractx.Message, params contractx.GenerationParams) (string, error) {
	s.messages, s.params = msgs, params
	return s.reply, s.err
}

func (s *stubInvoker) CheckConfig() error { return s.configErr }

func TestShouldFireEveryThirdTurn(t *testing.T) {
	t.Parallel()

	g, err := New(&stubInvoker{}, &scriptedRand{}, Config{Interval: 3, Chance: 0.3})
	require.NoError(t, err)

	var fired []bool
	for range 6 {
		fired = append(fired, g.ShouldFire())
	}
	assert.Equal(t, []bool{false, false, true, false, false, true}, fired)
}

func TestShouldFireResidualChance(t *testing.T) {
	t.Parallel()

	g, err := New(&stubInvoker{}, &scriptedRand{floats: []float64{0.1, 0.9}}, Config{Interval: 3, Chance: 0.3})
	require.NoError(t, err)

	assert.True(t, g.ShouldFire(), "draw below chance fires")
	assert.False(t, g.ShouldFire(), "draw above chance does not fire")
	assert.True(t, g.ShouldFire(), "third turn always fires")
}

func TestGenerateUsesBackend(t *testing.T) {
	t.Parallel()

	inv := &stubInvoker{reply: "  窗外的雨声渐渐大了起来  "}
	g, err := New(inv, &scriptedRand{}, Config{})
	require.NoError(t, err)

	got := g.Generate(context.Background(), Input{Scene: "咖啡馆", Role: "小林", Recent: []string{"小林：下雨了"}})
	assert.Equal(t, "窗外的雨声渐渐大了起来。", got)
	assert.InDelta(t, 0.8, inv.params.Temperature, 1e-9)
	assert.Equal(t, 100, inv.params.MaxTokens)
	require.Len(t, inv.messages, 2)
	assert.Equal(t, promptx.NarrationSystem, inv.messages[0].Content)
	assert.Contains(t, inv.messages[1].Content, "小林：下雨了")
}

func TestGenerateFallbacks(t *testing.T) {
	t.Parallel()

	cases := map[string]*stubInvoker{
		"backend error":  {err: contractx.ErrBackend},
		"empty output":   {reply: "   "},
		"not configured": {configErr: errors.New("missing"), reply: "unused"},
	}
	for name, inv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			g, err := New(inv, &scriptedRand{ints: []int{0}}, Config{})
			require.NoError(t, err)
			assert.Equal(t, "小林停顿了一下，似乎在思考着什么。", g.Generate(context.Background(), Input{Role: "小林"}))
		})
	}
}

func TestPolish(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Polish("  "))
	assert.Equal(t, "她笑了。", Polish("她笑了"))
	assert.Equal(t, "她笑了！", Polish("她笑了！"))
	assert.Equal(t, "她笑了。", Polish("“她笑了。”"))
	assert.False(t, strings.HasSuffix(Polish("一切都安静了……"), "……"))
}
