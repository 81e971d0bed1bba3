package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

const NarrationSystem = "你是一个优秀的小说旁白生成器。"

//go:embed template/narration.txt
var narrationRaw string

var narrationTemplate = einoprompt.FromMessages(
	schema.FString,
	schema.SystemMessage(NarrationSystem),
	schema.UserMessage(strings.TrimSpace(narrationRaw)),
)

var weekdays = [...]string{"日", "一", "二", "三", "四", "五", "六"}

type NarrationInput struct {
	Scene  string
	Role   string
	Recent []string
	Now    time.Time
}

// Narration renders the narration prompt as a system and a user message.
func Narration(ctx context.Context, in NarrationInput) ([]contractx.Message, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(contractx.DefaultLocation())

	recent := "（暂无）"
	if len(in.Recent) > 0 {
		recent = strings.Join(in.Recent, "\n")
	}

	msgs, err := narrationTemplate.Format(ctx, map[string]any{
		"scene":  in.Scene,
		"time":   fmt.Sprintf("周%s %s", weekdays[now.Weekday()], now.Format("15:04")),
		"role":   in.Role,
		"recent": recent,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: format narration prompt: %v", contractx.ErrValidation, err)
	}

	out := make([]contractx.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, contractx.Message{Role: contractx.MessageRole(m.Role), Content: m.Content})
	}
	return out, nil
}
