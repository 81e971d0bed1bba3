package prompt

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
)

// HistoryWindow is the number of trailing history turns sent to the model.
const HistoryWindow = 6

const (
	defaultUserBackground = "普通用户"
	defaultPersonality    = "普通"
)

var featureDirectives = []struct {
	flag      scenex.Feature
	directive string
}{
	{scenex.FeatureMemory, "记住之前的对话内容。"},
	{scenex.FeatureEmotion, "表现出适当的情感。"},
	{scenex.FeatureBrief, "保持回复简短。"},
	{scenex.FeatureFormal, "使用正式的语言。"},
}

// Input is everything the assembler needs for one call. Memories are
// rendered only for scenes with FeatureMemory.
type Input struct {
	Scene     scenex.Config
	Role      rolex.Role
	Request   contractx.Request
	History   []contractx.Message
	Persona   *contractx.Persona
	Reminders []contractx.Reminder
	Memories  []contractx.MemoryRecord
	Now       time.Time
}

// Build returns the ordered messages for one model call: the system
// message, the trailing history window, extra context lines, then the
// user message.
func Build(in Input) []contractx.Message {
	history := in.History
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}

	out := make([]contractx.Message, 0, 2+len(history)+len(in.Request.ExtraContext))
	out = append(out, contractx.Message{Role: contractx.RoleSystem, Content: SystemPrompt(in)})
	out = append(out, history...)
	for _, line := range in.Request.ExtraContext {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, contractx.Message{Role: contractx.RoleUser, Content: line})
	}
	out = append(out, contractx.Message{Role: contractx.RoleUser, Content: in.Request.Message})
	return out
}

func SystemPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(renderTemplate(in.Scene.Template, in.Role))

	if p := in.Persona; p != nil && strings.TrimSpace(p.Name) != "" {
		background := strings.TrimSpace(p.Background)
		if background == "" {
			background = defaultUserBackground
		}
		b.WriteString("\n\n用户信息：")
		fmt.Fprintf(&b, "\n- 名字：%s", strings.TrimSpace(p.Name))
		fmt.Fprintf(&b, "\n- 性别：%s", p.Gender.Label())
		fmt.Fprintf(&b, "\n- 背景：%s", background)
		b.WriteString("\n请根据用户的性别、背景和身份做出合适的回应。")
	}

	for _, fd := range featureDirectives {
		if in.Scene.Features.Has(fd.flag) {
			b.WriteString("\n")
			b.WriteString(fd.directive)
		}
	}

	if in.Scene.Features.Has(scenex.FeatureMemory) {
		writeMemories(&b, in.Memories)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(contractx.DefaultLocation())
	b.WriteString("\n当前时间：")
	b.WriteString(now.Format("2006/1/2 15:04:05"))

	if len(in.Reminders) > 0 {
		b.WriteString("\n\n今日提醒事项：")
		for _, r := range in.Reminders {
			fmt.Fprintf(&b, "\n- %s (%s)", r.Content, r.Time.In(contractx.DefaultLocation()).Format("15:04"))
		}
	}
	return b.String()
}

func writeMemories(b *strings.Builder, records []contractx.MemoryRecord) {
	wrote := false
	for _, rec := range records {
		content := strings.TrimSpace(rec.Content)
		if content == "" {
			continue
		}
		if !wrote {
			b.WriteString("\n\n你的记忆：")
			wrote = true
		}
		if rec.Kind == contractx.MemoryConversation {
			content = "最近互动：" + strings.ReplaceAll(content, "\n", " / ")
		}
		b.WriteString("\n- ")
		b.WriteString(content)
	}
}

func renderTemplate(template string, role rolex.Role) string {
	personality := strings.TrimSpace(role.Personality)
	if personality == "" {
		personality = defaultPersonality
	}
	return strings.NewReplacer(
		"{{name}}", role.Name,
		"{{background}}", role.Background,
		"{{personality}}", personality,
	).Replace(template)
}
