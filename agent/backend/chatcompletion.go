package backend

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

func (i *Invoker) chatCompletion(
	ctx context.Context,
	s Settings,
	messages []contractx.Message,
	params contractx.GenerationParams,
) (string, error) {
	client := openai.NewClient(
		option.WithAPIKey(strings.TrimSpace(s.APIKey)),
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")+"/"),
		option.WithHTTPClient(i.httpClient),
		option.WithMaxRetries(0),
	)

	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(strings.TrimSpace(s.Model)),
		Messages: toChatMessages(messages),
	}
	req.Temperature = openai.Float(params.Temperature)
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func toChatMessages(messages []contractx.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case contractx.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case contractx.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
