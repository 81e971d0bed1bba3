package backend

import (
	"context"
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	"google.golang.org/genai"
)

var apiVersionSuffix = regexp.MustCompile(`/(v\d+(?:alpha|beta)?\d*)/?$`)

func (i *Invoker) generateContent(
	ctx context.Context,
	s Settings,
	messages []contractx.Message,
	params contractx.GenerationParams,
) (string, error) {
	baseURL, version := splitEndpoint(s.BaseURL)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     strings.TrimSpace(s.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: i.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: version,
		},
	})
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(params.Temperature)),
	}
	if params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(params.MaxTokens)
	}

	res, err := client.Models.GenerateContent(ctx, strings.TrimSpace(s.Model), toContents(messages), config)
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// toContents keeps every message in order. System turns travel as user
// turns because the protocol has no inline system role.
func toContents(messages []contractx.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == contractx.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

// splitEndpoint turns "https://host/v1beta" into ("https://host/", "v1beta").
func splitEndpoint(raw string) (string, string) {
	base := strings.TrimSpace(raw)
	version := ""
	if m := apiVersionSuffix.FindStringSubmatchIndex(base); m != nil {
		version = base[m[2]:m[3]]
		base = base[:m[0]]
	}
	return strings.TrimRight(base, "/") + "/", version
}
