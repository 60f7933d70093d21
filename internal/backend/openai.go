package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"llm-ensemble/internal/registry"
)

const defaultChatTemperature = 0.2

// OpenAIProvider calls the Chat Completions API. The descriptor endpoint, when set, replaces the base URL,
// which also makes any OpenAI-compatible server usable.
type OpenAIProvider struct {
	httpClient *http.Client
}

func NewOpenAIProvider(client *http.Client) *OpenAIProvider {
	return &OpenAIProvider{httpClient: client}
}

func (p *OpenAIProvider) Call(ctx context.Context, d registry.Descriptor, query string) (Reply, error) {
	// Retries are left to the caller of the ensemble.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if d.Credential != "" {
		opts = append(opts, option.WithAPIKey(d.Credential))
	}
	if d.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(d.Endpoint))
	}
	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	}
	cli := openai.NewClient(opts...)

	resp, err := cli.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(d.Model),
		Messages:    buildMessages(query),
		Temperature: openai.Float(defaultChatTemperature),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("openai: no choices returned")
	}
	return Reply{
		Text:   resp.Choices[0].Message.Content,
		Tokens: int(resp.Usage.TotalTokens),
	}, nil
}

func buildMessages(query string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(query),
				},
			},
		},
	}
}
