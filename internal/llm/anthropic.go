package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"github.com/solagent/solagent/internal/models"
	"github.com/solagent/solagent/internal/tools"
)

const defaultMaxTokens = 4096

// AnthropicClient talks to Anthropic Claude or a compatible provider.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicClient builds a client. Model defaults to claude-sonnet-4-6;
// baseURL is optional and points at compatible gateways.
func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-6"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

func (c *AnthropicClient) Model() string { return c.model }

// Complete sends one conversation snapshot and parses out text plus any
// requested tool calls.
func (c *AnthropicClient) Complete(ctx context.Context, system string, history []models.Message, specs []tools.Spec) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(c.model)),
		MaxTokens: anthropic.F(int64(c.maxTokens)),
		Messages:  anthropic.F(toAnthropicMessages(history)),
	}
	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(system),
		})
	}
	if len(specs) > 0 {
		params.Tools = anthropic.F(toAnthropicTools(specs))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	completion := &Completion{
		StopReason: string(resp.StopReason),
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch b := block.AsUnion().(type) {
		case anthropic.TextBlock:
			completion.Content += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(b.Input, &args); err != nil {
				log.Warn().Err(err).Str("tool", b.Name).Msg("failed to parse tool input")
				args = map[string]any{}
			}
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}
	return completion, nil
}

func toAnthropicTools(specs []tools.Spec) []anthropic.ToolUnionUnionParam {
	params := make([]anthropic.ToolUnionUnionParam, len(specs))
	for i, s := range specs {
		params[i] = anthropic.ToolParam{
			Name:        anthropic.String(s.Name),
			Description: anthropic.String(s.Description),
			InputSchema: anthropic.F[interface{}](s.InputSchema),
		}
	}
	return params
}

// toAnthropicMessages rebuilds provider messages from neutral history.
// Consecutive tool-role entries collapse into one user message, as the
// API requires every tool result to directly follow its assistant turn.
func toAnthropicMessages(history []models.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for i := 0; i < len(history); i++ {
		msg := history[i]
		switch msg.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.ToolUseBlockParam{
					Type:  anthropic.F(anthropic.ToolUseBlockParamTypeToolUse),
					ID:    anthropic.F(tc.ID),
					Name:  anthropic.F(tc.Name),
					Input: anthropic.F[interface{}](tc.Arguments),
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			var results []anthropic.ContentBlockParamUnion
			for ; i < len(history) && history[i].Role == models.RoleTool; i++ {
				t := history[i]
				results = append(results, anthropic.NewToolResultBlock(t.ToolCallID, t.Content, t.IsError))
			}
			i--
			out = append(out, anthropic.NewUserMessage(results...))
		}
	}
	return out
}
