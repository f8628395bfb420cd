// Package anthropic wraps the Anthropic Messages API for single-shot text
// generation.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "claude-haiku-4-5-20251001"
	// DefaultMaxTokens bounds the reply; an address payload is short.
	DefaultMaxTokens = 256
)

// Client defines the Anthropic API operations used here.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is our own request type for CreateMessage.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is a system prompt block, optionally cached.
type SystemBlock struct {
	Text   string
	Cached bool
}

// Message is a single conversational turn.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is our own response type from CreateMessage.
type MessageResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason string
	Usage      TokenUsage
}

// Text concatenates the text blocks of the response.
func (r *MessageResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ContentBlock is a block of content in a response.
type ContentBlock struct {
	Type string
	Text string
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens          int64
	OutputTokens         int64
	CacheReadInputTokens int64
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a client backed by the SDK. Extra request options, such
// as option.WithBaseURL, are passed through.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return fromSDKMessage(msg), nil
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out[i] = sdk.NewAssistantMessage(block)
		} else {
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{Text: b.Text}
		if b.Cached {
			out[i].CacheControl = sdk.NewCacheControlEphemeralParam()
		}
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	blocks := make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		blocks = append(blocks, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Content:    blocks,
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:          msg.Usage.InputTokens,
			OutputTokens:         msg.Usage.OutputTokens,
			CacheReadInputTokens: msg.Usage.CacheReadInputTokens,
		},
	}
}

// Generator adapts a Client to a prompt-in, text-out function. The prompt is
// sent as a single user turn at temperature zero.
type Generator struct {
	Client    Client
	Model     string
	MaxTokens int64
}

// Generate returns the concatenated text of the model's reply.
func (g Generator) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := g.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temp := 0.0

	resp, err := g.Client.CreateMessage(ctx, MessageRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}

	zap.L().Debug("anthropic: generation complete",
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", eris.New("anthropic: empty response")
	}
	return text, nil
}
