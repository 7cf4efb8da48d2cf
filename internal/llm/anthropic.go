package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds a provider for the given model. Extra request options
// are appended after the API key, so tests can point the client elsewhere.
func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(all...),
		model:  model,
	}
}

func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	blocks, err := anthropicBlocks(req.Parts)
	if err != nil {
		return "", err
	}
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: req.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (a *Anthropic) Stream(ctx context.Context, req ChatRequest, onDelta func(string) error) error {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(block))
	}

	stream := a.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: req.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages:  msgs,
	})
	defer stream.Close()

	for stream.Next() {
		ev, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		if err := onDelta(delta.Text); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}

func anthropicBlocks(parts []Part) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Kind == PartText:
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case p.MediaType == "application/pdf":
			blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: p.Data}))
		case strings.HasPrefix(p.MediaType, "image/"):
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.MediaType, p.Data))
		default:
			return nil, fmt.Errorf("unsupported document type %q", p.MediaType)
		}
	}
	return blocks, nil
}

var _ Provider = (*Anthropic)(nil)
