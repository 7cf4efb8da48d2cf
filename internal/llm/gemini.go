package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini calls the Google generative language API.
type Gemini struct {
	client    *genai.Client
	modelName string
}

func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("init gemini: %w", err)
	}
	return &Gemini{client: cl, modelName: modelName}, nil
}

func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Gemini) model(system string, maxTokens int64) *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.modelName)
	if system != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	if maxTokens > 0 {
		m.SetMaxOutputTokens(int32(maxTokens))
	}
	return m
}

func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	parts, err := geminiParts(req.Parts)
	if err != nil {
		return "", err
	}
	resp, err := g.model(req.System, req.MaxTokens).GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return geminiText(resp), nil
}

func (g *Gemini) Stream(ctx context.Context, req ChatRequest, onDelta func(string) error) error {
	if len(req.Messages) == 0 {
		return ErrEmptyConversation
	}
	cs := g.model(req.System, req.MaxTokens).StartChat()
	history := req.Messages[:len(req.Messages)-1]
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	last := req.Messages[len(req.Messages)-1]
	iter := cs.SendMessageStream(ctx, genai.Text(last.Content))
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if text := geminiText(resp); text != "" {
			if err := onDelta(text); err != nil {
				return err
			}
		}
	}
}

func geminiParts(parts []Part) ([]genai.Part, error) {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.Kind == PartText {
			out = append(out, genai.Text(p.Text))
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, genai.Blob{MIMEType: p.MediaType, Data: data})
	}
	return out, nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

var _ Provider = (*Gemini)(nil)
