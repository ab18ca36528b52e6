package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider opens genai chat sessions against the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) NewSession(ctx context.Context, history []Message, systemInstruction string) (Session, error) {
	var cfg *genai.GenerateContentConfig
	if systemInstruction != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		}
	}
	chat, err := p.client.Chats.Create(ctx, p.model, cfg, geminiHistory(history))
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat: %w", err)
	}
	return &geminiSession{chat: chat}, nil
}

func geminiHistory(history []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func geminiParts(parts []Part) ([]genai.Part, error) {
	out := make([]genai.Part, 0, len(parts))
	for i, pt := range parts {
		if !pt.IsInline() {
			out = append(out, *genai.NewPartFromText(pt.Text))
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(pt.Data)
		if err != nil {
			return nil, fmt.Errorf("gemini: decode part %d: %w", i, err)
		}
		out = append(out, *genai.NewPartFromBytes(raw, pt.MIMEType))
	}
	return out, nil
}

type geminiSession struct {
	chat *genai.Chat
}

func (s *geminiSession) StreamMessage(ctx context.Context, parts []Part) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		gparts, err := geminiParts(parts)
		if err != nil {
			errs <- err
			return
		}
		for resp, err := range s.chat.SendMessageStream(ctx, gparts...) {
			if err != nil {
				errs <- err
				return
			}
			if text := resp.Text(); text != "" {
				if !emit(ctx, chunks, text) {
					errs <- ctx.Err()
					return
				}
			}
		}
	}()

	return chunks, errs
}
