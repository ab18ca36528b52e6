package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

// openRouterMsg.Content is either a plain string or a list of content parts.
type openRouterMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openRouterContentPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterChatReq struct {
	Model    string          `json:"model"`
	Messages []openRouterMsg `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openRouterStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{},
	}
}

func (p *OpenRouterProvider) NewSession(_ context.Context, history []Message, systemInstruction string) (Session, error) {
	if p.Client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	if strings.TrimSpace(p.Model) == "" {
		return nil, errors.New("openrouter: model is required")
	}
	msgs := make([]openRouterMsg, 0, len(history)+1)
	if strings.TrimSpace(systemInstruction) != "" {
		msgs = append(msgs, openRouterMsg{Role: "system", Content: systemInstruction})
	}
	for _, m := range history {
		msgs = append(msgs, openRouterMsg{Role: chatRole(m.Role), Content: m.Content})
	}
	return &openRouterSession{p: p, history: msgs}, nil
}

type openRouterSession struct {
	p *OpenRouterProvider

	mu      sync.Mutex
	history []openRouterMsg
}

func openRouterContent(parts []Part) []openRouterContentPart {
	out := make([]openRouterContentPart, 0, len(parts))
	for _, pt := range parts {
		if pt.IsInline() {
			out = append(out, openRouterContentPart{
				Type:     "image_url",
				ImageURL: &openRouterImageURL{URL: "data:" + pt.MIMEType + ";base64," + pt.Data},
			})
			continue
		}
		out = append(out, openRouterContentPart{Type: "text", Text: pt.Text})
	}
	return out
}

// StreamMessage streams assistant content chunks via SSE.
func (s *openRouterSession) StreamMessage(ctx context.Context, parts []Part) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		turn := openRouterMsg{Role: "user", Content: openRouterContent(parts)}

		s.mu.Lock()
		msgs := append(append([]openRouterMsg(nil), s.history...), turn)
		s.mu.Unlock()

		b, err := json.Marshal(openRouterChatReq{Model: strings.TrimSpace(s.p.Model), Stream: true, Messages: msgs})
		if err != nil {
			errs <- err
			return
		}

		url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(s.p.BaseURL, "/"))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.p.APIKey)
		if s.p.SiteURL != "" {
			req.Header.Set("HTTP-Referer", s.p.SiteURL)
		}
		if s.p.AppName != "" {
			req.Header.Set("X-Title", s.p.AppName)
		}

		resp, err := s.p.Client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			errs <- fmt.Errorf("openrouter: %s", msg)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		var reply strings.Builder
	scan:
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break scan
			}
			var decoded openRouterStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- errors.New(decoded.Error.Message)
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			delta := decoded.Choices[0].Delta.Content
			if delta != "" {
				reply.WriteString(delta)
				if !emit(ctx, chunks, delta) {
					errs <- ctx.Err()
					return
				}
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
			return
		}

		s.mu.Lock()
		s.history = append(s.history, turn, openRouterMsg{Role: "assistant", Content: reply.String()})
		s.mu.Unlock()
	}()

	return chunks, errs
}
