package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llava:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		// no global timeout; streaming is bounded by ctx
		Client: &http.Client{Timeout: 0},
	}
}

type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaStreamResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaProvider) NewSession(_ context.Context, history []Message, systemInstruction string) (Session, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}
	msgs := make([]ollamaMsg, 0, len(history)+1)
	if strings.TrimSpace(systemInstruction) != "" {
		msgs = append(msgs, ollamaMsg{Role: "system", Content: systemInstruction})
	}
	for _, m := range history {
		msgs = append(msgs, ollamaMsg{Role: chatRole(m.Role), Content: m.Content})
	}
	return &ollamaSession{p: p, history: msgs}, nil
}

// chatRole maps history roles onto the OpenAI-style names used by ollama and openrouter.
func chatRole(role string) string {
	if role == RoleModel {
		return "assistant"
	}
	return "user"
}

type ollamaSession struct {
	p *OllamaProvider

	mu      sync.Mutex
	history []ollamaMsg
}

func (s *ollamaSession) StreamMessage(ctx context.Context, parts []Part) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		turn := ollamaMsg{Role: "user"}
		var text []string
		for _, pt := range parts {
			if pt.IsInline() {
				turn.Images = append(turn.Images, pt.Data)
				continue
			}
			text = append(text, pt.Text)
		}
		turn.Content = strings.Join(text, "\n")

		s.mu.Lock()
		msgs := append(append([]ollamaMsg(nil), s.history...), turn)
		s.mu.Unlock()

		b, err := json.Marshal(ollamaChatReq{Model: s.p.Model, Stream: true, Messages: msgs})
		if err != nil {
			errs <- err
			return
		}

		url := fmt.Sprintf("%s/api/chat", strings.TrimRight(s.p.BaseURL, "/"))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.p.Client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- fmt.Errorf("ollama: status %d", resp.StatusCode)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		// Increase scanner buffer for long JSON lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		var reply strings.Builder
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != "" {
				errs <- errors.New(decoded.Error)
				return
			}

			if decoded.Message.Content != "" {
				reply.WriteString(decoded.Message.Content)
				if !emit(ctx, chunks, decoded.Message.Content) {
					errs <- ctx.Err()
					return
				}
			}

			if decoded.Done {
				break
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
			return
		}

		// the model side only remembers completed exchanges
		s.mu.Lock()
		s.history = append(s.history, ollamaMsg{Role: "user", Content: turn.Content, Images: turn.Images},
			ollamaMsg{Role: "assistant", Content: reply.String()})
		s.mu.Unlock()
	}()

	return chunks, errs
}
