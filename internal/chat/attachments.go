package chat

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/suPer8Hu/studio-assistant/internal/ai"
)

// Attachment is a selected file kept as a data-URI preview until the next send.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Preview  string `json:"preview"`
}

// Base64 returns the payload of the preview with the data-URI prefix stripped.
func (a Attachment) Base64() (string, error) {
	i := strings.IndexByte(a.Preview, ',')
	if !strings.HasPrefix(a.Preview, "data:") || i < 0 {
		return "", fmt.Errorf("attachment %q: malformed data uri", a.Name)
	}
	return a.Preview[i+1:], nil
}

// Attachments is the pending set composing the next outgoing turn.
type Attachments struct {
	limit int64

	mu    sync.Mutex
	items []Attachment
}

func NewAttachments(limit int64) *Attachments {
	return &Attachments{limit: limit}
}

// Add validates and encodes one file. Oversized files never enter the set.
func (p *Attachments) Add(name, mimeType string, data []byte) (Attachment, error) {
	if p.limit > 0 && int64(len(data)) > p.limit {
		return Attachment{}, fmt.Errorf("file %q is too large, please select images smaller than %d MB: %w",
			name, p.limit/(1024*1024), ErrAttachmentTooLarge)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	a := Attachment{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Preview:  "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
	p.mu.Lock()
	p.items = append(p.items, a)
	p.mu.Unlock()
	return a, nil
}

func (p *Attachments) Remove(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.items) {
		return fmt.Errorf("index %d: %w", index, ErrAttachmentNotFound)
	}
	p.items = append(p.items[:index:index], p.items[index+1:]...)
	return nil
}

func (p *Attachments) List() []Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Attachment(nil), p.items...)
}

func (p *Attachments) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Take snapshots and clears the pending set.
func (p *Attachments) Take() []Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.items
	p.items = nil
	return out
}

func (p *Attachments) Clear() {
	p.mu.Lock()
	p.items = nil
	p.mu.Unlock()
}

// BuildParts lays out an outgoing turn: every attachment in selection order,
// then the text when present.
func BuildParts(text string, atts []Attachment) ([]ai.Part, error) {
	parts := make([]ai.Part, 0, len(atts)+1)
	for _, a := range atts {
		data, err := a.Base64()
		if err != nil {
			return nil, err
		}
		parts = append(parts, ai.InlinePart(a.MIMEType, data))
	}
	if text != "" {
		parts = append(parts, ai.TextPart(text))
	}
	return parts, nil
}

func previews(atts []Attachment) []string {
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		out = append(out, a.Preview)
	}
	return out
}
