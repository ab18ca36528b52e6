package chat

import (
	"context"
	"sync"
	"time"

	"github.com/suPer8Hu/studio-assistant/internal/ai"
)

type fakeBackend struct {
	mu        sync.Mutex
	rows      []Message
	nextID    uint64
	listErr   error
	insertErr error
	lists     int
	// listGate, when set, holds ListMessages until it receives or closes.
	listGate chan struct{}
}

func (b *fakeBackend) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	b.mu.Lock()
	gate := b.listGate
	b.lists++
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	var out []Message
	for _, m := range b.rows {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *fakeBackend) InsertMessage(ctx context.Context, m *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.insertErr != nil {
		return b.insertErr
	}
	b.nextID++
	m.ID = b.nextID
	m.CreatedAt = time.Now()
	b.rows = append(b.rows, *m)
	return nil
}

func (b *fakeBackend) Rows() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.rows...)
}

type fakeProvider struct {
	mu         sync.Mutex
	histories  [][]ai.Message
	instr      string
	sessionErr error
	session    *fakeSession
}

func (p *fakeProvider) NewSession(ctx context.Context, history []ai.Message, systemInstruction string) (ai.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.histories = append(p.histories, append([]ai.Message(nil), history...))
	p.instr = systemInstruction
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	if p.session == nil {
		p.session = &fakeSession{}
	}
	return p.session, nil
}

func (p *fakeProvider) lastHistory() []ai.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.histories) == 0 {
		return nil
	}
	return p.histories[len(p.histories)-1]
}

// fakeSession yields tokens, then err. When hold is set, it waits for hold to
// close after the first token.
type fakeSession struct {
	tokens []string
	err    error
	hold   chan struct{}

	mu    sync.Mutex
	parts [][]ai.Part
}

func (s *fakeSession) StreamMessage(ctx context.Context, parts []ai.Part) (<-chan string, <-chan error) {
	s.mu.Lock()
	s.parts = append(s.parts, parts)
	s.mu.Unlock()

	chunks := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for i, tok := range s.tokens {
			chunks <- tok
			if i == 0 && s.hold != nil {
				<-s.hold
			}
		}
		if s.err != nil {
			errs <- s.err
		}
	}()
	return chunks, errs
}

func (s *fakeSession) lastParts() []ai.Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.parts) == 0 {
		return nil
	}
	return s.parts[len(s.parts)-1]
}
