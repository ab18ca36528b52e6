package chat

import (
	"context"
	"errors"
	"sync"
)

// Hub keeps one Conversation per signed-in identity.
type Hub struct {
	newConversation func() *Conversation

	mu    sync.Mutex
	convs map[string]*Conversation
}

func NewHub(newConversation func() *Conversation) *Hub {
	return &Hub{newConversation: newConversation, convs: make(map[string]*Conversation)}
}

// Open returns the conversation of identity, bootstrapping it on first use and
// retrying a bootstrap that previously failed or left no session.
func (h *Hub) Open(ctx context.Context, identity string) (*Conversation, error) {
	h.mu.Lock()
	c, ok := h.convs[identity]
	if !ok {
		c = h.newConversation()
		h.convs[identity] = c
	}
	h.mu.Unlock()

	if ok && c.Fatal() == nil && (c.HasSession() || c.Loading()) {
		return c, nil
	}
	err := c.SetIdentity(ctx, identity)
	switch {
	case err == nil, errors.Is(err, ErrSessionUnavailable), errors.Is(err, ErrStaleBootstrap):
		return c, nil
	}
	return c, err
}

func (h *Hub) Get(identity string) (*Conversation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.convs[identity]
	return c, ok
}

// Close signs identity out: its conversation drops history and session, and
// an in-flight bootstrap for it is discarded.
func (h *Hub) Close(ctx context.Context, identity string) {
	h.mu.Lock()
	c, ok := h.convs[identity]
	delete(h.convs, identity)
	h.mu.Unlock()
	if ok {
		_ = c.SetIdentity(ctx, "")
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.convs)
}
