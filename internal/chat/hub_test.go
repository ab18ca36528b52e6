package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_OpenReusesAndCloseClears(t *testing.T) {
	be := &fakeBackend{}
	hub := NewHub(func() *Conversation {
		return NewConversation(ConversationConfig{Bootstrapper: NewBootstrapper(be, &fakeProvider{}, "", nil)})
	})

	c1, err := hub.Open(context.Background(), "u1")
	require.NoError(t, err)
	c2, err := hub.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, be.lists, "bootstrapped once")
	assert.Equal(t, 1, hub.Len())

	hub.Close(context.Background(), "u1")
	_, ok := hub.Get("u1")
	assert.False(t, ok)
	assert.Zero(t, c1.Store().Len())
	assert.False(t, c1.HasSession())
	assert.Empty(t, c1.Identity())
}

func TestHub_RetriesAfterNetworkFailure(t *testing.T) {
	be := &fakeBackend{listErr: transportErr()}
	hub := NewHub(func() *Conversation {
		return NewConversation(ConversationConfig{Bootstrapper: NewBootstrapper(be, &fakeProvider{}, "", nil)})
	})

	_, err := hub.Open(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNetworkUnavailable)

	be.mu.Lock()
	be.listErr = nil
	be.mu.Unlock()

	c, err := hub.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, c.HasSession())
	assert.Equal(t, 1, c.Store().Len())
}

func TestSuggestionsFor(t *testing.T) {
	assert.Len(t, SuggestionsFor(0), 3)
	assert.Len(t, SuggestionsFor(1), 3)
	assert.Empty(t, SuggestionsFor(2))
}

func TestSystemInstruction_NamesContact(t *testing.T) {
	s := SystemInstruction(Contact{Name: "Ana", Phone: "+1 555", Email: "ana@example.com"})
	assert.Contains(t, s, "Ana: Phone (+1 555) and Email (ana@example.com)")
	assert.Contains(t, s, "Do not provide design advice")
}
