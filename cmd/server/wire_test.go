package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/studio-assistant/internal/ai"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
	"github.com/suPer8Hu/studio-assistant/internal/config"
	"go.uber.org/zap"
)

func TestNewRegistryNames(t *testing.T) {
	reg := newRegistry(config.Config{})
	assert.Equal(t, []string{"gemini", "ollama", "openrouter"}, reg.Names())
}

func TestNewProvider_FallsBackWhenUnconfigured(t *testing.T) {
	p := newProvider(context.Background(), config.Config{AIProvider: "gemini"}, zap.NewNop())
	_, err := p.NewSession(context.Background(), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")

	p = newProvider(context.Background(), config.Config{AIProvider: "ollama", OllamaBaseURL: "http://127.0.0.1:0", OllamaModel: "llava"}, zap.NewNop())
	_, ok := p.(*ai.OllamaProvider)
	assert.True(t, ok)
}

func TestOpenStorage_SQLite(t *testing.T) {
	cfg := config.Config{DBDriver: "sqlite", DBDSN: "file:wiretest?mode=memory&cache=shared"}
	st, err := openStorage(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.close()

	require.NoError(t, st.ping(context.Background()))
	require.NoError(t, st.migrate())

	ctx := context.Background()
	require.NoError(t, st.backend.InsertMessage(ctx, &chat.Message{UserID: "u", Text: "hi", Sender: "user"}))
	msgs, err := st.backend.ListMessages(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestNewPersister_Inline(t *testing.T) {
	p, closeFn, err := newPersister(config.Config{PersistMode: "inline"}, nil, zap.NewNop())
	require.NoError(t, err)
	_, ok := p.(*chat.InlinePersister)
	assert.True(t, ok)
	closeFn()
}
