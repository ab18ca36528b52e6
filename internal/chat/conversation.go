package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/suPer8Hu/studio-assistant/internal/ai"
	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"go.uber.org/zap"
)

// Conversation is the chat state of one identity: rendered turns, the bound
// inference session, pending attachments and the busy flag.
type Conversation struct {
	store   *Store
	pending *Attachments
	boot    *Bootstrapper
	rec     *Reconciler
	locker  Locker
	log     *zap.Logger

	mu       sync.Mutex
	identity string
	session  ai.Session
	gen      uint64
	loading  bool
	fatal    error
}

type ConversationConfig struct {
	Bootstrapper   *Bootstrapper
	Persister      Persister
	Locker         Locker
	AttachmentSize int64
	Log            *zap.Logger
}

func NewConversation(cfg ConversationConfig) *Conversation {
	log := logx.OrNop(cfg.Log)
	locker := cfg.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	store := NewStore()
	return &Conversation{
		store:   store,
		pending: NewAttachments(cfg.AttachmentSize),
		boot:    cfg.Bootstrapper,
		rec:     NewReconciler(store, cfg.Persister, log),
		locker:  locker,
		log:     log,
	}
}

func (c *Conversation) Store() *Store             { return c.store }
func (c *Conversation) Attachments() *Attachments { return c.pending }
func (c *Conversation) OpenTurnID() string        { return c.rec.OpenTurnID() }

func (c *Conversation) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Fatal is ErrNetworkUnavailable or ErrSchemaMissing (wrapped) after a failed bootstrap.
func (c *Conversation) Fatal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

func (c *Conversation) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// SetIdentity rebinds the conversation and bootstraps it. Each call supersedes
// the previous ones; a bootstrap that resolves after a newer call started is
// discarded and reports ErrStaleBootstrap.
func (c *Conversation) SetIdentity(ctx context.Context, identity string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if identity != c.identity {
		c.pending.Clear()
	}
	c.identity = identity
	c.session = nil
	c.fatal = nil
	c.loading = identity != ""
	c.mu.Unlock()

	res, err := c.boot.Bootstrap(ctx, identity)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.log.Debug("discarding stale bootstrap", zap.String("user_id", identity), zap.Uint64("generation", gen))
		return ErrStaleBootstrap
	}
	c.loading = false

	switch {
	case errors.Is(err, ErrNetworkUnavailable), errors.Is(err, ErrSchemaMissing):
		c.fatal = err
		c.store.Reset(nil)
		return err
	case err != nil && res == nil:
		c.fatal = err
		c.store.Reset(nil)
		return err
	}

	c.store.Reset(res.History)
	c.session = res.Session
	return err
}

// Send answers text plus the pending attachments. It rejects empty input, a
// missing session and a reply already in progress before touching any state.
func (c *Conversation) Send(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	identity, session := c.identity, c.session
	c.mu.Unlock()

	if text == "" && c.pending.Len() == 0 {
		return Result{}, ErrEmptyMessage
	}
	if session == nil {
		return Result{}, ErrNoSession
	}

	unlock, ok, err := c.locker.TryLock(ctx, identity)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrBusy
	}
	defer unlock()

	// attachments may have been removed since the check above
	atts := c.pending.Take()
	if text == "" && len(atts) == 0 {
		return Result{}, ErrEmptyMessage
	}

	return c.rec.Run(ctx, Exchange{
		Identity:    identity,
		Session:     session,
		Text:        text,
		Attachments: atts,
	}), nil
}
