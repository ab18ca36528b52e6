package chat

import (
	"context"
	"sync"
	"time"

	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"go.uber.org/zap"
)

// Persister stores turns in the background. Persist never blocks on the
// backend and never reports failure to the caller.
type Persister interface {
	Persist(m Message)
}

const persistTimeout = 30 * time.Second

// InlinePersister writes each turn from a detached goroutine.
type InlinePersister struct {
	backend Backend
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewInlinePersister(backend Backend, log *zap.Logger) *InlinePersister {
	log = logx.OrNop(log)
	return &InlinePersister{backend: backend, log: log}
}

func (p *InlinePersister) Persist(m Message) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := p.backend.InsertMessage(ctx, &m); err != nil {
			p.log.Warn("persist turn failed",
				zap.String("user_id", m.UserID),
				zap.String("sender", m.Sender),
				zap.Stringer("kind", KindOf(err)),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight writes.
func (p *InlinePersister) Close() {
	p.wg.Wait()
}
