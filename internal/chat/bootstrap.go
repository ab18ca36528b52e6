package chat

import (
	"context"
	"fmt"
	"strconv"

	"github.com/suPer8Hu/studio-assistant/internal/ai"
	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"go.uber.org/zap"
)

// Bootstrap is the loaded history of an identity and the session primed with it.
type Bootstrap struct {
	History []Turn
	Session ai.Session
}

// Bootstrapper loads history and builds an inference session whenever the identity changes.
type Bootstrapper struct {
	backend     Backend
	provider    ai.Provider
	instruction string
	log         *zap.Logger
}

func NewBootstrapper(backend Backend, provider ai.Provider, instruction string, log *zap.Logger) *Bootstrapper {
	log = logx.OrNop(log)
	return &Bootstrapper{backend: backend, provider: provider, instruction: instruction, log: log}
}

// Bootstrap returns ErrNetworkUnavailable or ErrSchemaMissing when the backend
// cannot be trusted at all. A session construction failure still returns the
// history alongside ErrSessionUnavailable.
func (b *Bootstrapper) Bootstrap(ctx context.Context, identity string) (*Bootstrap, error) {
	if identity == "" {
		return &Bootstrap{History: []Turn{}}, nil
	}

	history, err := b.loadHistory(ctx, identity)
	if err != nil {
		return nil, err
	}

	sess, err := b.provider.NewSession(ctx, Project(history), b.instruction)
	if err != nil {
		b.log.Error("create inference session failed", zap.String("user_id", identity), zap.Error(err))
		return &Bootstrap{History: history}, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return &Bootstrap{History: history, Session: sess}, nil
}

func (b *Bootstrapper) loadHistory(ctx context.Context, identity string) ([]Turn, error) {
	rows, err := b.backend.ListMessages(ctx, identity)
	if err != nil {
		b.log.Warn("fetch messages failed", zap.String("user_id", identity), zap.Error(err))
		switch KindOf(err) {
		case KindTransport:
			return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
		case KindSchema:
			return nil, fmt.Errorf("%w: %v", ErrSchemaMissing, err)
		}
		return []Turn{welcomeTurn(WelcomeID)}, nil
	}

	if len(rows) == 0 {
		welcome := Message{UserID: identity, Text: WelcomeText, Sender: string(SenderBot)}
		if err := b.backend.InsertMessage(ctx, &welcome); err != nil {
			b.log.Warn("save welcome message failed", zap.String("user_id", identity), zap.Error(err))
			if KindOf(err) == KindTransport {
				return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
			}
			// a missing table surfaces on the next load
			return []Turn{welcomeTurn(WelcomeID)}, nil
		}
		return []Turn{welcomeTurn(strconv.FormatUint(welcome.ID, 10))}, nil
	}

	history := make([]Turn, 0, len(rows))
	for _, m := range rows {
		history = append(history, TurnFromMessage(m))
	}
	return history, nil
}

func welcomeTurn(id string) Turn {
	return Turn{ID: id, Text: WelcomeText, Sender: SenderBot, Images: []string{}}
}

func TurnFromMessage(m Message) Turn {
	images := m.Images
	if images == nil {
		images = []string{}
	}
	return Turn{
		ID:     strconv.FormatUint(m.ID, 10),
		Text:   m.Text,
		Sender: ParseSender(m.Sender),
		Images: images,
	}
}

// Project builds the model-facing context: text only, empty turns dropped.
func Project(history []Turn) []ai.Message {
	out := make([]ai.Message, 0, len(history))
	for _, t := range history {
		if t.Text == "" {
			continue
		}
		role := ai.RoleModel
		if t.Sender == SenderUser {
			role = ai.RoleUser
		}
		out = append(out, ai.Message{Role: role, Content: t.Text})
	}
	return out
}
