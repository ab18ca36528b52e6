package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/studio-assistant/internal/ai"
	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"go.uber.org/zap"
)

// Exchange is one user turn ready to be answered.
type Exchange struct {
	Identity    string
	Session     ai.Session
	Text        string
	Attachments []Attachment
}

// Result holds the final turns of an exchange. Bot is the apology turn when Failed.
type Result struct {
	User   Turn
	Bot    Turn
	Failed bool
}

// Reconciler applies one streamed exchange to the store and persists its turns.
type Reconciler struct {
	store     *Store
	persister Persister
	log       *zap.Logger
	newID     func(prefix string) string

	mu   sync.Mutex
	open string
}

func NewReconciler(store *Store, persister Persister, log *zap.Logger) *Reconciler {
	log = logx.OrNop(log)
	return &Reconciler{store: store, persister: persister, log: log, newID: NewTurnID}
}

// OpenTurnID is the id of the bot turn currently streaming, or "".
func (r *Reconciler) OpenTurnID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Reconciler) setOpen(id string) {
	r.mu.Lock()
	r.open = id
	r.mu.Unlock()
}

// Run appends the user turn, streams the reply into an open bot turn and
// persists both. Inference failures never escape: the open turn is replaced
// by an apology turn. Callers serialize Run per store.
func (r *Reconciler) Run(ctx context.Context, ex Exchange) Result {
	user := Turn{
		ID:     r.newID(prefixUser),
		Text:   ex.Text,
		Sender: SenderUser,
		Images: previews(ex.Attachments),
	}
	r.store.Append(user)
	r.persist(ex.Identity, user)

	// the exchange outlives the caller; a closed client must not cancel it
	ctx = context.WithoutCancel(ctx)

	parts, err := BuildParts(ex.Text, ex.Attachments)
	if err != nil {
		return r.fail(ex.Identity, user, "", err)
	}

	chunks, errs := ex.Session.StreamMessage(ctx, parts)

	botID := r.newID(prefixBot)
	r.setOpen(botID)
	defer r.setOpen("")
	r.store.Append(Turn{ID: botID, Sender: SenderBot})

	var acc strings.Builder
	for c := range chunks {
		acc.WriteString(c)
		r.store.PatchText(botID, acc.String())
	}
	if err := <-errs; err != nil {
		return r.fail(ex.Identity, user, botID, err)
	}

	// built from the stream, not read back: a reset store no longer holds it
	bot := Turn{ID: botID, Text: acc.String(), Sender: SenderBot, Images: []string{}}
	if strings.TrimSpace(bot.Text) != "" {
		r.persist(ex.Identity, bot)
	}
	return Result{User: user, Bot: bot}
}

func (r *Reconciler) fail(identity string, user Turn, botID string, err error) Result {
	r.log.Error("inference failed", zap.String("user_id", identity), zap.String("bot_id", botID), zap.Error(err))
	if botID != "" {
		r.store.Remove(botID)
	}
	apology := Turn{ID: r.newID(prefixError), Text: ApologyText, Sender: SenderBot, Images: []string{}}
	r.store.Append(apology)
	return Result{User: user, Bot: apology, Failed: true}
}

func (r *Reconciler) persist(identity string, t Turn) {
	if identity == "" || r.persister == nil {
		return
	}
	// stamped here so backend order follows local order, not write completion
	m := Message{UserID: identity, Text: t.Text, Sender: string(t.Sender), CreatedAt: time.Now()}
	if t.Sender == SenderUser {
		m.Images = t.Images
	}
	r.persister.Persist(m)
}
