package ai

import "context"

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one text-only history entry used to prime a session.
type Message struct {
	Role    string
	Content string
}

// Part is one piece of an outgoing turn. Exactly one of Text or Data is set;
// Data carries the raw base64 payload of an inline attachment.
type Part struct {
	Text     string
	MIMEType string
	Data     string
}

func TextPart(text string) Part { return Part{Text: text} }

func InlinePart(mimeType, base64Data string) Part {
	return Part{MIMEType: mimeType, Data: base64Data}
}

func (p Part) IsInline() bool { return p.Data != "" }

// Provider creates inference sessions primed with a history and a system instruction.
type Provider interface {
	NewSession(ctx context.Context, history []Message, systemInstruction string) (Session, error)
}

// Session streams a model turn for each outgoing message and keeps the model-side context.
// It returns immediately with two channels; both are closed when streaming ends and any
// error is buffered in errs before chunks is closed.
type Session interface {
	StreamMessage(ctx context.Context, parts []Part) (<-chan string, <-chan error)
}

// emit sends a chunk unless ctx is done.
func emit(ctx context.Context, chunks chan<- string, s string) bool {
	select {
	case chunks <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

type unavailable struct{ err error }

// Unavailable is a Provider whose sessions always fail with err. It stands in
// when the configured provider cannot be constructed.
func Unavailable(err error) Provider { return unavailable{err: err} }

func (u unavailable) NewSession(context.Context, []Message, string) (Session, error) {
	return nil, u.err
}
