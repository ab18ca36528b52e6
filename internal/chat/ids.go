package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	prefixUser  = "user"
	prefixBot   = "bot"
	prefixError = "err"
)

// NewTurnID returns a provisional, locally unique turn id such as "bot-01J...".
func NewTurnID(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return prefix + "-" + id.String()
}
