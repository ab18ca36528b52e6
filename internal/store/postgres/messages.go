package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
)

// Backend stores turns in the messages table through pgx.
type Backend struct {
	pool *pgxpool.Pool
}

func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

func (b *Backend) ListMessages(ctx context.Context, userID string) ([]chat.Message, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, user_id, text, sender, images, created_at
		FROM messages
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, classify("list messages", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			m      chat.Message
			images []byte
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.Sender, &images, &m.CreatedAt); err != nil {
			return nil, classify("scan message", err)
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &m.Images); err != nil {
				return nil, &chat.BackendError{Kind: chat.KindOther, Op: "decode images", Err: err}
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list messages", err)
	}
	return out, nil
}

func (b *Backend) InsertMessage(ctx context.Context, m *chat.Message) error {
	var images []byte
	if m.Images != nil {
		var err error
		if images, err = json.Marshal(m.Images); err != nil {
			return &chat.BackendError{Kind: chat.KindOther, Op: "encode images", Err: err}
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	err := b.pool.QueryRow(ctx, `
		INSERT INTO messages (user_id, text, sender, images, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.UserID, m.Text, m.Sender, images, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return classify("insert message", err)
	}
	return nil
}

const (
	sqlStateUndefinedTable        = "42P01"
	sqlStateInvalidPassword       = "28P01"
	sqlStateInvalidAuthorization  = "28000"
	sqlStateUniqueViolation       = "23505"
	sqlStateInsufficientPrivilege = "42501"
)

func classify(op string, err error) error {
	kind := chat.KindOther
	var pgErr *pgconn.PgError
	var connErr *pgconn.ConnectError
	switch {
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case sqlStateUndefinedTable:
			kind = chat.KindSchema
		case sqlStateInvalidPassword, sqlStateInvalidAuthorization, sqlStateInsufficientPrivilege:
			kind = chat.KindAuth
		}
	case errors.As(err, &connErr), chat.IsTransportError(err), pgconn.Timeout(err):
		kind = chat.KindTransport
	}
	return &chat.BackendError{Kind: kind, Op: op, Err: err}
}
