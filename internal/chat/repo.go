package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Backend is the system of record for turns.
type Backend interface {
	// ListMessages returns every row of userID, oldest first.
	ListMessages(ctx context.Context, userID string) ([]Message, error)
	// InsertMessage stores m and fills in its ID and CreatedAt.
	InsertMessage(ctx context.Context, m *Message) error
}

// Repo is the gorm Backend used with mysql and sqlite.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, Classify("list messages", err)
	}
	return msgs, nil
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return Classify("insert message", err)
	}
	return nil
}

const (
	mysqlErrTableMissing   = 1146
	mysqlErrAccessDenied   = 1045
	mysqlErrDBAccessDenied = 1044
)

// Classify tags a gorm (mysql or sqlite) error with its ErrorKind.
func Classify(op string, err error) error {
	kind := KindOther
	var myErr *mysql.MySQLError
	switch {
	case IsTransportError(err), errors.Is(err, mysql.ErrInvalidConn):
		kind = KindTransport
	case errors.As(err, &myErr):
		switch myErr.Number {
		case mysqlErrTableMissing:
			kind = KindSchema
		case mysqlErrAccessDenied, mysqlErrDBAccessDenied:
			kind = KindAuth
		}
	case strings.Contains(err.Error(), "no such table"):
		// sqlite only reports this through the message
		kind = KindSchema
	}
	return &BackendError{Kind: kind, Op: op, Err: err}
}
