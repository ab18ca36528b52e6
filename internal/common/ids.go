package common

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a sortable, crypto-random id.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRequestID returns a random request id.
func NewRequestID() string {
	return uuid.NewString()
}
