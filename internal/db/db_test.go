package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/studio-assistant/internal/auth"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
)

func TestConnectSQLiteAndMigrate(t *testing.T) {
	gdb, err := Connect("sqlite", "file:dbtest?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(gdb, &chat.Message{}, &auth.User{}))

	repo := chat.NewRepo(gdb)
	require.NoError(t, repo.InsertMessage(context.Background(), &chat.Message{UserID: "u", Text: "hi", Sender: "user"}))
	msgs, err := repo.ListMessages(context.Background(), "u")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	users := auth.NewGormUsers(gdb)
	require.NoError(t, users.Create(context.Background(), &auth.User{Email: "a@b.co", PasswordHash: "x"}))
	err = users.Create(context.Background(), &auth.User{Email: "a@b.co", PasswordHash: "y"})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := Connect("postgres", "")
	require.Error(t, err)
}
