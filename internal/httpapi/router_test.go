package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/studio-assistant/internal/ai"
	"github.com/suPer8Hu/studio-assistant/internal/auth"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
	"github.com/suPer8Hu/studio-assistant/internal/httpapi/handlers"
	"gorm.io/gorm"
)

type scriptedSession struct {
	tokens []string
	err    error
	hold   chan struct{}
}

func (s *scriptedSession) StreamMessage(ctx context.Context, parts []ai.Part) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for i, tok := range s.tokens {
			chunks <- tok
			if i == 0 && s.hold != nil {
				<-s.hold
			}
		}
		if s.err != nil {
			errs <- s.err
		}
	}()
	return chunks, errs
}

type scriptedProvider struct{ session *scriptedSession }

func (p *scriptedProvider) NewSession(ctx context.Context, history []ai.Message, sys string) (ai.Session, error) {
	return p.session, nil
}

type failingBackend struct{ err error }

func (b failingBackend) ListMessages(context.Context, string) ([]chat.Message, error) {
	return nil, b.err
}
func (b failingBackend) InsertMessage(context.Context, *chat.Message) error { return b.err }

type testApp struct {
	router http.Handler
	hub    *chat.Hub
}

func openTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestApp(t *testing.T, backend chat.Backend, db *gorm.DB, sess *scriptedSession, limit int64) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if backend == nil {
		backend = chat.NewRepo(db)
	}
	persist := chat.NewInlinePersister(backend, nil)
	t.Cleanup(persist.Close)

	boot := chat.NewBootstrapper(backend, &scriptedProvider{session: sess}, chat.SystemInstruction(chat.DefaultContact), nil)
	hub := chat.NewHub(func() *chat.Conversation {
		return chat.NewConversation(chat.ConversationConfig{
			Bootstrapper:   boot,
			Persister:      persist,
			AttachmentSize: limit,
		})
	})
	authSvc := auth.NewService(auth.NewGormUsers(db), nil, "test-secret", time.Hour)
	h := handlers.NewHandler(authSvc, hub, limit, nil)
	return &testApp{router: NewRouter(h, RouterConfig{CORSOrigins: []string{"http://localhost:5173"}}), hub: hub}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *testApp) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (a *testApp) postJSON(t *testing.T, path, token string, v any) (*httptest.ResponseRecorder, envelope) {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return a.do(t, http.MethodPost, path, token, bytes.NewReader(b), "application/json")
}

func (a *testApp) signUp(t *testing.T, email string) string {
	t.Helper()
	w, env := a.postJSON(t, "/auth/signup", "", gin.H{"email": email, "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Token
}

type chatView struct {
	Messages     []chat.Turn       `json:"messages"`
	Suggestions  []string          `json:"suggestions"`
	SessionReady bool              `json:"session_ready"`
	Attachments  []chat.Attachment `json:"attachments"`
}

func (a *testApp) getChat(t *testing.T, token string) chatView {
	t.Helper()
	w, env := a.do(t, http.MethodGet, "/chat", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v chatView
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type sseEvent struct {
	Name string
	Data map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.Data))
			}
		}
		out = append(out, ev)
	}
	return out
}

func eventNames(evs []sseEvent) []string {
	names := make([]string, 0, len(evs))
	for _, ev := range evs {
		names = append(names, ev.Name)
	}
	return names
}

func TestChatFlow(t *testing.T) {
	db := openTestDB(t, &chat.Message{}, &auth.User{})
	app := newTestApp(t, nil, db, &scriptedSession{tokens: []string{"We design ", "interiors."}}, 1<<20)

	w, _ := app.do(t, http.MethodGet, "/ping", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	token := app.signUp(t, "client@example.com")

	v := app.getChat(t, token)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, chat.WelcomeText, v.Messages[0].Text)
	assert.Len(t, v.Suggestions, 3)
	assert.True(t, v.SessionReady)

	w, _ = app.postJSON(t, "/chat/messages/stream", token, gin.H{"message": "What do you do?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	evs := parseSSE(t, w.Body.String())
	assert.Equal(t, []string{"user", "open", "chunk", "chunk", "done"}, eventNames(evs))
	openID := evs[1].Data["id"]
	assert.Equal(t, openID, evs[2].Data["id"])
	assert.Equal(t, "We design ", evs[2].Data["delta"])
	assert.Equal(t, "interiors.", evs[3].Data["delta"])
	assert.Equal(t, "We design interiors.", evs[3].Data["text"])
	done := evs[4].Data["turn"].(map[string]any)
	assert.Equal(t, openID, done["id"])
	assert.Equal(t, "We design interiors.", done["text"])

	v = app.getChat(t, token)
	require.Len(t, v.Messages, 3)
	assert.Empty(t, v.Suggestions)

	w, env := app.postJSON(t, "/chat/messages/stream", token, gin.H{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10002, env.Code)
}

func TestStreamFailureEmitsErrorTurn(t *testing.T) {
	db := openTestDB(t, &chat.Message{}, &auth.User{})
	app := newTestApp(t, nil, db, &scriptedSession{tokens: []string{"par"}, err: assert.AnError}, 1<<20)
	token := app.signUp(t, "a@example.com")

	w, _ := app.postJSON(t, "/chat/messages/stream", token, gin.H{"message": "Hi"})
	evs := parseSSE(t, w.Body.String())
	assert.Equal(t, []string{"user", "open", "chunk", "error"}, eventNames(evs))
	turn := evs[3].Data["turn"].(map[string]any)
	assert.Equal(t, chat.ApologyText, turn["text"])
	assert.True(t, strings.HasPrefix(turn["id"].(string), "err-"))

	v := app.getChat(t, token)
	require.Len(t, v.Messages, 3)
	assert.Equal(t, chat.ApologyText, v.Messages[2].Text)
}

func TestAttachments(t *testing.T) {
	db := openTestDB(t, &chat.Message{}, &auth.User{})
	app := newTestApp(t, nil, db, &scriptedSession{tokens: []string{"ok"}}, 16)
	token := app.signUp(t, "a@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files[]", "small.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("tiny"))
	fw, err = mw.CreateFormFile("files[]", "huge.png")
	require.NoError(t, err)
	_, _ = fw.Write(bytes.Repeat([]byte("x"), 64))
	require.NoError(t, mw.Close())

	w, env := app.do(t, http.MethodPost, "/chat/attachments", token, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Attachments []chat.Attachment `json:"attachments"`
		Warnings    []string          `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Attachments, 1)
	assert.Equal(t, "small.txt", data.Attachments[0].Name)
	require.Len(t, data.Warnings, 1)
	assert.Contains(t, data.Warnings[0], "huge.png")

	w, _ = app.do(t, http.MethodDelete, "/chat/attachments/3", token, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = app.do(t, http.MethodDelete, "/chat/attachments/0", token, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, app.getChat(t, token).Attachments)
}

func TestBusyConversationRejectsSecondSend(t *testing.T) {
	db := openTestDB(t, &chat.Message{}, &auth.User{})
	hold := make(chan struct{})
	app := newTestApp(t, nil, db, &scriptedSession{tokens: []string{"a", "b"}, hold: hold}, 1<<20)
	srv := httptest.NewServer(app.router)
	defer srv.Close()
	token := app.signUp(t, "a@example.com")
	app.getChat(t, token)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstBody string
	go func() {
		defer wg.Done()
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/chat/messages/stream", strings.NewReader(`{"message":"first"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if !assert.NoError(t, err) {
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		firstBody = string(b)
	}()

	require.Eventually(t, func() bool {
		conv, ok := app.hub.Get(mustSubject(t, token))
		if !ok {
			return false
		}
		open, ok := conv.Store().Get(conv.OpenTurnID())
		return ok && open.Text == "a"
	}, 2*time.Second, 5*time.Millisecond)

	w, env := app.postJSON(t, "/chat/messages/stream", token, gin.H{"message": "second"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40901, env.Code)

	close(hold)
	wg.Wait()
	assert.Contains(t, firstBody, "event: done")
}

func mustSubject(t *testing.T, token string) string {
	claims, err := auth.ParseJWT(token, "test-secret")
	require.NoError(t, err)
	return claims.UserID()
}

func TestLogoutRevokesAndClosesConversation(t *testing.T) {
	db := openTestDB(t, &chat.Message{}, &auth.User{})
	app := newTestApp(t, nil, db, &scriptedSession{}, 1<<20)
	token := app.signUp(t, "a@example.com")
	app.getChat(t, token)
	require.Equal(t, 1, app.hub.Len())

	w, _ := app.do(t, http.MethodPost, "/auth/logout", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, app.hub.Len())

	w, env := app.do(t, http.MethodGet, "/me", token, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40103, env.Code)

	w, env = app.postJSON(t, "/auth/login", "", gin.H{"email": "a@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40100, env.Code)
}

func TestBootstrapFailuresMapToStatus(t *testing.T) {
	t.Run("network", func(t *testing.T) {
		db := openTestDB(t, &auth.User{})
		transport := &chat.BackendError{Kind: chat.KindTransport, Op: "list messages", Err: io.ErrUnexpectedEOF}
		app := newTestApp(t, failingBackend{err: transport}, db, &scriptedSession{}, 1<<20)
		token := app.signUp(t, "a@example.com")

		w, env := app.do(t, http.MethodGet, "/chat", token, nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, 50301, env.Code)
	})
	t.Run("schema", func(t *testing.T) {
		db := openTestDB(t, &auth.User{})
		app := newTestApp(t, nil, db, &scriptedSession{}, 1<<20)
		token := app.signUp(t, "a@example.com")

		w, env := app.do(t, http.MethodGet, "/chat", token, nil, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, 50002, env.Code)
		assert.Contains(t, string(env.Data), "migrate")
	})
}

func TestNotFoundEnvelope(t *testing.T) {
	db := openTestDB(t, &auth.User{})
	app := newTestApp(t, nil, db, &scriptedSession{}, 1<<20)
	w, env := app.do(t, http.MethodGet, "/nope", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}
