package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
	"github.com/suPer8Hu/studio-assistant/internal/common"
	"go.uber.org/zap"
)

const schemaSetupHint = "The messages table is missing. Run `studio-server migrate` (or apply internal/store/postgres/migrations) and reload."

// openConversation resolves the caller's conversation, writing the error
// envelope when bootstrap failed fatally.
func (h *Handler) openConversation(c *gin.Context) (*chat.Conversation, bool) {
	uid, ok := h.requireUser(c)
	if !ok {
		return nil, false
	}
	conv, err := h.Hub.Open(c.Request.Context(), uid)
	switch {
	case err == nil:
		return conv, true
	case errors.Is(err, chat.ErrNetworkUnavailable):
		common.Fail(c, http.StatusServiceUnavailable, 50301, "could not reach the message backend, check your connection and reload")
	case errors.Is(err, chat.ErrSchemaMissing):
		common.FailWith(c, http.StatusInternalServerError, 50002, "message storage is not set up", gin.H{"setup": schemaSetupHint})
	default:
		h.Log.Error("open conversation failed", zap.String("user_id", uid), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
	return nil, false
}

// GetChat returns the rendered history, bootstrapping it on first use.
func (h *Handler) GetChat(c *gin.Context) {
	conv, ok := h.openConversation(c)
	if !ok {
		return
	}
	turns := conv.Store().Snapshot()
	common.OK(c, gin.H{
		"messages":      turns,
		"suggestions":   chat.SuggestionsFor(len(turns)),
		"loading":       conv.Loading(),
		"session_ready": conv.HasSession(),
		"open_turn_id":  conv.OpenTurnID(),
		"attachments":   conv.Attachments().List(),
	})
}

// UploadAttachments adds multipart files[] to the pending set. Rejected files
// come back as warnings; the rest are kept.
func (h *Handler) UploadAttachments(c *gin.Context) {
	conv, ok := h.openConversation(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "multipart form required")
		return
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		common.Fail(c, http.StatusBadRequest, 10005, "no files")
		return
	}

	warnings := []string{}
	for _, fh := range files {
		data, err := h.readUpload(fh)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("file %q could not be read", fh.Filename))
			continue
		}
		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "application/octet-stream" {
			mimeType = ""
		}
		if _, err := conv.Attachments().Add(fh.Filename, mimeType, data); err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	common.OK(c, gin.H{
		"attachments": conv.Attachments().List(),
		"warnings":    warnings,
	})
}

// readUpload reads at most one byte past the limit so oversize is still detected.
func (h *Handler) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if h.MaxAttachmentBytes > 0 {
		r = io.LimitReader(f, h.MaxAttachmentBytes+1)
	}
	return io.ReadAll(r)
}

func (h *Handler) RemoveAttachment(c *gin.Context) {
	conv, ok := h.openConversation(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "invalid index")
		return
	}
	if err := conv.Attachments().Remove(index); err != nil {
		common.Fail(c, http.StatusNotFound, 40403, "attachment not found")
		return
	}
	common.OK(c, gin.H{"attachments": conv.Attachments().List()})
}

type streamReq struct {
	Message string `json:"message"`
}

type sendOutcome struct {
	res chat.Result
	err error
}

// StreamMessage sends one turn and streams the reply as server-sent events:
// user, open, chunk*, then done or error. A client that goes away stops
// receiving events; the exchange itself runs to completion.
func (h *Handler) StreamMessage(c *gin.Context) {
	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	conv, ok := h.openConversation(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	events := make(chan chat.Event, 64)
	stop := make(chan struct{})
	unsubscribe := conv.Store().Subscribe(func(ev chat.Event) {
		select {
		case events <- ev:
		case <-stop:
		}
	})
	defer unsubscribe()
	defer close(stop)

	done := make(chan sendOutcome, 1)
	go func() {
		res, err := conv.Send(ctx, req.Message)
		done <- sendOutcome{res: res, err: err}
	}()

	// preconditions fail before any state change, so they still get a plain JSON error
	var first *chat.Event
	var outcome *sendOutcome
	select {
	case o := <-done:
		if o.err != nil {
			h.failSend(c, o.err)
			return
		}
		outcome = &o
	case ev := <-events:
		first = &ev
	case <-ctx.Done():
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming unsupported")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	w := &sseWriter{w: c.Writer, flusher: flusher}
	if first != nil {
		w.event(*first)
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for outcome == nil {
		select {
		case ev := <-events:
			w.event(ev)
		case o := <-done:
			outcome = &o
		case <-ticker.C:
			w.writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}

	// every event of the exchange is buffered once Send has returned
	for drained := false; !drained; {
		select {
		case ev := <-events:
			w.event(ev)
		default:
			drained = true
		}
	}
	if outcome.err != nil {
		w.writeJSON("error", gin.H{"type": "error", "message": outcome.err.Error()})
		return
	}
	if outcome.res.Failed {
		w.writeJSON("error", gin.H{"type": "error", "turn": outcome.res.Bot, "message": outcome.res.Bot.Text})
		return
	}
	w.writeJSON("done", gin.H{"type": "done", "turn": outcome.res.Bot, "user": outcome.res.User})
}

func (h *Handler) failSend(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10002, "message or attachment required")
	case errors.Is(err, chat.ErrBusy):
		common.Fail(c, http.StatusConflict, 40901, "a reply is already in progress")
	case errors.Is(err, chat.ErrNoSession):
		common.Fail(c, http.StatusServiceUnavailable, 50302, "assistant is not available right now")
	default:
		h.Log.Error("send failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
	text    string
}

// event maps a store change of the running exchange onto the wire. Removals
// and the apology turn are reported by the final error event.
func (s *sseWriter) event(ev chat.Event) {
	switch ev.Kind {
	case chat.EventAppended:
		switch {
		case ev.Turn.Sender == chat.SenderUser:
			s.writeJSON("user", gin.H{"type": "user", "turn": ev.Turn})
		case ev.Turn.Text == "":
			s.text = ""
			s.writeJSON("open", gin.H{"type": "open", "id": ev.Turn.ID})
		}
	case chat.EventPatched:
		delta := strings.TrimPrefix(ev.Turn.Text, s.text)
		s.text = ev.Turn.Text
		s.writeJSON("chunk", gin.H{"type": "chunk", "id": ev.Turn.ID, "delta": delta, "text": ev.Turn.Text})
	}
}

func (s *sseWriter) writeJSON(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		// last-resort: send a simple error that won't break SSE framing
		fmt.Fprintf(s.w, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
		s.flusher.Flush()
		return
	}
	if event != "" {
		fmt.Fprintf(s.w, "event: %s\n", event)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", string(b))
	s.flusher.Flush()
}
