package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatrelay/internal/http/response"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/relay"
	"github.com/yungbote/chatrelay/internal/services"
)

const (
	DefaultMessageIDHeader = "X-Message-Id"
	ChatIDHeader           = "X-Chat-Id"
)

type ChatHandler struct {
	log             *logger.Logger
	chat            services.ChatService
	messageIDHeader string
}

func NewChatHandler(log *logger.Logger, chat services.ChatService, messageIDHeader string) *ChatHandler {
	if messageIDHeader == "" {
		messageIDHeader = DefaultMessageIDHeader
	}
	return &ChatHandler{
		log:             log.With("handler", "ChatHandler"),
		chat:            chat,
		messageIDHeader: messageIDHeader,
	}
}

// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req services.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ctx := c.Request.Context()
	x, err := h.chat.Begin(ctx, ctxutil.GetIdentity(ctx), req)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			c.Data(http.StatusUnauthorized, "text/plain; charset=utf-8", []byte("Unauthorized"))
			return
		}
		response.RespondAPIError(c, err)
		return
	}

	sw := &streamWriter{c: c, headers: map[string]string{
		h.messageIDHeader: x.GenerationID,
		ChatIDHeader:      x.ChatID,
	}}
	err = x.Stream(ctx, sw)
	switch {
	case err == nil:
		sw.commit()
	case errors.Is(err, relay.ErrClientGone):
		c.Abort()
	case !sw.committed:
		response.RespondError(c, http.StatusBadGateway, "provider_error", err)
	default:
		// Headers and part of the body are out; dropping the connection is the only signal left.
		panic(http.ErrAbortHandler)
	}
}

// streamWriter commits the 200 and the correlation headers on the first chunk, so a stream that
// fails before producing anything can still be answered with an error status.
type streamWriter struct {
	c         *gin.Context
	headers   map[string]string
	committed bool
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.commit()
	if len(p) == 0 {
		return 0, nil
	}
	return w.c.Writer.Write(p)
}

func (w *streamWriter) Flush() {
	w.commit()
	w.c.Writer.Flush()
}

func (w *streamWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	h := w.c.Writer.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	for k, v := range w.headers {
		if v != "" {
			h.Set(k, v)
		}
	}
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
}
