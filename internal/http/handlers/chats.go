package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatrelay/internal/http/response"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/services"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type ConversationHandler struct {
	conversations services.ConversationService
}

func NewConversationHandler(conversations services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// GET /api/chats?limit=50
func (h *ConversationHandler) List(c *gin.Context) {
	limit := defaultListLimit
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	ctx := c.Request.Context()
	chats, err := h.conversations.List(ctx, ctxutil.GetIdentity(ctx), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if chats == nil {
		chats = []services.ConversationSummary{}
	}
	response.RespondOK(c, gin.H{"chats": chats})
}

// GET /api/chats/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.conversations.Get(ctx, ctxutil.GetIdentity(ctx), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chat": conv})
}
