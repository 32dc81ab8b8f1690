package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatrelay/internal/http/response"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/services"
)

type FeedbackHandler struct {
	feedback services.FeedbackService
}

func NewFeedbackHandler(feedback services.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

// POST /api/feedback
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req services.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ctx := c.Request.Context()
	res, err := h.feedback.Submit(ctx, ctxutil.GetIdentity(ctx), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true, "traceId": res.TraceID, "value": res.Value})
}
