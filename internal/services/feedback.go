package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/observability"
	"github.com/yungbote/chatrelay/internal/platform/apierr"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/store"
	"github.com/yungbote/chatrelay/internal/tracing"
)

const (
	VotePositive = "positive"
	VoteNegative = "negative"
)

// FeedbackRequest is the body of POST /api/feedback. Vote wins over Score when both are set.
type FeedbackRequest struct {
	ChatID        string   `json:"chatId"`
	ObservationID string   `json:"observationId,omitempty"`
	Vote          string   `json:"vote,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	Comment       string   `json:"comment,omitempty"`
}

type FeedbackResult struct {
	TraceID string  `json:"traceId"`
	Value   float64 `json:"value"`
}

type FeedbackService interface {
	// Submit records one score. Every call creates a new score; repeated votes are not merged.
	Submit(ctx context.Context, id *ctxutil.Identity, req FeedbackRequest) (*FeedbackResult, error)
}

type feedbackService struct {
	log     *logger.Logger
	rec     tracing.Recorder
	store   store.Store
	metrics *observability.Metrics
}

func NewFeedbackService(log *logger.Logger, rec tracing.Recorder, st store.Store, metrics *observability.Metrics) FeedbackService {
	if rec == nil {
		rec = tracing.Nop{}
	}
	return &feedbackService{log: log.With("service", "FeedbackService"), rec: rec, store: st, metrics: metrics}
}

// VoteValue maps a vote to its score: positive is +1, negative is -1.
func VoteValue(vote string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(vote)) {
	case VotePositive:
		return 1, true
	case VoteNegative:
		return -1, true
	default:
		return 0, false
	}
}

func (s *feedbackService) Submit(ctx context.Context, id *ctxutil.Identity, req FeedbackRequest) (*FeedbackResult, error) {
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		return nil, apierr.BadRequest("invalid_request", fmt.Errorf("%w: chatId is required", ErrInvalidRequest))
	}

	var value float64
	switch {
	case strings.TrimSpace(req.Vote) != "":
		v, ok := VoteValue(req.Vote)
		if !ok {
			return nil, apierr.BadRequest("invalid_vote", fmt.Errorf("%w: vote must be %q or %q", ErrInvalidRequest, VotePositive, VoteNegative))
		}
		value = v
	case req.Score != nil:
		if math.IsNaN(*req.Score) || math.IsInf(*req.Score, 0) {
			return nil, apierr.BadRequest("invalid_score", fmt.Errorf("%w: score must be finite", ErrInvalidRequest))
		}
		value = *req.Score
	default:
		return nil, apierr.BadRequest("invalid_request", fmt.Errorf("%w: vote or score is required", ErrInvalidRequest))
	}

	if err := s.checkOwner(ctx, id, chatID); err != nil {
		return nil, err
	}

	traceID := chat.TraceExternalID(chatID)
	err := s.rec.SubmitScore(ctx, tracing.Score{
		TraceID:       traceID,
		ObservationID: strings.TrimSpace(req.ObservationID),
		Name:          tracing.FeedbackScoreName,
		Value:         value,
		Comment:       strings.TrimSpace(req.Comment),
	})
	if err != nil {
		s.log.Warn("submit score failed", "chat_id", chatID, "error", err)
		return nil, apierr.BadGateway("feedback_failed", err)
	}
	s.metrics.IncFeedback(value)
	return &FeedbackResult{TraceID: traceID, Value: value}, nil
}

// checkOwner refuses feedback from a signed-in user on another user's stored conversation.
// Anonymous callers and conversations not yet persisted pass; the chat id is the scope.
func (s *feedbackService) checkOwner(ctx context.Context, id *ctxutil.Identity, chatID string) error {
	if id == nil || s.store == nil {
		return nil
	}
	conv, err := s.store.GetConversation(ctx, chat.StorageKey(chatID))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		s.log.Warn("owner lookup failed, accepting feedback", "chat_id", chatID, "error", err)
		return nil
	case conv.UserID != "" && conv.UserID != id.UserID:
		return apierr.NotFound("chat_not_found", store.ErrNotFound)
	}
	return nil
}
