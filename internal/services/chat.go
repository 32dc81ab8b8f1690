package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/observability"
	"github.com/yungbote/chatrelay/internal/platform/apierr"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/provider"
	"github.com/yungbote/chatrelay/internal/relay"
	"github.com/yungbote/chatrelay/internal/store"
	"github.com/yungbote/chatrelay/internal/tracing"
)

var (
	ErrInvalidRequest = errors.New("invalid chat request")
	ErrUnauthorized   = errors.New("unauthorized")
)

// ChatRequest is the inbound body of POST /api/chat.
type ChatRequest struct {
	ID           string         `json:"id"`
	Messages     []chat.Message `json:"messages"`
	PreviewToken string         `json:"previewToken"`
}

type ChatSettings struct {
	Model       string
	Temperature float64
	// DrainOnDisconnect runs the upstream call detached from the client so a disconnect still
	// yields a persisted transcript and a finished generation.
	DrainOnDisconnect bool
	ProviderTimeout   time.Duration
}

type ChatService interface {
	// Begin authorizes and validates the request, opens the trace and calls the provider.
	// Nothing has been written to the client when it returns.
	Begin(ctx context.Context, id *ctxutil.Identity, req ChatRequest) (*Exchange, error)
}

type chatService struct {
	log      *logger.Logger
	provider provider.Provider
	store    store.Store
	rec      tracing.Recorder
	bg       *Background
	metrics  *observability.Metrics
	settings ChatSettings
	now      func() time.Time
}

func NewChatService(
	log *logger.Logger,
	p provider.Provider,
	st store.Store,
	rec tracing.Recorder,
	bg *Background,
	metrics *observability.Metrics,
	settings ChatSettings,
) ChatService {
	if settings.Model == "" {
		settings.Model = "gpt-3.5-turbo"
	}
	if rec == nil {
		rec = tracing.Nop{}
	}
	if bg == nil {
		bg = NewBackground(log, 0)
	}
	return &chatService{
		log:      log.With("service", "ChatService"),
		provider: p,
		store:    st,
		rec:      rec,
		bg:       bg,
		metrics:  metrics,
		settings: settings,
		now:      time.Now,
	}
}

func (s *chatService) Begin(ctx context.Context, id *ctxutil.Identity, req ChatRequest) (*Exchange, error) {
	if id == nil || strings.TrimSpace(id.UserID) == "" {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
	}
	if err := chat.ValidateMessages(req.Messages); err != nil {
		return nil, apierr.BadRequest("invalid_request", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	history := chat.Strip(req.Messages)
	for i := range history {
		history[i].ID = req.Messages[i].ID
	}
	prompt := chat.Strip(req.Messages)

	chatID := strings.TrimSpace(req.ID)
	if chatID == "" {
		chatID = chat.NewID()
	}

	trace := s.rec.StartTrace(ctx, tracing.TraceInput{
		ExternalID: chat.TraceExternalID(chatID),
		Name:       "chat",
		UserRef:    chat.UserRef(id.UserID),
		Metadata:   map[string]string{"userEmail": id.Email},
	})
	gen := s.rec.StartGeneration(ctx, trace, tracing.GenerationInput{
		Name:  "chat",
		Model: s.settings.Model,
		Parameters: map[string]any{
			"temperature": s.settings.Temperature,
			"stream":      true,
		},
		Prompt: prompt,
	})

	parent := ctx
	if s.settings.DrainOnDisconnect {
		parent = context.WithoutCancel(ctx)
	}
	var (
		upCtx  context.Context
		cancel context.CancelFunc
	)
	if s.settings.ProviderTimeout > 0 {
		upCtx, cancel = context.WithTimeout(parent, s.settings.ProviderTimeout)
	} else {
		upCtx, cancel = context.WithCancel(parent)
	}

	started := s.now()
	stream, err := s.provider.Stream(upCtx, provider.Request{
		Model:       s.settings.Model,
		Messages:    prompt,
		Temperature: s.settings.Temperature,
		APIKey:      strings.TrimSpace(req.PreviewToken),
	})
	if err != nil {
		cancel()
		s.metrics.ObserveStream(s.settings.Model, "failed", s.now().Sub(started), 0, 0)
		s.log.Warn("provider call failed", "chat_id", chatID, "error", err)
		return nil, apierr.BadGateway("provider_error", err)
	}

	return &Exchange{
		ChatID:       chatID,
		GenerationID: gen.ID,
		svc:          s,
		identity:     *id,
		history:      history,
		prompt:       prompt,
		gen:          gen,
		stream:       stream,
		cancel:       cancel,
		started:      started,
		done:         make(chan struct{}),
	}, nil
}

// Exchange is one accepted chat request whose upstream stream is open.
type Exchange struct {
	ChatID       string
	GenerationID string

	svc      *chatService
	identity ctxutil.Identity
	history  []chat.Message
	prompt   []chat.Message
	gen      tracing.GenerationHandle
	stream   provider.ChunkStream
	cancel   context.CancelFunc
	started  time.Time

	once sync.Once
	done chan struct{}
}

// Stream relays the completion to w until the upstream ends. ctx is the client's context.
// Side effects continue in the background after Stream returns; Done reports when they end.
func (x *Exchange) Stream(ctx context.Context, w io.Writer) error {
	s := x.svc
	r := relay.New(x.stream, w, relay.Hooks{
		OnStart:      x.onStart,
		OnCompletion: x.onCompletion,
	}, relay.Options{DrainOnDisconnect: s.settings.DrainOnDisconnect, Log: s.log})

	err := r.Run(ctx)
	x.cancel()
	if err == nil {
		return nil
	}

	outcome := "failed"
	if errors.Is(err, relay.ErrClientGone) {
		outcome = "client_gone"
		s.log.Info("client disconnected, upstream abandoned", "chat_id", x.ChatID, "delivered", r.Delivered())
	} else {
		s.log.Warn("completion stream failed", "chat_id", x.ChatID, "delivered", r.Delivered(), "error", err)
	}
	s.metrics.ObserveStream(s.settings.Model, outcome, s.now().Sub(x.started), 0, 0)
	go func() {
		<-r.HooksDone()
		x.finish()
	}()
	return err
}

// Done is closed once the side-effect phase has finished, or once a failed stream's hooks ran.
func (x *Exchange) Done() <-chan struct{} { return x.done }

func (x *Exchange) finish() { x.once.Do(func() { close(x.done) }) }

func (x *Exchange) onStart() {
	s := x.svc
	s.rec.MarkStreamStarted(context.Background(), x.gen)
	s.metrics.ObserveFirstChunk(s.settings.Model, s.now().Sub(x.started))
}

func (x *Exchange) onCompletion(c relay.Completion) {
	x.svc.bg.Go("chat-side-effects", func(ctx context.Context) {
		defer x.finish()
		x.svc.complete(ctx, x, c)
	})
}

// complete runs the post-stream side effects. Nothing here is returned to the client: failures
// are logged and, where possible, recorded as trace events.
func (s *chatService) complete(ctx context.Context, x *Exchange, c relay.Completion) {
	usage := tracing.Usage{
		PromptTokens:     provider.EstimatePromptTokens(x.prompt),
		CompletionTokens: provider.EstimateTokens(c.Text),
	}
	if c.UsageReported {
		usage = tracing.Usage{PromptTokens: c.Usage.PromptTokens, CompletionTokens: c.Usage.CompletionTokens}
	}

	conv := chat.NewConversation(x.ChatID, x.identity.UserID, x.history, chat.Message{ID: x.gen.ID, Role: chat.RoleAssistant, Content: c.Text}, s.now())
	key := chat.StorageKey(x.ChatID)
	userKey := chat.UserIndexKey(x.identity.UserID)
	log := s.log.With("chat_id", x.ChatID, "generation_id", x.gen.ID)

	var g errgroup.Group
	g.Go(func() error {
		s.rec.FinishGeneration(ctx, x.gen, tracing.GenerationResult{Output: c.Text, Usage: usage})
		return nil
	})
	g.Go(func() error {
		err := s.store.SaveConversation(ctx, key, conv)
		s.metrics.IncSideEffect(tracing.EventConversationSaved, err)
		s.rec.RecordEvent(ctx, x.gen, tracing.SideEffectEvent(tracing.EventConversationSaved,
			tracing.ConversationSaved{Key: key, Conversation: conv}, err))
		if err != nil {
			// No index entry for a record that was never written.
			log.Error("save conversation failed", "error", err)
			return err
		}

		entry := conv.IndexEntry()
		err = s.store.AppendToUserIndex(ctx, userKey, entry)
		s.metrics.IncSideEffect(tracing.EventIndexAppended, err)
		s.rec.RecordEvent(ctx, x.gen, tracing.SideEffectEvent(tracing.EventIndexAppended,
			tracing.IndexAppended{Key: userKey, Score: entry.Score, Member: entry.Member}, err))
		if err != nil {
			log.Error("append user index failed", "error", err)
			return err
		}
		return nil
	})
	_ = g.Wait()

	if err := s.rec.Flush(ctx); err != nil {
		log.Warn("trace flush failed", "error", err)
	}
	s.metrics.ObserveStream(s.settings.Model, "completed", s.now().Sub(x.started), usage.PromptTokens, usage.CompletionTokens)
	log.Debug("chat side effects done", "user_id", x.identity.UserID)
}
