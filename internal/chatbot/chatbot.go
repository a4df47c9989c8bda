package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RedChat/internal/backend"
	"RedChat/internal/session"
)

const maxSessionIDLen = 128

var (
	// ErrValidation marks requests rejected before any work was done
	ErrValidation = errors.New("invalid request")

	// ErrStorage marks a completed exchange that could not be saved
	ErrStorage = errors.New("conversation store failure")
)

// Request is one chat turn
type Request struct {
	Prompt    string
	SessionID string // generated when empty
	Incognito bool
	History   []HistoryEntry // only read in incognito mode
}

// Response is the result of a successful chat turn
type Response struct {
	Reply     string
	SessionID string
	Title     string // set only when this turn created the conversation
}

// Options configures a Service
type Options struct {
	Persona     string
	AsyncTitles bool
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Meter       metric.Meter
}

// Service handles chat requests against a conversation store and a
// completion gateway
type Service struct {
	store       session.Store
	gateway     backend.Gateway
	titles      *TitleGenerator
	persona     string
	asyncTitles bool

	logger    *slog.Logger
	tracer    trace.Tracer
	exchanges metric.Int64Counter

	newID func() string
	wg    sync.WaitGroup
}

// NewService creates a Service. Nil logger, tracer or meter fall back to
// the process defaults.
func NewService(store session.Store, gateway backend.Gateway, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("redchat")
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("redchat")
	}

	exchanges, err := meter.Int64Counter("chat.exchanges",
		metric.WithDescription("Chat requests by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	titles, err := meter.Int64Counter("chat.titles",
		metric.WithDescription("Generated conversation titles by source"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	return &Service{
		store:   store,
		gateway: gateway,
		titles: &TitleGenerator{
			gateway: gateway,
			logger:  logger,
			tracer:  tracer,
			titles:  titles,
		},
		persona:     opts.Persona,
		asyncTitles: opts.AsyncTitles,
		logger:      logger,
		tracer:      tracer,
		exchanges:   exchanges,
		newID:       uuid.NewString,
	}, nil
}

// Chat runs one exchange. In persisted mode the exchange is appended to the
// session and the session is titled on its first exchange. Incognito
// requests never touch the store.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "chat_exchange")
	defer span.End()

	resp, err := s.chat(ctx, req, span)
	outcome := outcomeOf(err)
	s.exchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("incognito", req.Incognito),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return resp, err
}

func (s *Service) chat(ctx context.Context, req Request, span trace.Span) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.newID()
	} else if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Bool("session.incognito", req.Incognito),
	)
	logger := s.logger.With("session_id", sessionID, "incognito", req.Incognito)
	logger.Info("chat request", "prompt_preview", preview(req.Prompt, 50))

	var prior []session.Message
	if req.Incognito {
		prior = normalizeHistory(req.History)
	} else {
		stored, err := s.store.Get(ctx, sessionID)
		if err != nil {
			logger.Warn("failed to load history, continuing without it", "error", err)
		}
		prior = stored
	}

	reply, err := s.gateway.Complete(ctx, BuildContext(s.persona, prior, req.Prompt))
	if err != nil {
		logger.Error("completion failed", "error", err)
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	logger.Info("completion received", "reply_len", len(reply), "history_len", len(prior))

	resp := &Response{Reply: reply, SessionID: sessionID}
	if req.Incognito {
		return resp, nil
	}

	first, err := s.store.Append(ctx, sessionID,
		session.NewMessage(session.RoleUser, req.Prompt),
		session.NewMessage(session.RoleAssistant, reply),
	)
	if err != nil {
		logger.Error("failed to save exchange", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !first {
		return resp, nil
	}

	// The first-exchange gate is spent, so the title must be stored even if
	// the caller goes away.
	titleCtx := context.WithoutCancel(ctx)
	if s.asyncTitles {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.assignTitle(titleCtx, sessionID, req.Prompt)
		}()
		return resp, nil
	}

	resp.Title = s.assignTitle(titleCtx, sessionID, req.Prompt)
	return resp, nil
}

func (s *Service) assignTitle(ctx context.Context, sessionID, firstMessage string) string {
	title := s.titles.Generate(ctx, firstMessage)
	if err := s.store.SetTitle(ctx, sessionID, title); err != nil {
		s.logger.Warn("failed to save title", "session_id", sessionID, "error", err)
	}
	s.logger.Info("session titled", "session_id", sessionID, "title", title)
	return title
}

// History returns the stored messages of a session
func (s *Service) History(ctx context.Context, sessionID string) ([]session.Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	messages, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return messages, nil
}

// List returns all stored sessions with their titles, newest first
func (s *Service) List(ctx context.Context) ([]session.Summary, error) {
	summaries, err := s.store.ListTitled(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return summaries, nil
}

// Delete removes a session. Deleting an unknown session succeeds.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// Close waits for background title generation to finish
func (s *Service) Close() {
	s.wg.Wait()
}

// ValidateSessionID rejects IDs that are too long or contain control characters
func ValidateSessionID(id string) error {
	if len(id) > maxSessionIDLen {
		return fmt.Errorf("%w: session_id longer than %d bytes", ErrValidation, maxSessionIDLen)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: session_id contains control characters", ErrValidation)
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, backend.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, backend.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
