// Package relay drives one chat turn: it persists the user message, streams
// the provider's tokens to the client as newline-delimited JSON frames,
// accumulates the full response, and persists the assistant message exactly
// once after the stream ends cleanly.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/prompt"
)

// ErrConversationNotFound is returned when the caller supplied an ID that
// does not exist in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// Engine relays one turn at a time. Each turn owns its own accumulator;
// concurrent turns share only the store handle and the provider.
type Engine struct {
	store        domain.ConversationStore
	provider     domain.CompletionProvider
	logger       *slog.Logger
	metrics      *metrics.RelayMetrics
	historyLimit int
}

type Config struct {
	Store        domain.ConversationStore
	Provider     domain.CompletionProvider
	Logger       *slog.Logger
	Metrics      *metrics.RelayMetrics
	HistoryLimit int
}

func New(cfg Config) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = prompt.DefaultHistoryLimit
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRelayMetrics(metrics.NewCollector())
	}
	return &Engine{
		store:        cfg.Store,
		provider:     cfg.Provider,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		historyLimit: cfg.HistoryLimit,
	}
}

// TurnRequest is one validated user submission. Images must already have
// passed attachment validation.
type TurnRequest struct {
	ConversationID string
	Message        string
	Images         []domain.Attachment
	SystemPrompt   string
	APIKey         string
}

// ServeTurn runs the full relay pipeline for one turn, writing frames to w.
//
// A non-nil error means the turn failed before any frame was written (bad
// conversation, store write failure, provider refusing the stream); the
// caller can still send a structured error response. Once the first frame is
// written, all failures are delivered in-band as an error frame and ServeTurn
// returns nil.
func (e *Engine) ServeTurn(ctx context.Context, req TurnRequest, w FrameWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	convID, err := e.prepareConversation(ctx, req)
	if err != nil {
		return err
	}

	// The user's message is durable before the provider is ever contacted:
	// a failed completion must never lose what the user sent.
	if _, err := e.store.AppendMessage(ctx, convID, domain.RoleUser, storedUserContent(req)); err != nil {
		e.metrics.StoreErrors.Inc()
		return fmt.Errorf("save user message: %w", err)
	}

	history, err := e.store.Messages(ctx, convID, e.historyLimit)
	if err != nil {
		e.metrics.StoreErrors.Inc()
		return fmt.Errorf("load history: %w", err)
	}

	messages := prompt.Assemble(history, prompt.Turn{Text: req.Message, Images: req.Images}, req.SystemPrompt)

	events := make(chan domain.StreamEvent, 32)
	provDone := make(chan error, 1)
	go func() {
		provDone <- e.provider.StreamCompletion(ctx, domain.CompletionRequest{
			Messages: messages,
			APIKey:   req.APIKey,
		}, events)
	}()

	// Block until the stream yields its first event. A provider that fails
	// outright closes the channel without emitting; that failure is still
	// reportable as a structured response.
	first, ok := <-events
	if !ok {
		if err := <-provDone; err != nil {
			return fmt.Errorf("completion stream: %w", err)
		}
		return errors.New("completion stream ended before producing events")
	}

	e.metrics.TurnsStarted.Inc()
	e.metrics.ActiveStreams.Inc()
	defer e.metrics.ActiveStreams.Dec()
	defer func() {
		cancel()
		for range events {
		}
		<-provDone
	}()

	var acc strings.Builder
	ev := first
	for {
		switch ev.Type {
		case domain.StreamToken:
			acc.WriteString(ev.Content)
			if err := writeFrame(w, Frame{Type: FrameChunk, Content: ev.Content, ConversationID: convID}); err != nil {
				// Broken client sink: abort the upstream iteration and
				// discard the partial accumulator, exactly like a
				// provider failure.
				e.metrics.TurnsFailed.Inc()
				e.logger.Info("client disconnected mid-stream", "conversation", convID, "err", err)
				return nil
			}
			e.metrics.ChunksRelayed.Inc()

		case domain.StreamDone:
			e.finishTurn(ctx, convID, acc.String(), w)
			return nil

		case domain.StreamError:
			e.metrics.TurnsFailed.Inc()
			e.logger.Warn("stream failed, discarding partial response",
				"conversation", convID, "accumulated", acc.Len(), "err", ev.Content)
			if err := writeFrame(w, Frame{Type: FrameError, Error: ev.Content}); err != nil {
				e.logger.Info("could not deliver error frame", "conversation", convID, "err", err)
			}
			return nil
		}

		ev, ok = <-events
		if !ok {
			// Defensive: providers always end with done or error, but a
			// bare close must not hang the turn.
			e.finishTurn(ctx, convID, acc.String(), w)
			return nil
		}
	}
}

// prepareConversation resolves the target conversation, creating one with a
// derived title when the caller supplied no ID.
func (e *Engine) prepareConversation(ctx context.Context, req TurnRequest) (string, error) {
	if req.ConversationID != "" {
		conv, err := e.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return "", fmt.Errorf("find conversation: %w", err)
		}
		if conv == nil {
			return "", ErrConversationNotFound
		}
		return conv.ID, nil
	}

	conv, err := e.store.CreateConversation(ctx, DeriveTitle(req.Message))
	if err != nil {
		e.metrics.StoreErrors.Inc()
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return conv.ID, nil
}

// finishTurn persists the accumulated assistant message exactly once and
// emits the terminal done frame. A persistence failure here is non-fatal:
// the client already holds the full content, so the divergence is logged and
// counted rather than surfaced as a turn failure.
func (e *Engine) finishTurn(ctx context.Context, convID, content string, w FrameWriter) {
	if _, err := e.store.AppendMessage(ctx, convID, domain.RoleAssistant, content); err != nil {
		e.metrics.StoreErrors.Inc()
		e.logger.Error("assistant message lost from history after successful stream",
			"conversation", convID, "length", len(content), "err", err)
	}
	if err := writeFrame(w, Frame{Type: FrameDone, ConversationID: convID}); err != nil {
		e.logger.Info("could not deliver done frame", "conversation", convID, "err", err)
	}
	e.metrics.TurnsCompleted.Inc()
}

// storedUserContent renders the user message for history: attachments are
// replaced by a textual placeholder, the binary never persists.
func storedUserContent(req TurnRequest) string {
	if len(req.Images) == 0 {
		return req.Message
	}
	placeholder := fmt.Sprintf("[%d image(s) attached]", len(req.Images))
	if req.Message == "" {
		return placeholder
	}
	return req.Message + "\n" + placeholder
}
