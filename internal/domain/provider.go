package domain

import "context"

// CompletionProvider is the interface to the upstream completion endpoint.
type CompletionProvider interface {
	Name() string

	// StreamCompletion issues a streaming completion and delivers events on
	// out in arrival order. The channel is closed before return. A non-nil
	// error means the stream could not be obtained at all; failures after
	// the first event surface as a StreamError event instead.
	StreamCompletion(ctx context.Context, req CompletionRequest, out chan<- StreamEvent) error

	Healthy(ctx context.Context) error
}

type CompletionRequest struct {
	Messages    []PromptMessage
	Model       string
	MaxTokens   int
	Temperature float64

	// APIKey is the caller-supplied credential, passed through to the
	// upstream endpoint. Empty means use the provider's configured key.
	APIKey string
}

// StreamEventType classifies a streaming event.
type StreamEventType string

const (
	StreamToken StreamEventType = "token"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is a single incremental result from the provider: a token
// delta, the natural end of the stream, or a terminal error.
type StreamEvent struct {
	Type    StreamEventType
	Content string // token text, or the error message for StreamError
}
