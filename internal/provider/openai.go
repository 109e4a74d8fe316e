// Package provider implements clients for OpenAI-compatible completion APIs.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"chatrelay/internal/domain"
)

// sseBufferSize caps a single SSE line; image prompts can make request
// payloads large but response deltas stay small, 1MB is generous.
const sseBufferSize = 1 << 20

// OpenAI implements domain.CompletionProvider for OpenAI-compatible APIs.
type OpenAI struct {
	apiKey       string
	apiBase      string
	model        string
	maxTokens    int
	client       *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

type OpenAIConfig struct {
	APIKey    string
	APIBase   string
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

// NewOpenAI constructs the provider handle once; per-turn credentials are
// passed through on each request.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &OpenAI{
		apiKey:       cfg.APIKey,
		apiBase:      cfg.APIBase,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		client:       SharedHTTPClient(defaultHTTPTimeout),
		streamClient: StreamingHTTPClient(defaultHTTPTimeout),
		logger:       cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("openai: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned %d", resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model     string                 `json:"model"`
	Messages  []domain.PromptMessage `json:"messages"`
	MaxTokens int                    `json:"max_tokens,omitempty"`
	Stream    bool                   `json:"stream"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type oaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx response from the completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai %d: %s", e.StatusCode, e.Message)
}

// StreamCompletion issues a streaming chat completion and forwards each token
// delta on out in arrival order. The channel is closed before return. Errors
// before the stream is obtained are returned; errors mid-stream become a
// StreamError event.
func (o *OpenAI) StreamCompletion(ctx context.Context, req domain.CompletionRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	body := oaiRequest{
		Model:     o.model,
		Messages:  req.Messages,
		MaxTokens: o.maxTokens,
		Stream:    true,
	}
	if req.Model != "" {
		body.Model = req.Model
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	apiKey := o.apiKey
	if req.APIKey != "" {
		apiKey = req.APIKey
	}

	resp, err := doWithRetry(ctx, o.streamClient, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, sseBufferSize))
		var apiErr oaiErrorBody
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), sseBufferSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			out <- domain.StreamEvent{Type: domain.StreamDone}
			return nil
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			out <- domain.StreamEvent{Type: domain.StreamError, Content: "malformed stream chunk: " + err.Error()}
			return nil
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			select {
			case out <- domain.StreamEvent{Type: domain.StreamToken, Content: content}:
			case <-ctx.Done():
				out <- domain.StreamEvent{Type: domain.StreamError, Content: ctx.Err().Error()}
				return nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		out <- domain.StreamEvent{Type: domain.StreamError, Content: err.Error()}
		return nil
	}

	// Upstream closed without a [DONE] marker; treat as a natural end.
	out <- domain.StreamEvent{Type: domain.StreamDone}
	return nil
}
