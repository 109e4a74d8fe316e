// Package client is the Go consumer of the relay's HTTP API: it issues chat
// turns, reads the newline-delimited frame stream, and reconstructs the
// in-progress assistant message for display.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/persona"
	"chatrelay/internal/relay"
)

// streamBufferSize bounds a single frame line.
const streamBufferSize = 1 << 20

// Client talks to one relay instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		// No overall timeout: the stream stays open for the whole turn.
		http: &http.Client{},
	}
}

// TurnInput is one user submission.
type TurnInput struct {
	ConversationID string              `json:"conversationId,omitempty"`
	Message        string              `json:"message"`
	Images         []domain.Attachment `json:"images,omitempty"`
	Documents      []domain.Document   `json:"documents,omitempty"`
	Persona        *persona.Persona    `json:"persona,omitempty"`
}

// TurnStream is a pull-based reader over one turn's frame stream. Callers
// drain it with Recv until io.EOF and must Close it when done.
type TurnStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Recv returns the next frame. io.EOF signals the end of the stream.
func (s *TurnStream) Recv() (relay.Frame, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var f relay.Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return relay.Frame{}, fmt.Errorf("malformed frame: %w", err)
		}
		return f, nil
	}
	if err := s.scanner.Err(); err != nil {
		return relay.Frame{}, err
	}
	return relay.Frame{}, io.EOF
}

func (s *TurnStream) Close() error { return s.body.Close() }

// StreamTurn posts one chat turn and returns the frame stream. A non-2xx
// response is classified and returned as a *TurnError; no stream is opened.
func (c *Client) StreamTurn(ctx context.Context, in TurnInput) (*TurnStream, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, readErrorMessage(resp.Body))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), streamBufferSize)
	return &TurnStream{body: resp.Body, scanner: sc}, nil
}

// ListConversations fetches the conversation index, most recently active
// first.
func (c *Client) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var out struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
	}
	if err := c.getJSON(ctx, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// ConversationDetail is a conversation with its full ordered message list.
type ConversationDetail struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Messages  []domain.Message `json:"messages"`
}

func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationDetail, error) {
	var out ConversationDetail
	if err := c.getJSON(ctx, "/api/conversations/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/conversations/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, readErrorMessage(resp.Body))
	}
	return nil
}

// Health reports whether the relay answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/api/health", &struct{}{})
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, readErrorMessage(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readErrorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}
