package client

import (
	"context"
	"errors"
	"io"
	"sync"

	"chatrelay/internal/domain"
	"chatrelay/internal/relay"
)

// ChatMessage is one entry of the locally visible message list.
type ChatMessage struct {
	Role    domain.Role
	Content string

	// Pending marks the optimistic assistant placeholder that is still
	// being filled by the stream.
	Pending bool
}

// Session reconstructs UI-visible state from the frame stream: it keeps the
// visible message list, adopts the server-assigned conversation ID, and
// rolls back the optimistic placeholder when a turn fails.
type Session struct {
	client  *Client
	refresh func()

	mu             sync.Mutex
	conversationID string
	messages       []ChatMessage
	lastInput      *TurnInput
}

// NewSession creates a session bound to one relay client. onIndexRefresh,
// when non-nil, runs in its own goroutine after every completed turn so the
// conversation index can be re-fetched without blocking rendering.
func NewSession(c *Client, onIndexRefresh func()) *Session {
	return &Session{client: c, refresh: onIndexRefresh}
}

// ConversationID returns the active conversation, empty until one is adopted
// or selected.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns a snapshot of the visible list.
func (s *Session) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Select switches the session to an existing conversation and replaces the
// visible list with its stored history.
func (s *Session) Select(id string, history []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
	s.messages = s.messages[:0]
	for _, m := range history {
		s.messages = append(s.messages, ChatMessage{Role: m.Role, Content: m.Content})
	}
	s.lastInput = nil
}

// Reset clears the session for a fresh conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = ""
	s.messages = nil
	s.lastInput = nil
}

// Send issues one turn. The user message and an empty assistant placeholder
// become visible immediately; the placeholder fills as chunks arrive. On
// failure the placeholder is removed and the returned error is a classified
// *TurnError.
func (s *Session) Send(ctx context.Context, in TurnInput) error {
	s.mu.Lock()
	if in.ConversationID == "" {
		in.ConversationID = s.conversationID
	}
	s.lastInput = &in
	s.messages = append(s.messages,
		ChatMessage{Role: domain.RoleUser, Content: in.Message},
		ChatMessage{Role: domain.RoleAssistant, Pending: true},
	)
	s.mu.Unlock()

	return s.run(ctx, in)
}

// Retry re-issues the last turn with the original text and attachments. The
// adopted conversation ID is reused so history is not forked; only a fresh
// placeholder is appended, the user message is already visible.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.lastInput == nil {
		s.mu.Unlock()
		return errors.New("nothing to retry")
	}
	in := *s.lastInput
	if s.conversationID != "" {
		in.ConversationID = s.conversationID
	}
	s.lastInput = &in
	s.messages = append(s.messages, ChatMessage{Role: domain.RoleAssistant, Pending: true})
	s.mu.Unlock()

	return s.run(ctx, in)
}

func (s *Session) run(ctx context.Context, in TurnInput) error {
	stream, err := s.client.StreamTurn(ctx, in)
	if err != nil {
		s.rollback()
		return err
	}
	defer stream.Close()

	adopted := false
	for {
		f, err := stream.Recv()
		if err == io.EOF {
			// The relay always terminates with done or error; a bare
			// EOF means the connection dropped mid-turn.
			s.rollback()
			return classifyInBand("the response stream ended unexpectedly")
		}
		if err != nil {
			s.rollback()
			return classifyTransport(err)
		}

		switch f.Type {
		case relay.FrameChunk:
			s.adopt(f.ConversationID, &adopted)
			s.appendChunk(f.Content)

		case relay.FrameDone:
			s.adopt(f.ConversationID, &adopted)
			s.settle()
			if s.refresh != nil {
				go s.refresh()
			}
			return nil

		case relay.FrameError:
			s.rollback()
			return classifyInBand(f.Error)
		}
	}
}

// adopt takes the server-assigned conversation ID the first time it appears
// in a turn, and only while no conversation is selected.
func (s *Session) adopt(id string, adopted *bool) {
	if id == "" || *adopted {
		return
	}
	s.mu.Lock()
	if s.conversationID == "" {
		s.conversationID = id
	}
	s.mu.Unlock()
	*adopted = true
}

// appendChunk extends the placeholder by replacing the last list element
// with an updated copy. Earlier history is never mutated.
func (s *Session) appendChunk(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return
	}
	last := s.messages[len(s.messages)-1]
	last.Content += content
	s.messages[len(s.messages)-1] = last
}

// settle marks the placeholder as confirmed.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return
	}
	last := s.messages[len(s.messages)-1]
	last.Pending = false
	s.messages[len(s.messages)-1] = last
}

// rollback removes the optimistic placeholder after a failed turn.
func (s *Session) rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == domain.RoleAssistant && s.messages[n-1].Pending {
		s.messages = s.messages[:n-1]
	}
}
