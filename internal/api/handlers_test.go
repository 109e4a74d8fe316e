package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/domain"
	"chatrelay/internal/persona"
	"chatrelay/internal/relay"
)

type memStore struct {
	convs map[string]*domain.Conversation
	msgs  map[string][]domain.Message
}

func newMemStore() *memStore {
	return &memStore{
		convs: map[string]*domain.Conversation{},
		msgs:  map[string][]domain.Message{},
	}
}

func (s *memStore) CreateConversation(ctx context.Context, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}
	s.convs[c.ID] = c
	return c, nil
}

func (s *memStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.convs[id], nil
}

func (s *memStore) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var out []domain.ConversationSummary
	for _, c := range s.convs {
		out = append(out, domain.ConversationSummary{
			ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
			MessageCount: len(s.msgs[c.ID]),
		})
	}
	return out, nil
}

func (s *memStore) DeleteConversation(ctx context.Context, id string) error {
	delete(s.convs, id)
	delete(s.msgs, id)
	return nil
}

func (s *memStore) AppendMessage(ctx context.Context, convID string, role domain.Role, content string) (*domain.Message, error) {
	m := domain.Message{
		ID: uuid.NewString(), ConversationID: convID, Role: role,
		Content: content, CreatedAt: time.Now().UTC(),
	}
	s.msgs[convID] = append(s.msgs[convID], m)
	return &m, nil
}

func (s *memStore) Messages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	msgs := s.msgs[convID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *memStore) Close() error { return nil }

type scriptedProvider struct {
	events   []domain.StreamEvent
	startErr error
	lastReq  domain.CompletionRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) StreamCompletion(ctx context.Context, req domain.CompletionRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	p.lastReq = req
	if p.startErr != nil {
		return p.startErr
	}
	for _, ev := range p.events {
		out <- ev
	}
	return nil
}

func (p *scriptedProvider) Healthy(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, store domain.ConversationStore, prov domain.CompletionProvider) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := relay.New(relay.Config{Store: store, Provider: prov, Logger: logger})
	h := NewHandler(engine, store, persona.DefaultPresets(), logger)
	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, apiKey string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func readFrames(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()
	var frames []map[string]any
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			t.Fatalf("malformed frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return frames
}

func TestChatHandler_MissingAPIKey(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedProvider{})

	resp := postChat(t, srv, "", map[string]any{"message": "hello"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestChatHandler_EmptyMessageAndImages(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedProvider{})

	resp := postChat(t, srv, "sk-test", map[string]any{"message": "   "})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatHandler_RejectsBadImage(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedProvider{})

	resp := postChat(t, srv, "sk-test", map[string]any{
		"message": "look",
		"images":  []map[string]string{{"type": "image/bmp", "base64": "QUJD"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body["error"], "image 1") {
		t.Errorf("error should name the offending image: %q", body["error"])
	}
}

func TestChatHandler_StreamsFrames(t *testing.T) {
	store := newMemStore()
	prov := &scriptedProvider{events: []domain.StreamEvent{
		{Type: domain.StreamToken, Content: "Hel"},
		{Type: domain.StreamToken, Content: "lo"},
		{Type: domain.StreamDone},
	}}
	srv := newTestServer(t, store, prov)

	resp := postChat(t, srv, "sk-test", map[string]any{"message": "hi there"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := readFrames(t, resp.Body)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %v", len(frames), frames)
	}
	if frames[0]["type"] != "chunk" || frames[0]["content"] != "Hel" {
		t.Errorf("frame 0 = %v", frames[0])
	}
	if frames[2]["type"] != "done" {
		t.Errorf("terminal frame = %v", frames[2])
	}
	convID, _ := frames[2]["conversationId"].(string)
	if convID == "" {
		t.Fatal("done frame missing conversationId")
	}

	msgs := store.msgs[convID]
	if len(msgs) != 2 {
		t.Fatalf("got %d stored messages, want user+assistant", len(msgs))
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "Hello" {
		t.Errorf("assistant row = %+v", msgs[1])
	}
	if prov.lastReq.APIKey != "sk-test" {
		t.Errorf("client credential not passed through, got %q", prov.lastReq.APIKey)
	}
}

func TestChatHandler_PersonaShapesSystemPrompt(t *testing.T) {
	prov := &scriptedProvider{events: []domain.StreamEvent{{Type: domain.StreamDone}}}
	srv := newTestServer(t, newMemStore(), prov)

	resp := postChat(t, srv, "sk-test", map[string]any{
		"message": "hi",
		"persona": map[string]string{
			"name":        "Luna<script>",
			"personality": "casual", // not a personality preset, must fall back
			"speechStyle": "casual",
		},
	})
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if len(prov.lastReq.Messages) == 0 {
		t.Fatal("no messages reached the provider")
	}
	sys := prov.lastReq.Messages[0]
	if sys.Role != domain.RoleSystem {
		t.Fatalf("first message role = %s, want system", sys.Role)
	}
	text := string(sys.Content.(domain.TextContent))
	if !strings.Contains(text, "Lunascript") {
		t.Errorf("markup not stripped from name: %q", text)
	}
	if !strings.Contains(text, persona.DefaultPersonality) {
		t.Errorf("off-preset personality should fall back to default: %q", text)
	}
	if !strings.Contains(text, "a casual manner") {
		t.Errorf("preset speech style should pass through: %q", text)
	}
}

func TestChatHandler_MalformedConversationID(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedProvider{})

	resp := postChat(t, srv, "sk-test", map[string]any{
		"message":        "hi",
		"conversationId": "not-a-uuid",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatHandler_UnknownConversation(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedProvider{})

	resp := postChat(t, srv, "sk-test", map[string]any{
		"message":        "hi",
		"conversationId": uuid.NewString(),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatHandler_PreStreamProviderError(t *testing.T) {
	prov := &scriptedProvider{startErr: fmt.Errorf("upstream refused")}
	srv := newTestServer(t, newMemStore(), prov)

	resp := postChat(t, srv, "sk-test", map[string]any{"message": "hi"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("pre-stream failure must be a structured JSON response: %v", err)
	}
	if body["error"] == "" {
		t.Error("missing error field")
	}
}

func TestListConversations_EmptyIsArray(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedProvider{})

	resp, err := srv.Client().Get(srv.URL + "/api/conversations")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `"conversations":[]`) {
		t.Errorf("empty index must marshal as an array: %s", data)
	}
}

func TestGetConversation(t *testing.T) {
	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "Greetings")
	store.AppendMessage(context.Background(), conv.ID, domain.RoleUser, "hi")
	srv := newTestServer(t, store, &scriptedProvider{})

	t.Run("malformed id", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/api/conversations/abc")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("missing", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/api/conversations/" + uuid.NewString())
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("found", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/api/conversations/" + conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var body struct {
			ID       string           `json:"id"`
			Title    string           `json:"title"`
			Messages []domain.Message `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Title != "Greetings" || len(body.Messages) != 1 {
			t.Errorf("body = %+v", body)
		}
	})
}

func TestDeleteConversation_Idempotent(t *testing.T) {
	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "bye")
	srv := newTestServer(t, store, &scriptedProvider{})

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/conversations/"+id, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode
	}

	if got := del(conv.ID); got != http.StatusOK {
		t.Errorf("first delete status = %d", got)
	}
	if got := del(conv.ID); got != http.StatusOK {
		t.Errorf("repeat delete status = %d, delete must be idempotent", got)
	}
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t, newMemStore(), &scriptedProvider{})

	resp, err := srv.Client().Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
