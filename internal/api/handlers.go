package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chatrelay/internal/attachment"
	"chatrelay/internal/domain"
	"chatrelay/internal/persona"
	"chatrelay/internal/relay"
)

// maxBodySize bounds the chat request body. Five images at the base64
// ceiling plus documents fit comfortably under this.
const maxBodySize = 48 << 20

// Handler carries the dependencies shared by all HTTP endpoints.
type Handler struct {
	engine  *relay.Engine
	store   domain.ConversationStore
	presets *persona.Presets
	logger  *slog.Logger
}

func NewHandler(engine *relay.Engine, store domain.ConversationStore, presets *persona.Presets, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, store: store, presets: presets, logger: logger}
}

// chatRequest is the inbound body of POST /api/chat.
type chatRequest struct {
	ConversationID string              `json:"conversationId,omitempty"`
	Message        string              `json:"message"`
	Images         []domain.Attachment `json:"images,omitempty"`
	Documents      []domain.Document   `json:"documents,omitempty"`
	Persona        *persona.Persona    `json:"persona,omitempty"`
	SystemPrompt   string              `json:"systemPrompt,omitempty"`
}

// ChatHandler streams one turn as newline-delimited JSON frames. Failures
// before the first frame are plain JSON error responses; after that, errors
// travel in-band.
func (h *Handler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "API key is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Message) == "" && len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "Message or images are required")
		return
	}

	images, err := attachment.Validate(req.Images)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ConversationID != "" {
		if _, err := uuid.Parse(req.ConversationID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation id")
			return
		}
	}

	systemPrompt := req.SystemPrompt
	if req.Persona != nil {
		systemPrompt = persona.Normalize(*req.Persona, h.presets).SystemPrompt()
	}

	turn := relay.TurnRequest{
		ConversationID: req.ConversationID,
		Message:        appendDocuments(req.Message, req.Documents),
		Images:         images,
		SystemPrompt:   systemPrompt,
		APIKey:         apiKey,
	}

	// Headers are not committed until the first frame is written, so a
	// pre-stream failure can still downgrade to a JSON error response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := h.engine.ServeTurn(r.Context(), turn, newFlushWriter(w)); err != nil {
		if errors.Is(err, relay.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("chat turn failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to process chat request")
	}
}

// appendDocuments folds pre-extracted document text into the message body.
func appendDocuments(message string, docs []domain.Document) string {
	if len(docs) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n[Document: %s]\n%s", d.Name, d.Content)
	}
	return b.String()
}

func (h *Handler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations(r.Context())
	if err != nil {
		h.logger.Error("list conversations", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []domain.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *Handler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		h.logger.Error("get conversation", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := h.store.Messages(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("load messages", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        conv.ID,
		"title":     conv.Title,
		"createdAt": conv.CreatedAt,
		"updatedAt": conv.UpdatedAt,
		"messages":  msgs,
	})
}

// DeleteConversationHandler is idempotent: deleting an absent conversation
// still reports success.
func (h *Handler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := h.store.DeleteConversation(r.Context(), id); err != nil {
		h.logger.Error("delete conversation", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// flushWriter adapts an http.ResponseWriter into the relay's frame sink,
// flushing after every frame so tokens reach the client immediately.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	fw := &flushWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.f = f
	}
	return fw
}

func (fw *flushWriter) Write(p []byte) (int, error) { return fw.w.Write(p) }

func (fw *flushWriter) Flush() {
	if fw.f != nil {
		fw.f.Flush()
	}
}
