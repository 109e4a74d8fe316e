// Package prompt builds the provider-facing message list for one chat turn.
// Assembly is deterministic: the same history, turn and system prompt always
// produce a byte-identical message list.
package prompt

import "chatrelay/internal/domain"

// DefaultHistoryLimit bounds how many stored messages are replayed to the
// provider. Configurable; 20 approximates the context-window budget of the
// upstream model.
const DefaultHistoryLimit = 20

// DefaultImagePrompt substitutes for the user text when a turn carries only
// images.
const DefaultImagePrompt = "Please describe the attached image(s)."

// Turn is the current user submission.
type Turn struct {
	Text   string
	Images []domain.Attachment
}

// Assemble converts (history, turn, system prompt) into the ordered provider
// message list: optional system message, prior messages reduced to role+text
// in original order, then the current turn. History is expected to already
// contain the persisted copy of the current turn as its last element; that
// duplicate is dropped and the turn re-appended in full form, so attachments
// are only ever encoded from the current turn, never replayed from history.
func Assemble(history []domain.Message, turn Turn, systemPrompt string) []domain.PromptMessage {
	msgs := make([]domain.PromptMessage, 0, len(history)+2)

	if systemPrompt != "" {
		msgs = append(msgs, domain.PromptMessage{
			Role:    domain.RoleSystem,
			Content: domain.TextContent(systemPrompt),
		})
	}

	prior := history
	if len(prior) > 0 {
		prior = prior[:len(prior)-1]
	}
	for _, m := range prior {
		msgs = append(msgs, domain.PromptMessage{
			Role:    m.Role,
			Content: domain.TextContent(m.Content),
		})
	}

	msgs = append(msgs, domain.PromptMessage{Role: domain.RoleUser, Content: turnContent(turn)})
	return msgs
}

// turnContent encodes the current turn: plain text when there are no images,
// otherwise a parts list with every image first and the text (or the fixed
// description prompt) last.
func turnContent(turn Turn) domain.PromptContent {
	if len(turn.Images) == 0 {
		return domain.TextContent(turn.Text)
	}
	parts := make(domain.PartsContent, 0, len(turn.Images)+1)
	for _, img := range turn.Images {
		parts = append(parts, domain.ImagePart{MediaType: img.Type, Base64: img.Base64})
	}
	text := turn.Text
	if text == "" {
		text = DefaultImagePrompt
	}
	parts = append(parts, domain.TextPart{Text: text})
	return parts
}

// Truncate returns the most recent limit messages of history in original
// order. limit <= 0 disables truncation.
func Truncate(history []domain.Message, limit int) []domain.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
