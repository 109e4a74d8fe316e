package domain

import (
	"encoding/json"
	"fmt"
)

// PromptMessage is one entry of the provider-facing message list.
type PromptMessage struct {
	Role    Role
	Content PromptContent
}

// PromptContent is the content of a prompt message: either plain text or an
// ordered list of parts. Modelled as a closed variant so callers never have
// to shape-sniff a decoded any.
type PromptContent interface {
	isPromptContent()
}

// TextContent is plain-text message content.
type TextContent string

func (TextContent) isPromptContent() {}

// PartsContent is multipart message content (images plus text).
type PartsContent []Part

func (PartsContent) isPromptContent() {}

// Part is a single element of multipart content.
type Part interface {
	isPart()
}

// TextPart carries a text fragment.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// ImagePart carries an inline image as a base64 data URL.
type ImagePart struct {
	MediaType string
	Base64    string
}

func (ImagePart) isPart() {}

// DataURL renders the part as an RFC 2397 data URL for the provider wire.
func (p ImagePart) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Base64)
}

// MarshalJSON renders the OpenAI wire shape: a bare string for text content,
// an array of typed part objects for multipart content.
func (m PromptMessage) MarshalJSON() ([]byte, error) {
	switch c := m.Content.(type) {
	case TextContent:
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{string(m.Role), string(c)})
	case PartsContent:
		parts := make([]any, 0, len(c))
		for _, p := range c {
			switch p := p.(type) {
			case TextPart:
				parts = append(parts, map[string]any{"type": "text", "text": p.Text})
			case ImagePart:
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]string{"url": p.DataURL()},
				})
			default:
				return nil, fmt.Errorf("unknown part type %T", p)
			}
		}
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content []any  `json:"content"`
		}{string(m.Role), parts})
	default:
		return nil, fmt.Errorf("unknown content type %T", m.Content)
	}
}
