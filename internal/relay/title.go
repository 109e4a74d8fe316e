package relay

// titleMaxRunes bounds a derived conversation title.
const titleMaxRunes = 50

// imageOnlyTitle is used when the first turn carries only attachments.
const imageOnlyTitle = "Message with attached images"

// DeriveTitle produces a conversation title from the first user message:
// the first 50 characters, ellipsis-appended when truncated, or a fixed
// placeholder for image-only turns.
func DeriveTitle(text string) string {
	if text == "" {
		return imageOnlyTitle
	}
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + "..."
}
