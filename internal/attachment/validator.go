// Package attachment validates inbound inline images before they enter the
// prompt. Validation is pure: no I/O, no clock, same verdict for same input.
package attachment

import (
	"fmt"
	"regexp"

	"chatrelay/internal/domain"
)

const (
	// MaxCount is the most images accepted per turn.
	MaxCount = 5

	// MaxImageBytes bounds the decoded size of a single image (5 MiB).
	MaxImageBytes = 5 * 1024 * 1024
)

// MaxBase64Length is the encoded-length ceiling implied by MaxImageBytes:
// base64 expands 3 bytes to 4 characters, rounded up.
const MaxBase64Length = (MaxImageBytes*4 + 2) / 3

// allowedTypes is the closed whitelist of image content types.
var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// base64Pattern accepts the standard alphabet with optional trailing padding.
var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// ValidationError rejects a whole attachment list. Index is the 1-based
// position of the offending item, or 0 for list-level failures.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index == 0 {
		return e.Reason
	}
	return fmt.Sprintf("image %d: %s", e.Index, e.Reason)
}

// Validate checks a claimed attachment list against count, type, size and
// encoding constraints. It fails fast on the first bad item; on success it
// returns the normalized list in original order.
func Validate(images []domain.Attachment) ([]domain.Attachment, error) {
	if len(images) > MaxCount {
		return nil, &ValidationError{Reason: fmt.Sprintf("at most %d images allowed", MaxCount)}
	}

	out := make([]domain.Attachment, 0, len(images))
	for i, img := range images {
		idx := i + 1
		if !allowedTypes[img.Type] {
			return nil, &ValidationError{Index: idx, Reason: "unsupported type (allowed: JPEG, PNG, GIF, WebP)"}
		}
		if img.Base64 == "" {
			return nil, &ValidationError{Index: idx, Reason: "empty image data"}
		}
		if len(img.Base64) > MaxBase64Length {
			return nil, &ValidationError{Index: idx, Reason: "image too large (max 5MB)"}
		}
		if !base64Pattern.MatchString(img.Base64) {
			return nil, &ValidationError{Index: idx, Reason: "invalid base64 data"}
		}
		out = append(out, domain.Attachment{Type: img.Type, Base64: img.Base64, Name: img.Name})
	}
	return out, nil
}
