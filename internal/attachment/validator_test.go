package attachment

import (
	"strings"
	"testing"

	"chatrelay/internal/domain"
)

func validImage() domain.Attachment {
	return domain.Attachment{Type: "image/png", Base64: "iVBORw0KGgo="}
}

func TestValidate_AcceptsMaxCount(t *testing.T) {
	images := make([]domain.Attachment, MaxCount)
	for i := range images {
		images[i] = validImage()
	}
	out, err := Validate(images)
	if err != nil {
		t.Fatalf("expected %d images to pass, got %v", MaxCount, err)
	}
	if len(out) != MaxCount {
		t.Errorf("normalized list length: got %d, want %d", len(out), MaxCount)
	}
}

func TestValidate_RejectsOverCount(t *testing.T) {
	images := make([]domain.Attachment, MaxCount+1)
	for i := range images {
		images[i] = validImage()
	}
	_, err := Validate(images)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Index != 0 {
		t.Errorf("count failure should be list-level (index 0), got %d", ve.Index)
	}
	if !strings.Contains(ve.Reason, "5") {
		t.Errorf("reason should name the limit, got %q", ve.Reason)
	}
}

func TestValidate_SizeCeiling(t *testing.T) {
	// Exactly at the ceiling passes the length check (the payload still has
	// to satisfy the base64 grammar).
	atLimit := strings.Repeat("A", MaxBase64Length)
	if _, err := Validate([]domain.Attachment{{Type: "image/png", Base64: atLimit}}); err != nil {
		t.Errorf("payload at ceiling rejected: %v", err)
	}

	overLimit := strings.Repeat("A", MaxBase64Length+1)
	_, err := Validate([]domain.Attachment{{Type: "image/png", Base64: overLimit}})
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError for oversized payload, got %v", err)
	}
	if ve.Index != 1 {
		t.Errorf("index: got %d, want 1", ve.Index)
	}
}

func TestValidate_PerItemRules(t *testing.T) {
	tests := []struct {
		name      string
		img       domain.Attachment
		wantInMsg string
	}{
		{"bad type", domain.Attachment{Type: "image/tiff", Base64: "QUJD"}, "unsupported type"},
		{"text type", domain.Attachment{Type: "text/plain", Base64: "QUJD"}, "unsupported type"},
		{"empty payload", domain.Attachment{Type: "image/png", Base64: ""}, "empty"},
		{"bad alphabet", domain.Attachment{Type: "image/png", Base64: "abc$def"}, "base64"},
		{"padding inside", domain.Attachment{Type: "image/png", Base64: "ab=cd"}, "base64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate([]domain.Attachment{validImage(), tt.img})
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Index != 2 {
				t.Errorf("index: got %d, want 2 (1-based)", ve.Index)
			}
			if !strings.Contains(ve.Error(), tt.wantInMsg) {
				t.Errorf("error %q should contain %q", ve.Error(), tt.wantInMsg)
			}
		})
	}
}

func TestValidate_Deterministic(t *testing.T) {
	images := []domain.Attachment{validImage(), {Type: "image/bmp", Base64: "QUJD"}}
	_, err1 := Validate(images)
	_, err2 := Validate(images)
	if err1 == nil || err2 == nil {
		t.Fatal("expected rejection")
	}
	if err1.Error() != err2.Error() {
		t.Errorf("same input produced different reasons: %q vs %q", err1, err2)
	}
}

func TestValidate_EmptyListOK(t *testing.T) {
	out, err := Validate(nil)
	if err != nil {
		t.Fatalf("nil list should validate: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d images, want 0", len(out))
	}
}
