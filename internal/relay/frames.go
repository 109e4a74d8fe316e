package relay

import "encoding/json"

// Frame is one newline-delimited JSON object on the client-facing stream.
// The transport is a raw byte stream, so every frame is self-delimited by
// its trailing newline.
type Frame struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

const (
	FrameChunk = "chunk"
	FrameDone  = "done"
	FrameError = "error"
)

// FrameWriter is the output sink for a turn's event stream. Flush must push
// buffered bytes to the client so each frame is visible as soon as it is
// written.
type FrameWriter interface {
	Write(p []byte) (int, error)
	Flush()
}

func writeFrame(w FrameWriter, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	w.Flush()
	return nil
}
