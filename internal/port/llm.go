package port

import (
	"context"

	"ragchat/internal/domain"
)

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	// Model overrides the configured model when non-empty.
	Model    string
	Messages []domain.Message
}

// Completer represents a chat completion API.
type Completer interface {
	// Complete returns the whole answer text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Stream returns a lazy, finite, non-restartable sequence of text fragments.
	Stream(ctx context.Context, req CompletionRequest) (Stream, error)

	// ModelName returns the default model.
	ModelName() string
}

// Stream yields answer fragments. Recv returns io.EOF after the last fragment.
// Close releases the underlying connection and may be called at any time.
type Stream interface {
	Recv() (string, error)
	Close() error
}
