package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"ragchat/internal/port"
)

// MockCompleter answers without a network. The reply names the last user
// message and the size of the prompt, which is enough for tests and demos.
type MockCompleter struct {
	model string
}

func NewMockCompleter(model string) *MockCompleter {
	if model == "" {
		model = "mock"
	}
	return &MockCompleter{model: model}
}

func (m *MockCompleter) ModelName() string { return m.model }

func (m *MockCompleter) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var question string
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content)
		if msg.Role == "user" {
			question = msg.Content
		}
	}
	if i := strings.LastIndex(question, "\n"); i >= 0 {
		question = question[i+1:]
	}
	return fmt.Sprintf("mock answer to %q from %d prompt characters", strings.TrimSpace(question), total), nil
}

func (m *MockCompleter) OpenStream(ctx context.Context, req port.CompletionRequest) (port.Stream, error) {
	text, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return &sliceStream{ctx: ctx, parts: strings.SplitAfter(text, " ")}, nil
}

type sliceStream struct {
	ctx   context.Context
	parts []string
}

func (s *sliceStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.parts) == 0 {
		return "", io.EOF
	}
	part := s.parts[0]
	s.parts = s.parts[1:]
	return part, nil
}

func (s *sliceStream) Close() error {
	s.parts = nil
	return nil
}
