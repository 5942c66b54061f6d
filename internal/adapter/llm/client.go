package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"ragchat/internal/adapter/upstream"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var _ port.Completer = (*Client)(nil)

// Client runs completions through the shared retry policy and limiter.
type Client struct {
	transport Transport
	exec      *upstream.Executor
}

func NewClient(transport Transport, exec *upstream.Executor) *Client {
	return &Client{transport: transport, exec: exec}
}

func (c *Client) ModelName() string { return c.transport.ModelName() }

func (c *Client) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	var answer string
	err := c.exec.Do(ctx, "complete", func(callCtx context.Context) error {
		text, err := c.transport.Complete(callCtx, req)
		if err != nil {
			return err
		}
		answer = text
		return nil
	})
	if err != nil {
		return "", translate(err)
	}
	return answer, nil
}

// Stream retries until the upstream starts answering. The limiter slot is
// held until the returned stream is closed. Failures after the first byte
// are not retried.
func (c *Client) Stream(ctx context.Context, req port.CompletionRequest) (port.Stream, error) {
	var inner port.Stream
	release, err := c.exec.DoHeld(ctx, "stream", func(callCtx context.Context) error {
		s, err := c.transport.OpenStream(callCtx, req)
		if err != nil {
			return err
		}
		inner = s
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return &heldStream{inner: inner, release: release}, nil
}

type heldStream struct {
	inner   port.Stream
	release func()
	once    sync.Once
}

func (s *heldStream) Recv() (string, error) {
	text, err := s.inner.Recv()
	if err == nil || err == io.EOF {
		return text, err
	}
	if errors.Is(err, context.Canceled) {
		return "", err
	}
	return "", fmt.Errorf("%w: stream interrupted: %w", domain.ErrCompletionUnavailable, err)
}

func (s *heldStream) Close() error {
	err := s.inner.Close()
	s.once.Do(s.release)
	return err
}

func translate(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, upstream.ErrExhausted):
		return err
	case errors.Is(err, domain.ErrOverloaded):
		return err
	case errors.Is(err, upstream.ErrPermanent):
		return fmt.Errorf("%w: %w", domain.ErrCompletionRejected, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrCompletionUnavailable, err)
	}
}
