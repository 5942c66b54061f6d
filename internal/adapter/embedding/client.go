package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"ragchat/internal/adapter/upstream"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var _ port.Embedder = (*Client)(nil)

// Client embeds texts through a Transport, splitting inputs into batches
// and running each batch under the shared retry policy and limiter.
type Client struct {
	transport Transport
	exec      *upstream.Executor
	batchSize int
	log       logrus.FieldLogger

	mu        sync.RWMutex
	dimension int
}

// NewClient wraps transport. batchSize <= 0 sends everything in one call.
func NewClient(transport Transport, exec *upstream.Executor, batchSize int, log logrus.FieldLogger) *Client {
	return &Client{
		transport: transport,
		exec:      exec,
		batchSize: batchSize,
		log:       log,
		dimension: transport.Dimension(),
	}
}

// Embed returns one vector per text, in input order. Batches run concurrently,
// at most one per limiter slot.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	size := c.batchSize
	if size <= 0 {
		size = len(texts)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	// More batches in flight than limiter slots would only queue on the
	// limiter and run out its acquire timeout.
	if l := c.exec.Limiter(); l != nil {
		g.SetLimit(l.Capacity())
	}
	for start := 0; start < len(texts); start += size {
		start := start
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vectors, err := c.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A sibling's failure cancels gctx; report the original cause.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	err := c.exec.Do(ctx, "embed", func(callCtx context.Context) error {
		v, err := c.transport.EmbedBatch(callCtx, batch)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", domain.ErrEmbeddingRejected, len(vectors), len(batch))
	}
	for _, v := range vectors {
		if err := c.checkDimension(len(v)); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// checkDimension pins the dimension on first use and rejects any change.
func (c *Client) checkDimension(n int) error {
	c.mu.RLock()
	dim := c.dimension
	c.mu.RUnlock()
	if dim == n {
		return nil
	}
	if dim == 0 && n > 0 {
		c.mu.Lock()
		if c.dimension == 0 {
			c.dimension = n
		}
		dim = c.dimension
		c.mu.Unlock()
		if dim == n {
			return nil
		}
	}
	return fmt.Errorf("%w: embedding has %d dimensions, want %d", domain.ErrDimensionMismatch, n, dim)
}

func translate(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, upstream.ErrExhausted):
		return err
	case errors.Is(err, domain.ErrOverloaded):
		return err
	case errors.Is(err, upstream.ErrPermanent):
		return fmt.Errorf("%w: %w", domain.ErrEmbeddingRejected, err)
	case errors.Is(err, upstream.ErrExhausted):
		return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
}

// Dimension returns the vector dimension, or 0 before the first response
// when none was configured.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

func (c *Client) ModelName() string {
	return c.transport.ModelName()
}
