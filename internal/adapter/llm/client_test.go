package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ragchat/internal/adapter/upstream"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

func fastExecutor(attempts int, limiter *upstream.Limiter) *upstream.Executor {
	policy := upstream.DefaultPolicy()
	policy.MaxAttempts = attempts
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	return upstream.NewExecutor(policy, limiter, nil)
}

func chatServer(t *testing.T, failFirst int32, failStatus int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			http.Error(w, "busy", failStatus)
			return
		}
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if !req.Stream {
			fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":"answer from %s"}}]}`, req.Model)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo", " world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func request(model string) port.CompletionRequest {
	return port.CompletionRequest{
		Model:    model,
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}
}

func TestCompleteRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, 2, http.StatusBadGateway, &calls)
	client := NewClient(NewChatClient(ChatOptions{BaseURL: srv.URL, Model: "default-model", HTTPClient: srv.Client()}), fastExecutor(5, nil))

	answer, err := client.Complete(context.Background(), request(""))
	require.NoError(t, err)
	assert.Equal(t, "answer from default-model", answer)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteExhaustionIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, 100, http.StatusTooManyRequests, &calls)
	client := NewClient(NewChatClient(ChatOptions{BaseURL: srv.URL, HTTPClient: srv.Client()}), fastExecutor(2, nil))

	_, err := client.Complete(context.Background(), request("m"))
	require.ErrorIs(t, err, domain.ErrCompletionUnavailable)
	assert.True(t, domain.Retryable(err))
}

func TestCompleteRejected(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, 100, http.StatusBadRequest, &calls)
	client := NewClient(NewChatClient(ChatOptions{BaseURL: srv.URL, HTTPClient: srv.Client()}), fastExecutor(5, nil))

	_, err := client.Complete(context.Background(), request("m"))
	require.ErrorIs(t, err, domain.ErrCompletionRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStreamHoldsSlotUntilClosed(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, 1, http.StatusServiceUnavailable, &calls)
	limiter := upstream.NewLimiter(upstream.LimiterConfig{MaxConcurrent: 1})
	client := NewClient(NewChatClient(ChatOptions{BaseURL: srv.URL, HTTPClient: srv.Client()}), fastExecutor(3, limiter))

	stream, err := client.Stream(context.Background(), request("m"))
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.InFlight())

	var sb strings.Builder
	for {
		part, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sb.WriteString(part)
	}
	assert.Equal(t, "Hello world", sb.String())

	require.NoError(t, stream.Close())
	assert.Equal(t, 0, limiter.InFlight())
	assert.Equal(t, int32(2), calls.Load())
}

func TestMockCompleterStream(t *testing.T) {
	client := NewClient(NewMockCompleter(""), fastExecutor(1, nil))
	stream, err := client.Stream(context.Background(), request(""))
	require.NoError(t, err)
	defer stream.Close()

	var parts []string
	for {
		part, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		parts = append(parts, part)
	}
	full, err := client.Complete(context.Background(), request(""))
	require.NoError(t, err)
	assert.Equal(t, full, strings.Join(parts, ""))
}
