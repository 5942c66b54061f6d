package domain

import (
	"context"
	"errors"
)

// Caller and configuration errors. Never retried.
var (
	// ErrUnsupportedFormat indicates the declared format is neither text nor PDF.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCorruptInput indicates the byte stream could not be parsed in its declared format.
	ErrCorruptInput = errors.New("corrupt input")

	// ErrInvalidConfig indicates impossible configuration, e.g. overlap >= chunk size.
	ErrInvalidConfig = errors.New("invalid config")
)

// Upstream errors.
var (
	// ErrEmbeddingRejected indicates the embedding API refused the request (auth, malformed input).
	ErrEmbeddingRejected = errors.New("embedding rejected")

	// ErrCompletionRejected indicates the completion API refused the request.
	ErrCompletionRejected = errors.New("completion rejected")

	// ErrEmbeddingUnavailable indicates embedding retries were exhausted.
	// Callers may retry later.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrCompletionUnavailable indicates completion retries were exhausted.
	ErrCompletionUnavailable = errors.New("completion unavailable")
)

// Request errors.
var (
	// ErrDimensionMismatch indicates a vector whose dimension differs from the store's.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidScope indicates a scope naming a document or collection that does not exist.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a malformed request, e.g. an empty question.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Backpressure signals.
var (
	// ErrAlreadyProcessing indicates another ingestion of the same document is in flight.
	ErrAlreadyProcessing = errors.New("already processing")

	// ErrOverloaded indicates an upstream slot or queue slot could not be obtained in time.
	ErrOverloaded = errors.New("overloaded")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnsupportedFormat, "UnsupportedFormat"},
	{ErrCorruptInput, "CorruptInput"},
	{ErrInvalidConfig, "InvalidConfig"},
	{ErrEmbeddingRejected, "EmbeddingRejected"},
	{ErrCompletionRejected, "CompletionRejected"},
	{ErrEmbeddingUnavailable, "EmbeddingUnavailable"},
	{ErrCompletionUnavailable, "CompletionUnavailable"},
	{ErrDimensionMismatch, "DimensionMismatch"},
	{ErrInvalidScope, "InvalidScope"},
	{ErrNotFound, "NotFound"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrAlreadyProcessing, "AlreadyProcessing"},
	{ErrOverloaded, "Overloaded"},
	{context.Canceled, "Canceled"},
	{context.DeadlineExceeded, "Timeout"},
}

// Kind returns the taxonomy name of err, or "Internal" for unclassified errors.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// Retryable reports whether the caller should try the same request again later.
func Retryable(err error) bool {
	switch Kind(err) {
	case "EmbeddingUnavailable", "CompletionUnavailable", "AlreadyProcessing", "Overloaded":
		return true
	}
	return false
}
