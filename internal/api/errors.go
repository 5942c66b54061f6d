package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"ragchat/internal/domain"
)

// statusClientClosed is the conventional status for a canceled request.
const statusClientClosed = 499

// retryAfterSeconds is advertised on backpressure responses.
const retryAfterSeconds = "5"

// StatusFor maps an error onto its HTTP status.
func StatusFor(err error) int {
	switch domain.Kind(err) {
	case "UnsupportedFormat":
		return http.StatusUnsupportedMediaType
	case "CorruptInput":
		return http.StatusUnprocessableEntity
	case "InvalidConfig", "InvalidScope", "InvalidArgument":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "AlreadyProcessing":
		return http.StatusConflict
	case "Overloaded", "EmbeddingUnavailable", "CompletionUnavailable":
		return http.StatusServiceUnavailable
	case "EmbeddingRejected", "CompletionRejected":
		return http.StatusBadGateway
	case "Timeout":
		return http.StatusGatewayTimeout
	case "Canceled":
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func newErrorBody(err error) errorBody {
	return errorBody{
		Error:     err.Error(),
		Kind:      domain.Kind(err),
		Retryable: domain.Retryable(err),
	}
}

// writeError answers with the mapped status. Retryable errors carry
// Retry-After; internal errors are logged.
func (a *API) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if domain.Retryable(err) {
		c.Header("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, newErrorBody(err))
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg, Kind: "InvalidArgument"})
}
