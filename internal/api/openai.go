package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

// RootHandler reports service identity for quick checks.
func (a *API) RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "ok",
		"service":              "ragchat",
		"completion_model":     a.completion.Model,
		"completion_key_found": a.completion.APIKey() != "",
	})
}

// HealthHandler fails while the completion API cannot be reached for lack
// of a key, so container health checks notice.
func (a *API) HealthHandler(c *gin.Context) {
	if a.completion.Provider == "openai" && a.completion.APIKey() == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "unhealthy",
			"detail": fmt.Sprintf("%s not configured", a.completion.APIKeyEnv),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModelsHandler lists the configured model and every alias.
func (a *API) ListModelsHandler(c *gin.Context) {
	names := []string{a.completion.Model}
	aliases := make([]string, 0, len(a.completion.Aliases))
	for alias := range a.completion.Aliases {
		if alias != a.completion.Model {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	names = append(names, aliases...)

	data := make([]modelEntry, len(names))
	for i, name := range names {
		data[i] = modelEntry{ID: name, Object: "model", Created: a.startedAt.Unix(), OwnedBy: "ragchat"}
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

type completionRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages" binding:"required"`
	Stream   bool             `json:"stream"`

	// Retrieval extensions; ordinary OpenAI clients never send these.
	Scope     domain.Scope `json:"scope"`
	TopK      int          `json:"top_k"`
	Threshold *float64     `json:"threshold"`
}

type completionMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type completionChoice struct {
	Index        int                `json:"index"`
	Message      *completionMessage `json:"message,omitempty"`
	Delta        *completionMessage `json:"delta,omitempty"`
	FinishReason *string            `json:"finish_reason"`
}

type completionResponse struct {
	ID        string             `json:"id"`
	Object    string             `json:"object"`
	Created   int64              `json:"created"`
	Model     string             `json:"model"`
	Choices   []completionChoice `json:"choices"`
	Citations []domain.Citation  `json:"citations,omitempty"`
}

// ChatCompletionsHandler speaks the Chat Completions protocol. The last
// user message is the question; earlier turns are passed along as history.
func (a *API) ChatCompletionsHandler(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload: "+err.Error())
		return
	}

	last := -1
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = i
			break
		}
	}
	if last < 0 || strings.TrimSpace(req.Messages[last].Content) == "" {
		badRequest(c, "messages must contain a user message")
		return
	}

	model := a.completion.ResolveModel(req.Model)
	a.log.WithFields(logrus.Fields{"model": model, "requested": req.Model, "stream": req.Stream}).Debug("chat completion request")

	chatReq := usecase.ChatRequest{
		Query: domain.QueryRequest{
			Text:      req.Messages[last].Content,
			Scope:     req.Scope,
			TopK:      req.TopK,
			Threshold: req.Threshold,
		},
		Model:   model,
		History: req.Messages[:last],
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	stop := "stop"

	if !req.Stream {
		answer, err := a.chat.Answer(c.Request.Context(), chatReq)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, completionResponse{
			ID:      id,
			Object:  "chat.completion",
			Created: created,
			Model:   answer.Model,
			Choices: []completionChoice{{
				Message:      &completionMessage{Role: "assistant", Content: answer.Text},
				FinishReason: &stop,
			}},
			Citations: answer.Citations,
		})
		return
	}

	stream, err := a.chat.AnswerStream(c.Request.Context(), chatReq)
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	chunk := func(delta completionMessage, finish *string) completionResponse {
		return completionResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   stream.Model,
			Choices: []completionChoice{{Delta: &delta, FinishReason: finish}},
		}
	}

	writeFrame(c, chunk(completionMessage{Role: "assistant"}, nil))
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			final := chunk(completionMessage{}, &stop)
			final.Citations = stream.Citations
			writeFrame(c, final)
			break
		}
		if err != nil {
			a.log.WithError(err).Warn("completion stream ended early")
			writeFrame(c, gin.H{"error": newErrorBody(err)})
			break
		}
		writeFrame(c, chunk(completionMessage{Content: part}, nil))
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func writeFrame(c *gin.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}
