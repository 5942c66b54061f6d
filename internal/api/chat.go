package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

type chatRequest struct {
	Question  string       `json:"question" binding:"required"`
	Scope     domain.Scope `json:"scope"`
	TopK      int          `json:"top_k"`
	Threshold *float64     `json:"threshold"`
	Model     string       `json:"model"`
	Stream    bool         `json:"stream"`
}

// ChatHandler answers a question from the caller's documents. With
// "stream": true the answer arrives as server-sent events: one
// "citations" event, "delta" events with text, then "done" or "error".
func (a *API) ChatHandler(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload: "+err.Error())
		return
	}

	chatReq := usecase.ChatRequest{
		Query: domain.QueryRequest{
			Text:      req.Question,
			Scope:     req.Scope,
			TopK:      req.TopK,
			Threshold: req.Threshold,
		},
		Model: a.completion.ResolveModel(req.Model),
	}

	if !req.Stream {
		answer, err := a.chat.Answer(c.Request.Context(), chatReq)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, answer)
		return
	}

	stream, err := a.chat.AnswerStream(c.Request.Context(), chatReq)
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer stream.Close()

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("citations", stream.Citations)
	c.Writer.Flush()
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			c.SSEvent("done", gin.H{"model": stream.Model})
			c.Writer.Flush()
			return
		}
		if err != nil {
			a.log.WithError(err).Warn("answer stream ended early")
			c.SSEvent("error", newErrorBody(err))
			c.Writer.Flush()
			return
		}
		c.SSEvent("delta", gin.H{"text": part})
		c.Writer.Flush()
	}
}
