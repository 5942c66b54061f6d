package usecase

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

const (
	systemTemplate = "system_prompt.txt"
	userTemplate   = "user_prompt.txt"
)

// ChatRequest is one question plus optional earlier turns of the conversation.
type ChatRequest struct {
	Query domain.QueryRequest
	// Model overrides the completer's default when set.
	Model   string
	History []domain.Message
}

// AnswerStream is a streamed answer. Citations are known before the first
// fragment arrives.
type AnswerStream struct {
	port.Stream
	Model     string
	Citations []domain.Citation
}

// PromptData is what the prompt templates render.
type PromptData struct {
	Question string
	Blocks   []ContextBlock
}

// ChatUseCase answers questions from retrieved document context.
type ChatUseCase struct {
	retrieve  *RetrieveUseCase
	pack      *PackUseCase
	completer port.Completer
	prompts   *template.Template
	log       logrus.FieldLogger
}

// NewChatUseCase creates a chat use case with the embedded prompt templates.
func NewChatUseCase(retrieve *RetrieveUseCase, pack *PackUseCase, completer port.Completer, log logrus.FieldLogger) (*ChatUseCase, error) {
	prompts, err := template.New("prompts").Funcs(templateFuncs()).ParseFS(promptTemplates, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &ChatUseCase{
		retrieve:  retrieve,
		pack:      pack,
		completer: completer,
		prompts:   prompts,
		log:       log,
	}, nil
}

type prepared struct {
	model     string
	messages  []domain.Message
	citations []domain.Citation
}

// Answer retrieves context, asks the completion API and returns the whole
// answer with the chunks it was given.
func (u *ChatUseCase) Answer(ctx context.Context, req ChatRequest) (domain.Answer, error) {
	p, err := u.prepare(ctx, req)
	if err != nil {
		return domain.Answer{}, err
	}

	text, err := u.completer.Complete(ctx, port.CompletionRequest{Model: p.model, Messages: p.messages})
	if err != nil {
		return domain.Answer{}, err
	}

	return domain.Answer{
		Text:      text,
		Model:     p.model,
		Citations: p.citations,
	}, nil
}

// AnswerStream is Answer with the reply delivered as fragments. The caller
// must Close the stream.
func (u *ChatUseCase) AnswerStream(ctx context.Context, req ChatRequest) (*AnswerStream, error) {
	p, err := u.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	stream, err := u.completer.Stream(ctx, port.CompletionRequest{Model: p.model, Messages: p.messages})
	if err != nil {
		return nil, err
	}

	return &AnswerStream{
		Stream:    stream,
		Model:     p.model,
		Citations: p.citations,
	}, nil
}

func (u *ChatUseCase) prepare(ctx context.Context, req ChatRequest) (*prepared, error) {
	chunks, err := u.retrieve.Retrieve(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	packed := u.pack.Pack(chunks)

	data := PromptData{
		Question: req.Query.Text,
		Blocks:   packed.Blocks,
	}
	system, err := u.render(systemTemplate, data)
	if err != nil {
		return nil, err
	}
	user, err := u.render(userTemplate, data)
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(req.History)+2)
	messages = append(messages, domain.Message{Role: "system", Content: system})
	for _, m := range req.History {
		if m.Role == "system" {
			continue
		}
		messages = append(messages, m)
	}
	messages = append(messages, domain.Message{Role: "user", Content: user})

	model := req.Model
	if model == "" {
		model = u.completer.ModelName()
	}

	u.log.WithFields(logrus.Fields{
		"retrieved": len(chunks),
		"packed":    len(packed.Blocks),
		"dropped":   packed.Dropped,
		"used":      packed.Used,
		"unit":      packed.Unit,
		"model":     model,
	}).Debug("context assembled")

	return &prepared{model: model, messages: messages, citations: packed.Citations}, nil
}

func (u *ChatUseCase) render(name string, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := u.prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatBlocks": func(blocks []ContextBlock) string {
			var sb strings.Builder
			for _, b := range blocks {
				sb.WriteString(fmt.Sprintf("[%d] %s (page %d)\n", b.Index, b.DocumentName, b.Page))
				sb.WriteString(b.Text)
				sb.WriteString("\n\n")
			}
			return sb.String()
		},
	}
}
