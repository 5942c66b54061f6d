package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

// UploadHandler accepts a multipart upload with a "file" part and optional
// "name" and "format" fields. Ingestion runs in the background.
func (a *API) UploadHandler(c *gin.Context) {
	if a.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), Kind: "InvalidArgument"})
			return
		}
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		a.writeError(c, err)
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = header.Filename
	}
	format := c.PostForm("format")
	if format == "" {
		format = formatHint(header.Filename, header.Header.Get("Content-Type"))
	}

	doc, err := a.docs.Upload(usecase.UploadRequest{
		Name:   name,
		Owner:  owner(c),
		Format: format,
		Data:   data,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.Header("Location", "/api/v1/documents/"+doc.ID)
	c.JSON(http.StatusAccepted, doc)
}

// ReplaceDocumentHandler re-uploads the raw request body under an existing
// or client-chosen id. The format comes from ?format= or Content-Type.
func (a *API) ReplaceDocumentHandler(c *gin.Context) {
	body := c.Request.Body
	if a.maxUpload > 0 {
		body = http.MaxBytesReader(c.Writer, body, a.maxUpload)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), Kind: "InvalidArgument"})
			return
		}
		a.writeError(c, err)
		return
	}

	id := c.Param("id")
	name := c.Query("name")
	if name == "" {
		if existing, err := a.docs.Get(id); err == nil {
			name = existing.Name
		} else {
			name = id
		}
	}
	format := c.Query("format")
	if format == "" {
		format = formatHint(name, c.ContentType())
	}

	doc, err := a.docs.Upload(usecase.UploadRequest{
		ID:     id,
		Name:   name,
		Owner:  owner(c),
		Format: format,
		Data:   data,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

// formatHint prefers a specific MIME type over the file extension.
func formatHint(filename, contentType string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if _, err := domain.ParseFormat(mediaType); err == nil {
			return mediaType
		}
	}
	return strings.TrimPrefix(filepath.Ext(filename), ".")
}

func (a *API) ListDocumentsHandler(c *gin.Context) {
	docs, err := a.docs.List(owner(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// GetDocumentHandler reports the ingestion status; Failed documents carry
// the error kind and message.
func (a *API) GetDocumentHandler(c *gin.Context) {
	doc, err := a.docs.Get(c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type chunkView struct {
	ID    string `json:"id"`
	Seq   int    `json:"seq"`
	Page  int    `json:"page"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

func (a *API) DocumentChunksHandler(c *gin.Context) {
	chunks, err := a.docs.Chunks(c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	out := make([]chunkView, len(chunks))
	for i, ch := range chunks {
		out[i] = chunkView{ID: ch.ID, Seq: ch.Seq, Page: ch.Page, Start: ch.Start, End: ch.End, Text: ch.Text}
	}
	c.JSON(http.StatusOK, gin.H{"chunks": out})
}

func (a *API) DeleteDocumentHandler(c *gin.Context) {
	if err := a.docs.Delete(c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) ReingestHandler(c *gin.Context) {
	doc, err := a.docs.Reingest(c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}
