// Package api exposes the gateway over HTTP: the native /api/v1 surface
// and an OpenAI-compatible /v1 surface for existing chat UIs.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"ragchat/config"
	"ragchat/internal/usecase"
)

// HeaderOwner carries the caller identity set by the fronting proxy.
const HeaderOwner = "X-Owner"

// Deps are the use cases the handlers call.
type Deps struct {
	Documents      *usecase.DocumentUseCase
	Collections    *usecase.CollectionUseCase
	Chat           *usecase.ChatUseCase
	Completion     config.CompletionConfig
	MaxUploadBytes int64
	Log            logrus.FieldLogger
}

// API provides the HTTP handlers.
type API struct {
	docs        *usecase.DocumentUseCase
	collections *usecase.CollectionUseCase
	chat        *usecase.ChatUseCase
	completion  config.CompletionConfig
	maxUpload   int64
	log         logrus.FieldLogger
	startedAt   time.Time
}

func NewAPI(deps Deps) *API {
	return &API{
		docs:        deps.Documents,
		collections: deps.Collections,
		chat:        deps.Chat,
		completion:  deps.Completion,
		maxUpload:   deps.MaxUploadBytes,
		log:         deps.Log,
		startedAt:   time.Now(),
	}
}

// NewRouter builds the engine. gin's own logger is used in debug mode and
// a structured request logger otherwise.
func NewRouter(a *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if gin.Mode() == gin.DebugMode {
		router.Use(gin.Logger())
	} else {
		router.Use(RequestLogger(a.log))
	}
	RegisterRoutes(router, a)
	return router
}

// RegisterRoutes registers all the routes of the gateway.
func RegisterRoutes(router *gin.Engine, a *API) {
	router.GET("/", a.RootHandler)
	router.GET("/health", a.HealthHandler)

	openai := router.Group("/v1")
	openai.Use(OwnerMiddleware())
	{
		openai.GET("/models", a.ListModelsHandler)
		openai.POST("/chat/completions", a.ChatCompletionsHandler)
	}

	v1 := router.Group("/api/v1")
	v1.Use(OwnerMiddleware())

	docs := v1.Group("/documents")
	{
		docs.POST("", a.UploadHandler)
		docs.GET("", a.ListDocumentsHandler)
		docs.GET("/:id", a.GetDocumentHandler)
		docs.PUT("/:id", a.ReplaceDocumentHandler)
		docs.DELETE("/:id", a.DeleteDocumentHandler)
		docs.GET("/:id/chunks", a.DocumentChunksHandler)
		docs.POST("/:id/reingest", a.ReingestHandler)
	}

	v1.POST("/chat", a.ChatHandler)

	colls := v1.Group("/collections")
	{
		colls.POST("", a.CreateCollectionHandler)
		colls.GET("", a.ListCollectionsHandler)
		colls.GET("/:id", a.GetCollectionHandler)
		colls.PATCH("/:id", a.RenameCollectionHandler)
		colls.DELETE("/:id", a.DeleteCollectionHandler)
		colls.POST("/:id/documents", a.AddCollectionDocumentsHandler)
		colls.DELETE("/:id/documents/:docID", a.RemoveCollectionDocumentHandler)
	}
}
