package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"ragchat/internal/domain"
)

type collectionRequest struct {
	Name        string   `json:"name"`
	DocumentIDs []string `json:"document_ids"`
}

type membershipRequest struct {
	DocumentIDs []string `json:"document_ids" binding:"required"`
}

func (a *API) CreateCollectionHandler(c *gin.Context) {
	var req collectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload: "+err.Error())
		return
	}
	coll, err := a.collections.Create(req.Name, owner(c), req.DocumentIDs)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, coll)
}

func (a *API) ListCollectionsHandler(c *gin.Context) {
	colls, err := a.collections.List(owner(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	if colls == nil {
		colls = []domain.Collection{}
	}
	c.JSON(http.StatusOK, gin.H{"collections": colls})
}

func (a *API) GetCollectionHandler(c *gin.Context) {
	coll, err := a.collections.Get(c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, coll)
}

func (a *API) RenameCollectionHandler(c *gin.Context) {
	var req collectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload: "+err.Error())
		return
	}
	coll, err := a.collections.Rename(c.Param("id"), req.Name)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, coll)
}

func (a *API) DeleteCollectionHandler(c *gin.Context) {
	if err := a.collections.Delete(c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) AddCollectionDocumentsHandler(c *gin.Context) {
	var req membershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload: "+err.Error())
		return
	}
	coll, err := a.collections.AddDocuments(c.Param("id"), req.DocumentIDs...)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, coll)
}

func (a *API) RemoveCollectionDocumentHandler(c *gin.Context) {
	coll, err := a.collections.RemoveDocuments(c.Param("id"), c.Param("docID"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, coll)
}
