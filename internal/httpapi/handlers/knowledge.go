package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mas-assistant/internal/common"
	"github.com/suPer8Hu/mas-assistant/internal/knowledge"
)

func (h *Handler) requireKnowledge(c *gin.Context) bool {
	if h.Knowledge == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "knowledge base disabled")
		return false
	}
	return true
}

func (h *Handler) KnowledgeCategories(c *gin.Context) {
	if !h.requireKnowledge(c) {
		return
	}
	common.OK(c, gin.H{"categories": h.Knowledge.Categories()})
}

// KnowledgeDocuments lists documents, filtered by ?category= or ?tags=a,b.
func (h *Handler) KnowledgeDocuments(c *gin.Context) {
	if !h.requireKnowledge(c) {
		return
	}
	var docs []knowledge.Document
	switch {
	case c.Query("category") != "":
		docs = h.Knowledge.SearchByCategory(knowledge.Category(strings.ToLower(c.Query("category"))))
	case c.Query("tags") != "":
		docs = h.Knowledge.SearchByTags(strings.Split(c.Query("tags"), ","))
	default:
		docs = h.Knowledge.Documents()
	}
	common.OK(c, gin.H{"documents": docs})
}

func (h *Handler) KnowledgeDocument(c *gin.Context) {
	if !h.requireKnowledge(c) {
		return
	}
	doc, err := h.Knowledge.Document(c.Param("doc_id"))
	if errors.Is(err, knowledge.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, 40004, "document not found")
		return
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, doc)
}

type searchReq struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

func (h *Handler) KnowledgeSearch(c *gin.Context) {
	if !h.requireKnowledge(c) {
		return
	}
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	scored, err := h.Knowledge.FindRelevant(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		h.logger(c).Warn("knowledge search failed", "error", err)
		common.Fail(c, http.StatusBadGateway, 50201, "embedding service unavailable")
		return
	}
	results := make([]gin.H, 0, len(scored))
	for _, sd := range scored {
		results = append(results, gin.H{"document": sd.Document, "similarity": sd.Similarity})
	}
	common.OK(c, gin.H{"results": results})
}

func (h *Handler) KnowledgeAdd(c *gin.Context) {
	if !h.requireKnowledge(c) {
		return
	}
	var doc knowledge.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	stored, err := h.Knowledge.AddDocument(c.Request.Context(), doc)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		return
	}
	common.OK(c, stored)
}
