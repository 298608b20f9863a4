package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geniusreads/conceptd/internal/analysis"
	"github.com/geniusreads/conceptd/internal/db"
)

type createSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled session"
	}
	session, err := s.store.CreateSession(c.Request.Context(), title)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionView(session))
}

func (s *Server) activeSession(c *gin.Context) {
	session, err := s.store.GetActiveSession(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if session == nil {
		respondError(c, http.StatusNotFound, "not_found", errors.New("no active session"))
		return
	}
	c.JSON(http.StatusOK, newSessionView(session))
}

// loadSession resolves the :id parameter and writes the error response
// itself when the session cannot be returned.
func (s *Server) loadSession(c *gin.Context) (*db.Session, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}
	session, err := s.store.GetSession(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return nil, false
	}
	if session == nil {
		respondError(c, http.StatusNotFound, "not_found", analysis.ErrSessionNotFound)
		return nil, false
	}
	return session, true
}

func (s *Server) getSession(c *gin.Context) {
	session, ok := s.loadSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newSessionView(session))
}

type renameSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *Server) renameSession(c *gin.Context) {
	session, ok := s.loadSession(c)
	if !ok {
		return
	}
	var req renameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", errors.New("title must not be blank"))
		return
	}
	if err := s.store.RenameSession(c.Request.Context(), session.ID, title); err != nil {
		respondStoreError(c, err)
		return
	}
	session.Title = title
	c.JSON(http.StatusOK, newSessionView(session))
}

type addMessageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (s *Server) addMessage(c *gin.Context) {
	session, ok := s.loadSession(c)
	if !ok {
		return
	}
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	role := db.Role(strings.ToLower(req.Role))
	if !role.Valid() {
		respondError(c, http.StatusBadRequest, "invalid_role", errors.New("role must be user or assistant"))
		return
	}
	msg, err := s.store.AddMessage(c.Request.Context(), session.ID, role, req.Content)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        msg.ID,
		"role":      msg.Role,
		"content":   msg.Content,
		"createdAt": msg.CreatedAt,
	})
}

type addExcerptRequest struct {
	DocumentID    uuid.UUID `json:"documentId"`
	DocumentTitle string    `json:"documentTitle"`
	PageNumber    int       `json:"pageNumber"`
	SelectedText  string    `json:"selectedText" binding:"required"`
}

func (s *Server) addExcerpt(c *gin.Context) {
	session, ok := s.loadSession(c)
	if !ok {
		return
	}
	var req addExcerptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	e := &db.Excerpt{
		SessionID:     session.ID,
		DocumentID:    req.DocumentID,
		DocumentTitle: req.DocumentTitle,
		PageNumber:    req.PageNumber,
		SelectedText:  req.SelectedText,
	}
	if err := s.store.AddExcerpt(c.Request.Context(), e); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": e.ID, "createdAt": e.CreatedAt})
}

func (s *Server) endSession(c *gin.Context) {
	session, ok := s.loadSession(c)
	if !ok {
		return
	}
	if err := s.store.EndSession(c.Request.Context(), session.ID); err != nil {
		respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) analyze(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	out, err := s.analyzer.Analyze(c.Request.Context(), id)
	if err != nil {
		s.log.Warn("Analyze request failed", "session_id", id, "kind", analysis.Kind(err), "error", err)
	}
	c.JSON(statusFor(analysis.Kind(err)), out)
}

func (s *Server) sessionConcepts(c *gin.Context) {
	session, ok := s.loadSession(c)
	if !ok {
		return
	}
	scored, err := s.store.ConceptsForSession(c.Request.Context(), session.ID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, newScoredViews(scored))
}

func (s *Server) listConcepts(c *gin.Context) {
	concepts, err := s.store.ListConcepts(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConceptViews(concepts))
}

func (s *Server) getConcept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	concept, err := s.store.GetConcept(ctx, id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if concept == nil {
		respondError(c, http.StatusNotFound, "not_found", db.ErrNotFound)
		return
	}
	rels, err := s.store.RelationshipsFor(ctx, id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	refs, err := s.store.SessionsForConcept(ctx, id)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	detail := conceptDetail{
		conceptView:   newConceptView(concept),
		Relationships: make([]relationshipView, 0, len(rels)),
		Sessions:      make([]sessionRefView, 0, len(refs)),
	}
	for _, r := range rels {
		detail.Relationships = append(detail.Relationships, relationshipView{
			TargetID:        r.TargetConceptID,
			Type:            r.RelationshipType,
			SimilarityScore: r.SimilarityScore,
		})
	}
	for _, r := range refs {
		detail.Sessions = append(detail.Sessions, sessionRefView{
			SessionID:      r.SessionID,
			Title:          r.Title,
			RelevanceScore: r.RelevanceScore,
		})
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) similarConcepts(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	threshold := queryFloat(c, "threshold", s.similarThreshold)
	scored, err := s.searcher.Similar(c.Request.Context(), id, threshold, queryInt(c, "limit", 10))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, newScoredViews(scored))
}

func (s *Server) searchConcepts(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", errors.New("q is required"))
		return
	}
	res, err := s.searcher.Query(c.Request.Context(), q, queryInt(c, "limit", 10))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": res.Mode, "concepts": newScoredViews(res.Concepts)})
}

func (s *Server) conceptSessionLink(c *gin.Context) {
	conceptID, ok := pathID(c)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", errBadID)
		return
	}
	ctx := c.Request.Context()
	concept, err := s.store.GetConcept(ctx, conceptID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if concept == nil {
		respondError(c, http.StatusNotFound, "not_found", db.ErrNotFound)
		return
	}
	ref, err := s.store.SessionLink(ctx, conceptID, sessionID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if ref == nil {
		respondError(c, http.StatusNotFound, "not_found", errors.New("concept is not linked to session"))
		return
	}
	c.JSON(http.StatusOK, linkView{
		ConceptID:          concept.ID,
		ConceptName:        concept.Name,
		ConceptDescription: concept.Description,
		sessionRefView: sessionRefView{
			SessionID:      ref.SessionID,
			Title:          ref.Title,
			RelevanceScore: ref.RelevanceScore,
		},
		LinkedAt: ref.LinkedAt,
	})
}
