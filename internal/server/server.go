// Package server exposes sessions, analysis and concept retrieval over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geniusreads/conceptd/internal/analysis"
	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/logger"
	"github.com/geniusreads/conceptd/internal/search"
)

// Store is the session and concept surface the API reads and appends to
type Store interface {
	CreateSession(ctx context.Context, title string) (*db.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*db.Session, error)
	GetActiveSession(ctx context.Context) (*db.Session, error)
	AddMessage(ctx context.Context, sessionID uuid.UUID, role db.Role, content string) (*db.Message, error)
	AddExcerpt(ctx context.Context, e *db.Excerpt) error
	RenameSession(ctx context.Context, sessionID uuid.UUID, title string) error
	EndSession(ctx context.Context, sessionID uuid.UUID) error
	ConceptsForSession(ctx context.Context, sessionID uuid.UUID) ([]db.ScoredConcept, error)

	GetConcept(ctx context.Context, id uuid.UUID) (*db.Concept, error)
	ListConcepts(ctx context.Context, limit int) ([]*db.Concept, error)
	RelationshipsFor(ctx context.Context, conceptID uuid.UUID) ([]db.ConceptRelationship, error)
	SessionsForConcept(ctx context.Context, conceptID uuid.UUID) ([]db.SessionRef, error)
	SessionLink(ctx context.Context, conceptID, sessionID uuid.UUID) (*db.SessionRef, error)
}

// Analyzer runs concept extraction for a session
type Analyzer interface {
	Analyze(ctx context.Context, sessionID uuid.UUID) (*analysis.Outcome, error)
}

// Searcher retrieves concepts
type Searcher interface {
	Similar(ctx context.Context, conceptID uuid.UUID, threshold float64, limit int) ([]db.ScoredConcept, error)
	Query(ctx context.Context, text string, limit int) (*search.Result, error)
}

// Options configures the server
type Options struct {
	Store          Store
	Analyzer       Analyzer
	Searcher       Searcher
	Log            *logger.Logger
	AllowedOrigins []string
	// SimilarThreshold is used when a similar-concepts request omits one
	SimilarThreshold float64
}

// Server is the HTTP API
type Server struct {
	store            Store
	analyzer         Analyzer
	searcher         Searcher
	log              *logger.Logger
	similarThreshold float64
	router           *gin.Engine
}

// New builds the router
func New(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Analyzer == nil || opts.Searcher == nil {
		return nil, errors.New("server: store, analyzer and searcher are required")
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	s := &Server{
		store:            opts.Store,
		analyzer:         opts.Analyzer,
		searcher:         opts.Searcher,
		log:              opts.Log.With("component", "server"),
		similarThreshold: opts.SimilarThreshold,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if len(opts.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: opts.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes(router)
	s.router = router
	return s, nil
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("HTTP server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	sessions := api.Group("/sessions")
	sessions.POST("", s.createSession)
	sessions.GET("/active", s.activeSession)
	sessions.GET("/:id", s.getSession)
	sessions.PATCH("/:id", s.renameSession)
	sessions.POST("/:id/messages", s.addMessage)
	sessions.POST("/:id/excerpts", s.addExcerpt)
	sessions.POST("/:id/end", s.endSession)
	sessions.POST("/:id/analyze", s.analyze)
	sessions.GET("/:id/concepts", s.sessionConcepts)

	concepts := api.Group("/concepts")
	concepts.GET("", s.listConcepts)
	concepts.GET("/search", s.searchConcepts)
	concepts.GET("/:id", s.getConcept)
	concepts.GET("/:id/similar", s.similarConcepts)
	concepts.GET("/:id/sessions/:sessionId", s.conceptSessionLink)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
