// Package analysis drives a chat session through concept extraction:
// status bookkeeping, the extraction call, per-candidate matching and
// finalization.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/extraction"
	"github.com/geniusreads/conceptd/internal/lock"
	"github.com/geniusreads/conceptd/internal/logger"
	"github.com/geniusreads/conceptd/internal/matcher"
)

// SessionStore is the part of the session store the orchestrator uses
type SessionStore interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*db.Session, error)
	GetForAnalysis(ctx context.Context, sessionID uuid.UUID) (*db.SessionSnapshot, error)
	SetAnalysisStatus(ctx context.Context, sessionID uuid.UUID, status db.AnalysisStatus) error
	EndSession(ctx context.Context, sessionID uuid.UUID) error
}

// Matcher resolves a single candidate
type Matcher interface {
	Match(ctx context.Context, sessionID uuid.UUID, cand extraction.Candidate) (*matcher.Decision, error)
}

// Publisher receives the result of a successful analysis, e.g. a graph
// projection. Its failures never change the outcome.
type Publisher interface {
	PublishAnalysis(ctx context.Context, session *db.Session, decisions []*matcher.Decision) error
}

// Config holds orchestrator settings
type Config struct {
	Credential        string
	ExtractionTimeout time.Duration
}

// Orchestrator runs analyses
type Orchestrator struct {
	sessions  SessionStore
	extractor extraction.Extractor
	matcher   Matcher
	locker    lock.Locker
	publisher Publisher
	log       *logger.Logger
	cfg       Config
	tracer    trace.Tracer
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLocker rejects concurrent analyses of the same session
func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithPublisher forwards successful results to p
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// New creates an orchestrator
func New(sessions SessionStore, extractor extraction.Extractor, m Matcher, log *logger.Logger, cfg Config, opts ...Option) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = 2 * time.Minute
	}
	o := &Orchestrator{
		sessions:  sessions,
		extractor: extractor,
		matcher:   m,
		log:       log.With("component", "analysis"),
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/geniusreads/conceptd/internal/analysis"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze extracts concepts from a session and merges them into the concept
// population. The returned Outcome is never nil. When the error is non-nil
// and the session was touched, its status has been set to failed.
//
// Cancelling ctx does not abort a run in progress. Only the extraction
// timeout bounds it.
func (o *Orchestrator) Analyze(ctx context.Context, sessionID uuid.UUID) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{SessionID: sessionID}
	ctx = context.WithoutCancel(ctx)

	ctx, span := o.tracer.Start(ctx, "analysis.analyze", trace.WithAttributes(
		attribute.String("session.id", sessionID.String()),
	))
	defer span.End()

	err := o.analyze(ctx, sessionID, out)
	out.DurationMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int("concepts.created", out.NewConceptsCreated),
		attribute.Int("concepts.linked", out.ConceptsLinked),
		attribute.Int("relationships.created", out.RelationshipsCreated),
	)
	if err != nil {
		out.Success = false
		out.ErrorMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	out.Success = true
	return out, nil
}

func (o *Orchestrator) analyze(ctx context.Context, sessionID uuid.UUID, out *Outcome) error {
	log := o.log.With("session_id", sessionID)

	if o.extractor.RequiresCredential() && o.cfg.Credential == "" {
		log.Error("Refusing to analyze without an extraction credential")
		return ErrMissingCredential
	}

	if o.locker != nil {
		lease, err := o.locker.TryAcquire(ctx, lock.SessionKey(sessionID))
		if errors.Is(err, lock.ErrLocked) {
			log.Warn("Analysis already running")
			return ErrAnalysisInProgress
		}
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release session lock", "error", err)
			}
		}()
	}

	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return &PersistenceError{Op: "load session", Err: err}
	}
	if session == nil {
		return ErrSessionNotFound
	}

	if err := o.sessions.SetAnalysisStatus(ctx, sessionID, db.StatusProcessing); err != nil {
		return &PersistenceError{Op: "set status processing", Err: err}
	}
	log.Info("Analysis started", "previous_status", session.AnalysisStatus)

	decisions, err := o.run(ctx, sessionID, out, log)
	if err != nil {
		o.markFailed(ctx, sessionID, err, log)
		return err
	}

	if err := o.sessions.EndSession(ctx, sessionID); err != nil {
		err = &PersistenceError{Op: "end session", Err: err}
		o.markFailed(ctx, sessionID, err, log)
		return err
	}
	if err := o.sessions.SetAnalysisStatus(ctx, sessionID, db.StatusComplete); err != nil {
		err = &PersistenceError{Op: "set status complete", Err: err}
		o.markFailed(ctx, sessionID, err, log)
		return err
	}

	log.Info("Analysis complete",
		"created", out.NewConceptsCreated,
		"linked", out.ConceptsLinked,
		"relationships", out.RelationshipsCreated,
	)

	if o.publisher != nil && len(decisions) > 0 {
		if err := o.publisher.PublishAnalysis(ctx, session, decisions); err != nil {
			log.Warn("Failed to publish analysis to graph", "error", err)
		}
	}
	return nil
}

// run covers everything between the processing and terminal status writes
func (o *Orchestrator) run(ctx context.Context, sessionID uuid.UUID, out *Outcome, log *logger.Logger) ([]*matcher.Decision, error) {
	snap, err := o.sessions.GetForAnalysis(ctx, sessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "load transcript", Err: err}
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}

	resp, err := o.extract(ctx, snap)
	if err != nil {
		return nil, err
	}
	log.Info("Extraction finished", "candidates", len(resp.Concepts))

	decisions := make([]*matcher.Decision, 0, len(resp.Concepts))
	for _, cand := range resp.Concepts {
		d, err := o.matcher.Match(ctx, sessionID, cand)
		if d != nil {
			o.tally(out, d)
			decisions = append(decisions, d)
		}
		if err != nil {
			return decisions, &PersistenceError{Op: fmt.Sprintf("store concept %q", cand.Name), Err: err}
		}
	}
	return decisions, nil
}

func (o *Orchestrator) extract(ctx context.Context, snap *db.SessionSnapshot) (*extraction.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ExtractionTimeout)
	defer cancel()

	resp, err := o.extractor.Extract(ctx, &extraction.Request{
		SessionID:  snap.Session.ID,
		Messages:   snap.Messages,
		Excerpts:   snap.Excerpts,
		Credential: o.cfg.Credential,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ExtractionError{
				Message: fmt.Sprintf("extraction timed out after %s", o.cfg.ExtractionTimeout),
				Err:     context.DeadlineExceeded,
			}
		}
		return nil, &ExtractionError{Message: err.Error(), Err: err}
	}
	if resp == nil {
		return nil, &ExtractionError{Message: "extraction service returned no response"}
	}
	if !resp.Success {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "extraction failed"
		}
		return nil, &ExtractionError{Message: msg}
	}
	return resp, nil
}

func (o *Orchestrator) tally(out *Outcome, d *matcher.Decision) {
	if d.Created {
		out.NewConceptsCreated++
	} else {
		out.ConceptsLinked++
	}
	out.ConceptsLinked += len(d.Related)
	out.RelationshipsCreated += d.EdgesCreated()
	out.Concepts = append(out.Concepts, ConceptResult{
		ID:      d.ConceptID,
		Name:    d.Name,
		Created: d.Created,
		Related: len(d.Related),
	})
}

// markFailed writes the terminal failed status even if ctx was cancelled
func (o *Orchestrator) markFailed(ctx context.Context, sessionID uuid.UUID, cause error, log *logger.Logger) {
	log.Error("Analysis failed", "kind", Kind(cause), "error", cause)
	if err := o.sessions.SetAnalysisStatus(context.WithoutCancel(ctx), sessionID, db.StatusFailed); err != nil {
		log.Error("Failed to record failed status", "error", err)
	}
}
