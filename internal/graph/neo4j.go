// Package graph projects analysis results into Neo4j so the concept
// network can be explored with graph queries.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/logger"
	"github.com/geniusreads/conceptd/internal/matcher"
)

// Config selects the Neo4j instance
type Config struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// Publisher writes concepts, sessions and relationships to Neo4j
type Publisher struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// New connects to Neo4j. An empty URI disables the projection and returns
// a nil publisher.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Publisher, error) {
	if cfg.URI == "" {
		return nil, nil
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}

	p := &Publisher{driver: driver, database: cfg.Database, log: log.With("component", "graph")}
	p.ensureSchema(ctx)
	return p, nil
}

// Close releases the driver
func (p *Publisher) Close(ctx context.Context) error {
	if p == nil || p.driver == nil {
		return nil
	}
	return p.driver.Close(ctx)
}

func (p *Publisher) ensureSchema(ctx context.Context) {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: p.database})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT concept_id_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT chat_session_id_unique IF NOT EXISTS FOR (s:ChatSession) REQUIRE s.id IS UNIQUE`,
	} {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			// Restricted users may not create constraints; MERGE still works.
			p.log.Warn("Neo4j schema init failed, continuing", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

// payload is the parameter set for one analysis write
type payload struct {
	Session  map[string]any
	Concepts []map[string]any
	Edges    []map[string]any
}

func buildPayload(session *db.Session, decisions []*matcher.Decision, now time.Time) payload {
	syncedAt := now.UTC().Format(time.RFC3339Nano)
	p := payload{
		Session: map[string]any{
			"id":        session.ID.String(),
			"title":     session.Title,
			"synced_at": syncedAt,
		},
	}

	seenEdge := make(map[[2]string]bool)
	for _, d := range decisions {
		if d == nil {
			continue
		}
		p.Concepts = append(p.Concepts, map[string]any{
			"id":        d.ConceptID.String(),
			"name":      d.Name,
			"relevance": d.Relevance,
			"synced_at": syncedAt,
		})
		for _, e := range d.Edges {
			key := [2]string{e.SourceID.String(), e.TargetID.String()}
			if seenEdge[key] {
				continue
			}
			seenEdge[key] = true
			p.Edges = append(p.Edges, map[string]any{
				"from_id":    key[0],
				"to_id":      key[1],
				"similarity": e.Score,
				"synced_at":  syncedAt,
			})
		}
	}
	return p
}

// mergeRelatedCypher keeps the first similarity, matching the store where
// an existing (source, target) pair is never rescored.
const mergeRelatedCypher = `
UNWIND $edges AS e
MERGE (a:Concept {id: e.from_id})
MERGE (b:Concept {id: e.to_id})
MERGE (a)-[r:RELATED]->(b)
ON CREATE SET r.similarity = e.similarity
SET r.synced_at = e.synced_at
`

// PublishAnalysis merges the session, every touched concept and the
// related edges in a single write transaction.
func (p *Publisher) PublishAnalysis(ctx context.Context, session *db.Session, decisions []*matcher.Decision) error {
	if p == nil || p.driver == nil || session == nil {
		return nil
	}
	data := buildPayload(session, decisions, time.Now())

	s := p.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: p.database})
	defer s.Close(ctx)

	_, err := s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (s:ChatSession {id: $session.id})
SET s.title = $session.title, s.synced_at = $session.synced_at
WITH s
UNWIND $concepts AS c
MERGE (n:Concept {id: c.id})
SET n.name = c.name, n.synced_at = c.synced_at
MERGE (s)-[r:PRODUCED]->(n)
SET r.relevance = c.relevance
`, map[string]any{"session": data.Session, "concepts": data.Concepts})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(data.Edges) > 0 {
			res, err := tx.Run(ctx, mergeRelatedCypher, map[string]any{"edges": data.Edges})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish analysis to neo4j: %w", err)
	}

	p.log.Debug("Published analysis", "session_id", session.ID, "concepts", len(data.Concepts), "edges", len(data.Edges))
	return nil
}
