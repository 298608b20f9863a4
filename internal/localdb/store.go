// Package localdb implements the concept and session stores on SQLite
// through gorm. It backs single-user installs and the package tests of the
// analysis pipeline.
package localdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/geniusreads/conceptd/internal/db"
)

// Store is a gorm-backed implementation of the concept and session stores
type Store struct {
	gdb *gorm.DB
}

type sessionRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	Title          string `gorm:"not null"`
	AnalysisStatus string `gorm:"size:16;not null;default:none;index"`
	IsActive       bool   `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (sessionRow) TableName() string { return "chat_sessions" }

type messageRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	ChatSessionID string `gorm:"size:36;not null;index"`
	Role          string `gorm:"size:16;not null"`
	Content       string `gorm:"not null"`
	CreatedAt     time.Time
}

func (messageRow) TableName() string { return "chat_messages" }

type excerptRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	ChatSessionID string `gorm:"size:36;not null;index"`
	DocumentID    string `gorm:"size:36;not null"`
	DocumentTitle string
	PageNumber    int
	SelectedText  string `gorm:"not null"`
	CreatedAt     time.Time
}

func (excerptRow) TableName() string { return "highlighted_contexts" }

type conceptRow struct {
	ID              string `gorm:"primaryKey;size:36"`
	Name            string `gorm:"not null"`
	NameKey         string `gorm:"not null;index"` // lower(trim(name))
	Description     string `gorm:"not null"`
	Tags            datatypes.JSON
	Embedding       datatypes.JSON // JSON array of float32, NULL until computed
	ConfidenceScore float64 `gorm:"not null;default:0.5"`
	SourceChatCount int     `gorm:"not null;default:1"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (conceptRow) TableName() string { return "concepts" }

type linkRow struct {
	ConceptID      string  `gorm:"primaryKey;size:36"`
	ChatSessionID  string  `gorm:"primaryKey;size:36;index"`
	RelevanceScore float64 `gorm:"not null"`
	CreatedAt      time.Time
}

func (linkRow) TableName() string { return "concept_chat_links" }

type relationshipRow struct {
	ID               string  `gorm:"primaryKey;size:36"`
	SourceConceptID  string  `gorm:"size:36;not null;uniqueIndex:idx_relationship_pair"`
	TargetConceptID  string  `gorm:"size:36;not null;uniqueIndex:idx_relationship_pair"`
	RelationshipType string  `gorm:"size:32;not null"`
	SimilarityScore  float64 `gorm:"not null"`
	CreatedAt        time.Time
}

func (relationshipRow) TableName() string { return "concept_relationships" }

// Open opens (creating if needed) the SQLite database at path and migrates
// it. An empty path or ":memory:" yields a private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers anyway, and an in-memory database exists per
	// connection, so a single connection keeps every caller on the same data.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{gdb: gdb}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.gdb.AutoMigrate(
		&sessionRow{}, &messageRow{}, &excerptRow{},
		&conceptRow{}, &linkRow{}, &relationshipRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	if err := s.gdb.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_sessions_single_active ON chat_sessions (is_active) WHERE is_active`,
	).Error; err != nil {
		return fmt.Errorf("failed to create active session index: %w", err)
	}
	return nil
}

// Close releases the underlying connection
func (s *Store) Close() error {
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func parseID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func encodeTags(tags []string) datatypes.JSON {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return datatypes.JSON(b)
}

func decodeTags(raw datatypes.JSON) []string {
	var tags []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &tags)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags
}

func encodeEmbedding(v *pgvector.Vector) datatypes.JSON {
	if v == nil || len(v.Slice()) == 0 {
		return nil
	}
	b, _ := json.Marshal(v.Slice())
	return datatypes.JSON(b)
}

func decodeEmbedding(raw datatypes.JSON) *pgvector.Vector {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var values []float32
	if err := json.Unmarshal(raw, &values); err != nil || len(values) == 0 {
		return nil
	}
	v := pgvector.NewVector(values)
	return &v
}

func (r *sessionRow) toSession() *db.Session {
	return &db.Session{
		ID:             parseID(r.ID),
		Title:          r.Title,
		AnalysisStatus: db.AnalysisStatus(r.AnalysisStatus),
		Active:         r.IsActive,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		CompletedAt:    r.CompletedAt,
	}
}

func (r *conceptRow) toConcept() *db.Concept {
	return &db.Concept{
		ID:              parseID(r.ID),
		Name:            r.Name,
		Description:     r.Description,
		Tags:            decodeTags(r.Tags),
		Embedding:       decodeEmbedding(r.Embedding),
		ConfidenceScore: r.ConfidenceScore,
		SourceChatCount: r.SourceChatCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
