package localdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/geniusreads/conceptd/internal/db"
)

// CreateSession deactivates any active session and inserts a new active one
// in a single transaction.
func (s *Store) CreateSession(ctx context.Context, title string) (*db.Session, error) {
	now := time.Now()
	row := sessionRow{
		ID:             uuid.NewString(),
		Title:          title,
		AnalysisStatus: string(db.StatusNone),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sessionRow{}).Where("is_active = ?", true).
			Updates(map[string]any{"is_active": false, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("deactivate sessions: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return row.toSession(), nil
}

// ActivateSession makes sessionID the only active session
func (s *Store) ActivateSession(ctx context.Context, sessionID uuid.UUID) error {
	now := time.Now()
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sessionRow{}).Where("is_active = ? AND id <> ?", true, sessionID.String()).
			Updates(map[string]any{"is_active": false, "updated_at": now}).Error; err != nil {
			return err
		}
		res := tx.Model(&sessionRow{}).Where("id = ?", sessionID.String()).
			Updates(map[string]any{"is_active": true, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return db.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to activate session: %w", err)
	}
	return nil
}

func (s *Store) findSession(ctx context.Context, query string, args ...any) (*db.Session, error) {
	var row sessionRow
	err := s.gdb.WithContext(ctx).Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toSession(), nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*db.Session, error) {
	session, err := s.findSession(ctx, "id = ?", sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetActiveSession returns the active session, if any
func (s *Store) GetActiveSession(ctx context.Context) (*db.Session, error) {
	session, err := s.findSession(ctx, "is_active = ?", true)
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

// ListSessions returns the most recently updated sessions
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*db.Session, error) {
	var rows []sessionRow
	if err := s.gdb.WithContext(ctx).Order("updated_at DESC").Limit(db.ClampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]*db.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].toSession())
	}
	return sessions, nil
}

// AddMessage appends a message to a session
func (s *Store) AddMessage(ctx context.Context, sessionID uuid.UUID, role db.Role, content string) (*db.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	row := messageRow{
		ID:            uuid.NewString(),
		ChatSessionID: sessionID.String(),
		Role:          string(role),
		Content:       content,
		CreatedAt:     time.Now(),
	}
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&sessionRow{}).Where("id = ?", row.ChatSessionID).
			Update("updated_at", row.CreatedAt).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	return &db.Message{
		ID:        parseID(row.ID),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: row.CreatedAt,
	}, nil
}

// AddExcerpt appends a highlighted excerpt to a session
func (s *Store) AddExcerpt(ctx context.Context, e *db.Excerpt) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	row := excerptRow{
		ID:            e.ID.String(),
		ChatSessionID: e.SessionID.String(),
		DocumentID:    e.DocumentID.String(),
		DocumentTitle: e.DocumentTitle,
		PageNumber:    e.PageNumber,
		SelectedText:  e.SelectedText,
		CreatedAt:     e.CreatedAt,
	}
	if err := s.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to add excerpt: %w", err)
	}
	return nil
}

// GetForAnalysis loads a session with its full transcript and excerpts
func (s *Store) GetForAnalysis(ctx context.Context, sessionID uuid.UUID) (*db.SessionSnapshot, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}
	snap := &db.SessionSnapshot{Session: *session}

	var messages []messageRow
	if err := s.gdb.WithContext(ctx).Where("chat_session_id = ?", sessionID.String()).
		Order("created_at, rowid").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	for _, m := range messages {
		snap.Messages = append(snap.Messages, db.Message{
			ID:        parseID(m.ID),
			SessionID: sessionID,
			Role:      db.Role(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}

	var excerpts []excerptRow
	if err := s.gdb.WithContext(ctx).Where("chat_session_id = ?", sessionID.String()).
		Order("created_at, rowid").Find(&excerpts).Error; err != nil {
		return nil, fmt.Errorf("failed to get excerpts: %w", err)
	}
	for _, e := range excerpts {
		snap.Excerpts = append(snap.Excerpts, db.Excerpt{
			ID:            parseID(e.ID),
			SessionID:     sessionID,
			DocumentID:    parseID(e.DocumentID),
			DocumentTitle: e.DocumentTitle,
			PageNumber:    e.PageNumber,
			SelectedText:  e.SelectedText,
			CreatedAt:     e.CreatedAt,
		})
	}
	return snap, nil
}

// SetAnalysisStatus updates a session's analysis status. Entering processing
// also clears the active flag.
func (s *Store) SetAnalysisStatus(ctx context.Context, sessionID uuid.UUID, status db.AnalysisStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid analysis status %q", status)
	}
	updates := map[string]any{
		"analysis_status": string(status),
		"updated_at":      time.Now(),
	}
	if status == db.StatusProcessing {
		updates["is_active"] = false
	}
	res := s.gdb.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sessionID.String()).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to set analysis status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return db.ErrNotFound
	}
	return nil
}

// RenameSession replaces a session's title
func (s *Store) RenameSession(ctx context.Context, sessionID uuid.UUID, title string) error {
	res := s.gdb.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sessionID.String()).
		Updates(map[string]any{"title": title, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to rename session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return db.ErrNotFound
	}
	return nil
}

// EndSession marks a session inactive and stamps its completion time
func (s *Store) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	now := time.Now()
	res := s.gdb.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sessionID.String()).
		Updates(map[string]any{"is_active": false, "completed_at": now, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to end session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return db.ErrNotFound
	}
	return nil
}
