package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, title, analysis_status, is_active, created_at, updated_at, completed_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var status string
	if err := row.Scan(&s.ID, &s.Title, &status, &s.Active, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt); err != nil {
		return nil, err
	}
	s.AnalysisStatus = AnalysisStatus(status)
	return &s, nil
}

// CreateSession deactivates any active session and inserts a new active one
// in a single transaction.
func (db *DB) CreateSession(ctx context.Context, title string) (*Session, error) {
	var session *Session
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE chat_sessions SET is_active = FALSE, updated_at = NOW() WHERE is_active`); err != nil {
			return fmt.Errorf("failed to deactivate sessions: %w", err)
		}
		s, err := scanSession(tx.QueryRow(ctx,
			`INSERT INTO chat_sessions (id, title, is_active)
			 VALUES ($1, $2, TRUE)
			 RETURNING `+sessionColumns,
			uuid.New(), title,
		))
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// ActivateSession makes sessionID the only active session
func (db *DB) ActivateSession(ctx context.Context, sessionID uuid.UUID) error {
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE chat_sessions SET is_active = FALSE, updated_at = NOW() WHERE is_active AND id <> $1`, sessionID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE chat_sessions SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, sessionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to activate session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (db *DB) GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	s, err := scanSession(db.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetActiveSession returns the active session, if any
func (db *DB) GetActiveSession(ctx context.Context) (*Session, error) {
	s, err := scanSession(db.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE is_active LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return s, nil
}

// ListSessions returns the most recently updated sessions
func (db *DB) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions ORDER BY updated_at DESC LIMIT $1`,
		ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AddMessage appends a message to a session
func (db *DB) AddMessage(ctx context.Context, sessionID uuid.UUID, role Role, content string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	m := Message{ID: uuid.New(), SessionID: sessionID, Role: role, Content: content}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, chat_session_id, role, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		m.ID, sessionID, string(role), content,
	).Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	if _, err := db.pool.Exec(ctx, `UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	return &m, nil
}

// AddExcerpt appends a highlighted excerpt to a session
func (db *DB) AddExcerpt(ctx context.Context, e *Excerpt) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO highlighted_contexts (id, chat_session_id, document_id, document_title, page_number, selected_text)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		e.ID, e.SessionID, e.DocumentID, e.DocumentTitle, e.PageNumber, e.SelectedText,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add excerpt: %w", err)
	}
	return nil
}

// GetForAnalysis loads a session with its full transcript and excerpts
func (db *DB) GetForAnalysis(ctx context.Context, sessionID uuid.UUID) (*SessionSnapshot, error) {
	session, err := db.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}
	snap := &SessionSnapshot{Session: *session}

	rows, err := db.pool.Query(ctx,
		`SELECT id, chat_session_id, role, content, created_at
		 FROM chat_messages WHERE chat_session_id = $1
		 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = Role(role)
		snap.Messages = append(snap.Messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.pool.Query(ctx,
		`SELECT id, chat_session_id, document_id, document_title, page_number, selected_text, created_at
		 FROM highlighted_contexts WHERE chat_session_id = $1
		 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get excerpts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Excerpt
		if err := rows.Scan(&e.ID, &e.SessionID, &e.DocumentID, &e.DocumentTitle, &e.PageNumber, &e.SelectedText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan excerpt: %w", err)
		}
		snap.Excerpts = append(snap.Excerpts, e)
	}
	return snap, rows.Err()
}

// SetAnalysisStatus updates a session's analysis status. Entering processing
// also clears the active flag.
func (db *DB) SetAnalysisStatus(ctx context.Context, sessionID uuid.UUID, status AnalysisStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid analysis status %q", status)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE chat_sessions
		 SET analysis_status = $2,
		     is_active = CASE WHEN $2 = 'processing' THEN FALSE ELSE is_active END,
		     updated_at = NOW()
		 WHERE id = $1`,
		sessionID, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to set analysis status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RenameSession replaces a session's title
func (db *DB) RenameSession(ctx context.Context, sessionID uuid.UUID, title string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE chat_sessions SET title = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, title,
	)
	if err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EndSession marks a session inactive and stamps its completion time
func (db *DB) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE chat_sessions
		 SET is_active = FALSE, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
