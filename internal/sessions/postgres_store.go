package sessions

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/uptrace/bun"
)

// PostgresStore implements SessionStore with PostgreSQL storage
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

// SessionSchema represents the sessions table schema
type SessionSchema struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID        string `bun:"id,pk" json:"id"`
	CreatedAt int64  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt int64  `bun:"updated_at,notnull" json:"updated_at"`
	ExpiresAt int64  `bun:"expires_at,notnull" json:"expires_at"`
	Code      string `bun:"code,notnull,default:''" json:"code"`
	Language  string `bun:"language,notnull" json:"language"`
	CreatorID string `bun:"creator_id,notnull" json:"creator_id"`
}

// ParticipantSchema represents the participants table schema. The primary
// key is (session_id, id): a participant id is only unique within a session.
type ParticipantSchema struct {
	bun.BaseModel `bun:"table:participants,alias:p"`

	SessionID string `bun:"session_id,pk" json:"session_id"`
	ID        string `bun:"id,pk" json:"id"`
	Name      string `bun:"name,notnull" json:"name"`
	Role      string `bun:"role,notnull" json:"role"`
	Color     string `bun:"color,notnull" json:"color"`
	JoinedAt  int64  `bun:"joined_at,notnull" json:"joined_at"`
	IsOnline  bool   `bun:"is_online,notnull,default:true" json:"is_online"`
}

// Initialize creates the tables if they do not exist yet
func (s *PostgresStore) Initialize(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*SessionSchema)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return NewStorageError("create sessions table", err)
	}

	if _, err := s.db.NewCreateTable().
		Model((*ParticipantSchema)(nil)).
		IfNotExists().
		ForeignKey(`("session_id") REFERENCES "sessions" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return NewStorageError("create participants table", err)
	}

	return nil
}

// CreateSession inserts a session and its creator in one transaction
func (s *PostgresStore) CreateSession(ctx context.Context, session *Session, creator *Participant) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		sessionSchema := sessionToSchema(session)
		if _, err := tx.NewInsert().Model(&sessionSchema).Exec(ctx); err != nil {
			return err
		}

		participantSchema := participantToSchema(session.ID, creator)
		if _, err := tx.NewInsert().Model(&participantSchema).Exec(ctx); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return NewSessionExistsError(session.ID)
		}
		return NewStorageError("create session", err)
	}

	return nil
}

// GetSession retrieves a session with its participants
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var schema SessionSchema
	err := s.db.NewSelect().
		Model(&schema).
		Where("id = ?", sessionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewSessionNotFoundError(sessionID)
		}
		return nil, NewStorageError("get session", err)
	}

	participants, err := s.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session := schemaToSession(schema)
	session.Participants = participants
	return session, nil
}

// UpdateSession applies a merge-patch to a session
func (s *PostgresStore) UpdateSession(ctx context.Context, sessionID string, changes SessionChanges) (*Session, error) {
	query := s.db.NewUpdate().
		Model((*SessionSchema)(nil)).
		Where("id = ?", sessionID).
		Set("updated_at = ?", changes.UpdatedAt)

	if changes.Code != nil {
		query = query.Set("code = ?", *changes.Code)
	}
	if changes.Language != nil {
		query = query.Set("language = ?", string(*changes.Language))
	}

	result, err := query.Exec(ctx)
	if err != nil {
		return nil, NewStorageError("update session", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, NewStorageError("update session", err)
	}
	if rowsAffected == 0 {
		return nil, NewSessionNotFoundError(sessionID)
	}

	return s.GetSession(ctx, sessionID)
}

// DeleteSession removes a session; the FK cascades to its participants
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := s.db.NewDelete().
		Model((*SessionSchema)(nil)).
		Where("id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return NewStorageError("delete session", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return NewStorageError("delete session", err)
	}
	if rowsAffected == 0 {
		return NewSessionNotFoundError(sessionID)
	}

	return nil
}

// AddOrUpdateParticipant upserts a participant and bumps the session's
// updated_at inside one transaction. An existing row keeps its role and
// joined_at and only has name, color and is_online overwritten.
func (s *PostgresStore) AddOrUpdateParticipant(ctx context.Context, sessionID string, participant *Participant, updatedAt int64) (*Participant, error) {
	var stored ParticipantSchema

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*SessionSchema)(nil)).
			Where("id = ?", sessionID).
			Set("updated_at = ?", updatedAt).
			Exec(ctx)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return NewSessionNotFoundError(sessionID)
		}

		schema := participantToSchema(sessionID, participant)
		_, err = tx.NewInsert().
			Model(&schema).
			On("CONFLICT (session_id, id) DO UPDATE").
			Set("name = EXCLUDED.name").
			Set("color = EXCLUDED.color").
			Set("is_online = EXCLUDED.is_online").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return err
		}

		stored = schema
		return nil
	})
	if err != nil {
		if IsSessionNotFound(err) {
			return nil, err
		}
		return nil, NewStorageError("add participant", err)
	}

	return schemaToParticipant(stored), nil
}

// ListParticipants returns the participants of a session ordered by join time
func (s *PostgresStore) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	var schemas []ParticipantSchema
	err := s.db.NewSelect().
		Model(&schemas).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, NewStorageError("list participants", err)
	}

	participants := make([]*Participant, 0, len(schemas))
	for _, schema := range schemas {
		participants = append(participants, schemaToParticipant(schema))
	}
	return participants, nil
}

// RemoveParticipant removes one participant from a session
func (s *PostgresStore) RemoveParticipant(ctx context.Context, sessionID, participantID string) error {
	result, err := s.db.NewDelete().
		Model((*ParticipantSchema)(nil)).
		Where("session_id = ?", sessionID).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return NewStorageError("remove participant", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return NewStorageError("remove participant", err)
	}
	if rowsAffected == 0 {
		return NewParticipantNotFoundError(sessionID, participantID)
	}

	return nil
}

// UpdateParticipant applies a merge-patch to one participant. A patch with
// no fields set reads the participant back unchanged.
func (s *PostgresStore) UpdateParticipant(ctx context.Context, sessionID, participantID string, changes ParticipantChanges) (*Participant, error) {
	if changes.IsOnline != nil {
		result, err := s.db.NewUpdate().
			Model((*ParticipantSchema)(nil)).
			Where("session_id = ?", sessionID).
			Where("id = ?", participantID).
			Set("is_online = ?", *changes.IsOnline).
			Exec(ctx)
		if err != nil {
			return nil, NewStorageError("update participant", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, NewStorageError("update participant", err)
		}
		if rowsAffected == 0 {
			return nil, NewParticipantNotFoundError(sessionID, participantID)
		}
	}

	var schema ParticipantSchema
	err := s.db.NewSelect().
		Model(&schema).
		Where("session_id = ?", sessionID).
		Where("id = ?", participantID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewParticipantNotFoundError(sessionID, participantID)
		}
		return nil, NewStorageError("update participant", err)
	}

	return schemaToParticipant(schema), nil
}

// Conversion helpers between domain models and table schemas

func sessionToSchema(session *Session) SessionSchema {
	return SessionSchema{
		ID:        session.ID,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		ExpiresAt: session.ExpiresAt,
		Code:      session.Code,
		Language:  string(session.Language),
		CreatorID: session.CreatorID,
	}
}

func schemaToSession(schema SessionSchema) *Session {
	return &Session{
		ID:        schema.ID,
		CreatedAt: schema.CreatedAt,
		UpdatedAt: schema.UpdatedAt,
		ExpiresAt: schema.ExpiresAt,
		Code:      schema.Code,
		Language:  Language(schema.Language),
		CreatorID: schema.CreatorID,
	}
}

func participantToSchema(sessionID string, participant *Participant) ParticipantSchema {
	return ParticipantSchema{
		SessionID: sessionID,
		ID:        participant.ID,
		Name:      participant.Name,
		Role:      string(participant.Role),
		Color:     participant.Color,
		JoinedAt:  participant.JoinedAt,
		IsOnline:  participant.IsOnline,
	}
}

func schemaToParticipant(schema ParticipantSchema) *Participant {
	return &Participant{
		ID:        schema.ID,
		SessionID: schema.SessionID,
		Name:      schema.Name,
		Role:      Role(schema.Role),
		Color:     schema.Color,
		JoinedAt:  schema.JoinedAt,
		IsOnline:  schema.IsOnline,
	}
}
