package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultExpirationWindow is how long a session stays usable after creation
const DefaultExpirationWindow = 24 * time.Hour

// createRetries bounds retries when a generated session id collides with a
// live one. At 32 bits of id space a single retry is already overkill.
const createRetries = 3

// SessionService implements the SessionManager interface
type SessionService struct {
	store      SessionStore
	expiration time.Duration

	// now is swapped out by tests to pin the clock
	now func() time.Time
}

// NewSessionService creates a new session service. A non-positive expiration
// falls back to the default window.
func NewSessionService(store SessionStore, expiration time.Duration) *SessionService {
	if expiration <= 0 {
		expiration = DefaultExpirationWindow
	}
	return &SessionService{
		store:      store,
		expiration: expiration,
		now:        time.Now,
	}
}

// NewService creates a new session service (alias for NewSessionService)
func NewService(store SessionStore, expiration time.Duration) *SessionService {
	return NewSessionService(store, expiration)
}

// generateSessionID produces an 8-character lowercase hex id from a
// cryptographically strong random source
func generateSessionID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateSession creates a new session with the creator as its first
// participant. The creator always gets the interviewer role.
func (s *SessionService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	if req.Creator.ID == "" {
		return nil, NewValidationError("creator.id", "creator id is required")
	}
	if req.Creator.Name == "" {
		return nil, NewValidationError("creator.name", "creator name is required")
	}

	language := req.Language
	if language == "" {
		language = LanguageJavaScript
	}
	if !language.Valid() {
		return nil, NewValidationError("language", fmt.Sprintf("unsupported language %q", req.Language))
	}

	now := s.now().UnixMilli()

	for attempt := 0; attempt < createRetries; attempt++ {
		id, err := generateSessionID()
		if err != nil {
			return nil, err
		}

		session := &Session{
			ID:        id,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now + s.expiration.Milliseconds(),
			Code:      req.Code,
			Language:  language,
			CreatorID: req.Creator.ID,
		}
		creator := &Participant{
			ID:       req.Creator.ID,
			Name:     req.Creator.Name,
			Role:     RoleInterviewer,
			Color:    req.Creator.Color,
			JoinedAt: now,
			IsOnline: true,
		}

		err = s.store.CreateSession(ctx, session, creator)
		if err != nil {
			if IsSessionExists(err) {
				continue
			}
			return nil, err
		}

		creator.SessionID = id
		session.Participants = []*Participant{creator}
		return session, nil
	}

	return nil, fmt.Errorf("failed to create session: exhausted %d id generation attempts", createRetries)
}

// GetSession retrieves a session by id. Expiration is not checked here:
// callers that care must read the expiry themselves via IsExpired.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session id is required")
	}
	return s.store.GetSession(ctx, sessionID)
}

// IsExpired reports whether the session is at or past its expiry. Pure.
func (s *SessionService) IsExpired(session *Session) bool {
	return s.now().UnixMilli() >= session.ExpiresAt
}

// UpdateSession applies a merge-patch over code and language and bumps
// updated_at
func (s *SessionService) UpdateSession(ctx context.Context, sessionID string, req *UpdateSessionRequest) (*Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session id is required")
	}
	if req.Language != nil && !req.Language.Valid() {
		return nil, NewValidationError("language", fmt.Sprintf("unsupported language %q", *req.Language))
	}

	changes := SessionChanges{
		Code:      req.Code,
		Language:  req.Language,
		UpdatedAt: s.now().UnixMilli(),
	}
	return s.store.UpdateSession(ctx, sessionID, changes)
}

// DeleteSession removes a session and all of its participants
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return NewValidationError("session_id", "session id is required")
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// Join adds the user to the session as a candidate, or refreshes an already
// known participant (same id) in place without touching role or joined_at.
// Expired sessions cannot be joined.
func (s *SessionService) Join(ctx context.Context, sessionID string, user UserInfo) (*Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session id is required")
	}
	if user.ID == "" {
		return nil, NewValidationError("user.id", "user id is required")
	}
	if user.Name == "" {
		return nil, NewValidationError("user.name", "user name is required")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.IsExpired(session) {
		return nil, NewSessionExpiredError(sessionID)
	}

	now := s.now().UnixMilli()
	participant := &Participant{
		ID:       user.ID,
		Name:     user.Name,
		Role:     RoleCandidate,
		Color:    user.Color,
		JoinedAt: now,
		IsOnline: true,
	}
	if _, err := s.store.AddOrUpdateParticipant(ctx, sessionID, participant, now); err != nil {
		return nil, err
	}

	return s.store.GetSession(ctx, sessionID)
}

// SaveCode overwrites the session's code and language unconditionally.
// Concurrent saves race and the last write to commit wins.
func (s *SessionService) SaveCode(ctx context.Context, sessionID string, req *CodeSnapshotRequest) (*Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session id is required")
	}
	if !req.Language.Valid() {
		return nil, NewValidationError("language", fmt.Sprintf("unsupported language %q", req.Language))
	}

	changes := SessionChanges{
		Code:      &req.Code,
		Language:  &req.Language,
		UpdatedAt: s.now().UnixMilli(),
	}
	return s.store.UpdateSession(ctx, sessionID, changes)
}

// ListParticipants returns the session's participants. The session's
// existence is checked first; the store call alone cannot distinguish an
// unknown session from one with no participants.
func (s *SessionService) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session id is required")
	}

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListParticipants(ctx, sessionID)
}

// RemoveParticipant removes one participant from a session
func (s *SessionService) RemoveParticipant(ctx context.Context, sessionID, participantID string) error {
	if sessionID == "" {
		return NewValidationError("session_id", "session id is required")
	}
	if participantID == "" {
		return NewValidationError("participant_id", "participant id is required")
	}
	return s.store.RemoveParticipant(ctx, sessionID, participantID)
}

// UpdateParticipant applies a merge-patch to one participant
func (s *SessionService) UpdateParticipant(ctx context.Context, sessionID, participantID string, req *UpdateParticipantRequest) (*Participant, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session id is required")
	}
	if participantID == "" {
		return nil, NewValidationError("participant_id", "participant id is required")
	}

	changes := ParticipantChanges{
		IsOnline: req.IsOnline,
	}
	return s.store.UpdateParticipant(ctx, sessionID, participantID, changes)
}
