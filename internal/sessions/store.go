package sessions

import (
	"context"
	"sync"
)

// InMemoryStore implements SessionStore with process-local maps. It backs
// the test suite and the dependency-free development mode.
type InMemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	participants map[string]map[string]*Participant
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:     make(map[string]*Session),
		participants: make(map[string]map[string]*Participant),
	}
}

// CreateSession creates a new session with its first participant
func (s *InMemoryStore) CreateSession(ctx context.Context, session *Session, creator *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return NewSessionExistsError(session.ID)
	}

	stored := *session
	stored.Participants = nil
	s.sessions[session.ID] = &stored

	p := *creator
	p.SessionID = session.ID
	s.participants[session.ID] = map[string]*Participant{p.ID: &p}

	return nil
}

// GetSession retrieves a session with its participants
func (s *InMemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.sessions[sessionID]
	if !exists {
		return nil, NewSessionNotFoundError(sessionID)
	}

	session := *stored
	session.Participants = s.participantsLocked(sessionID)
	return &session, nil
}

// UpdateSession applies a merge-patch to a session
func (s *InMemoryStore) UpdateSession(ctx context.Context, sessionID string, changes SessionChanges) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sessions[sessionID]
	if !exists {
		return nil, NewSessionNotFoundError(sessionID)
	}

	if changes.Code != nil {
		stored.Code = *changes.Code
	}
	if changes.Language != nil {
		stored.Language = *changes.Language
	}
	stored.UpdatedAt = changes.UpdatedAt

	session := *stored
	session.Participants = s.participantsLocked(sessionID)
	return &session, nil
}

// DeleteSession removes a session and all of its participants
func (s *InMemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return NewSessionNotFoundError(sessionID)
	}

	delete(s.sessions, sessionID)
	delete(s.participants, sessionID)
	return nil
}

// AddOrUpdateParticipant upserts a participant and bumps the session's updated_at
func (s *InMemoryStore) AddOrUpdateParticipant(ctx context.Context, sessionID string, participant *Participant, updatedAt int64) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, NewSessionNotFoundError(sessionID)
	}

	group := s.participants[sessionID]
	if group == nil {
		group = make(map[string]*Participant)
		s.participants[sessionID] = group
	}

	if existing, ok := group[participant.ID]; ok {
		// Idempotent re-join: role and joined_at are fixed at first join
		existing.Name = participant.Name
		existing.Color = participant.Color
		existing.IsOnline = participant.IsOnline
	} else {
		p := *participant
		p.SessionID = sessionID
		group[p.ID] = &p
	}
	session.UpdatedAt = updatedAt

	result := *group[participant.ID]
	return &result, nil
}

// ListParticipants returns the participants of a session ordered by join time
func (s *InMemoryStore) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.participantsLocked(sessionID), nil
}

// RemoveParticipant removes one participant from a session
func (s *InMemoryStore) RemoveParticipant(ctx context.Context, sessionID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := s.participants[sessionID]
	if _, ok := group[participantID]; !ok {
		return NewParticipantNotFoundError(sessionID, participantID)
	}

	delete(group, participantID)
	return nil
}

// UpdateParticipant applies a merge-patch to one participant
func (s *InMemoryStore) UpdateParticipant(ctx context.Context, sessionID, participantID string, changes ParticipantChanges) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := s.participants[sessionID]
	stored, ok := group[participantID]
	if !ok {
		return nil, NewParticipantNotFoundError(sessionID, participantID)
	}

	if changes.IsOnline != nil {
		stored.IsOnline = *changes.IsOnline
	}

	result := *stored
	return &result, nil
}

// participantsLocked copies out a session's participants sorted by joined_at
// then id. Callers must hold s.mu.
func (s *InMemoryStore) participantsLocked(sessionID string) []*Participant {
	group := s.participants[sessionID]
	result := make([]*Participant, 0, len(group))
	for _, p := range group {
		copied := *p
		result = append(result, &copied)
	}
	sortParticipants(result)
	return result
}
