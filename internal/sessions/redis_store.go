package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix namespaces session records in Redis
const sessionKeyPrefix = "session:"

// recordGracePeriod keeps expired records readable for a while so reads can
// still distinguish an expired session from one that never existed. Actual
// removal from Redis is storage reclamation only; expiry is always decided
// from the expires_at field.
const recordGracePeriod = 24 * time.Hour

// RedisStore implements SessionStore on a Redis instance. The whole session,
// participants included, lives in a single JSON value, so every mutation is
// a read-modify-write. The service runs in a single process, so an in-process
// mutex is enough to keep those cycles atomic per call.
type RedisStore struct {
	mu     sync.Mutex
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// Ping verifies connectivity to the Redis instance
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return NewStorageError("ping redis", err)
	}
	return nil
}

// CreateSession stores a session with its first participant
func (s *RedisStore) CreateSession(ctx context.Context, session *Session, creator *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.client.Exists(ctx, sessionKeyPrefix+session.ID).Result()
	if err != nil {
		return NewStorageError("create session", err)
	}
	if exists > 0 {
		return NewSessionExistsError(session.ID)
	}

	record := *session
	p := *creator
	p.SessionID = session.ID
	record.Participants = []*Participant{&p}

	return s.setLocked(ctx, &record)
}

// GetSession retrieves a session with its participants
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(ctx, sessionID)
}

// UpdateSession applies a merge-patch to a session
func (s *RedisStore) UpdateSession(ctx context.Context, sessionID string, changes SessionChanges) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if changes.Code != nil {
		session.Code = *changes.Code
	}
	if changes.Language != nil {
		session.Language = *changes.Language
	}
	session.UpdatedAt = changes.UpdatedAt

	if err := s.setLocked(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session; participants live inside the same record
// so the cascade is implicit
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.client.Del(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return NewStorageError("delete session", err)
	}
	if removed == 0 {
		return NewSessionNotFoundError(sessionID)
	}
	return nil
}

// AddOrUpdateParticipant upserts a participant and bumps the session's updated_at
func (s *RedisStore) AddOrUpdateParticipant(ctx context.Context, sessionID string, participant *Participant, updatedAt int64) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var stored *Participant
	for _, existing := range session.Participants {
		if existing.ID == participant.ID {
			existing.Name = participant.Name
			existing.Color = participant.Color
			existing.IsOnline = participant.IsOnline
			stored = existing
			break
		}
	}
	if stored == nil {
		p := *participant
		p.SessionID = sessionID
		session.Participants = append(session.Participants, &p)
		stored = &p
	}
	session.UpdatedAt = updatedAt
	sortParticipants(session.Participants)

	if err := s.setLocked(ctx, session); err != nil {
		return nil, err
	}

	result := *stored
	return &result, nil
}

// ListParticipants returns the participants of a session ordered by join time
func (s *RedisStore) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLocked(ctx, sessionID)
	if err != nil {
		if IsSessionNotFound(err) {
			// The store alone does not distinguish absent from empty
			return []*Participant{}, nil
		}
		return nil, err
	}
	return session.Participants, nil
}

// RemoveParticipant removes one participant from a session
func (s *RedisStore) RemoveParticipant(ctx context.Context, sessionID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLocked(ctx, sessionID)
	if err != nil {
		if IsSessionNotFound(err) {
			return NewParticipantNotFoundError(sessionID, participantID)
		}
		return err
	}

	found := false
	remaining := session.Participants[:0]
	for _, p := range session.Participants {
		if p.ID == participantID {
			found = true
			continue
		}
		remaining = append(remaining, p)
	}
	if !found {
		return NewParticipantNotFoundError(sessionID, participantID)
	}
	session.Participants = remaining

	return s.setLocked(ctx, session)
}

// UpdateParticipant applies a merge-patch to one participant
func (s *RedisStore) UpdateParticipant(ctx context.Context, sessionID, participantID string, changes ParticipantChanges) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.getLocked(ctx, sessionID)
	if err != nil {
		if IsSessionNotFound(err) {
			return nil, NewParticipantNotFoundError(sessionID, participantID)
		}
		return nil, err
	}

	for _, p := range session.Participants {
		if p.ID != participantID {
			continue
		}
		if changes.IsOnline != nil {
			p.IsOnline = *changes.IsOnline
		}
		if err := s.setLocked(ctx, session); err != nil {
			return nil, err
		}
		result := *p
		return &result, nil
	}

	return nil, NewParticipantNotFoundError(sessionID, participantID)
}

// redisSessionRecord is the on-wire shape of a session in Redis. Participant
// session ids are restored on load, they are redundant inside the record.
type redisSessionRecord struct {
	ID           string        `json:"id"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
	ExpiresAt    int64         `json:"expires_at"`
	Code         string        `json:"code"`
	Language     Language      `json:"language"`
	CreatorID    string        `json:"creator_id"`
	Participants []participant `json:"participants"`
}

type participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Color    string `json:"color"`
	JoinedAt int64  `json:"joined_at"`
	IsOnline bool   `json:"is_online"`
}

func (s *RedisStore) getLocked(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, NewSessionNotFoundError(sessionID)
		}
		return nil, NewStorageError("get session", err)
	}

	var record redisSessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, NewStorageError("decode session", err)
	}

	session := &Session{
		ID:           record.ID,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
		ExpiresAt:    record.ExpiresAt,
		Code:         record.Code,
		Language:     record.Language,
		CreatorID:    record.CreatorID,
		Participants: make([]*Participant, 0, len(record.Participants)),
	}
	for _, p := range record.Participants {
		session.Participants = append(session.Participants, &Participant{
			ID:        p.ID,
			SessionID: record.ID,
			Name:      p.Name,
			Role:      p.Role,
			Color:     p.Color,
			JoinedAt:  p.JoinedAt,
			IsOnline:  p.IsOnline,
		})
	}
	sortParticipants(session.Participants)
	return session, nil
}

func (s *RedisStore) setLocked(ctx context.Context, session *Session) error {
	record := redisSessionRecord{
		ID:           session.ID,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
		ExpiresAt:    session.ExpiresAt,
		Code:         session.Code,
		Language:     session.Language,
		CreatorID:    session.CreatorID,
		Participants: make([]participant, 0, len(session.Participants)),
	}
	for _, p := range session.Participants {
		record.Participants = append(record.Participants, participant{
			ID:       p.ID,
			Name:     p.Name,
			Role:     p.Role,
			Color:    p.Color,
			JoinedAt: p.JoinedAt,
			IsOnline: p.IsOnline,
		})
	}

	data, err := json.Marshal(record)
	if err != nil {
		return NewStorageError("encode session", err)
	}

	ttl := time.Until(time.UnixMilli(session.ExpiresAt)) + recordGracePeriod
	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, data, ttl).Err(); err != nil {
		return NewStorageError("store session", err)
	}
	return nil
}

func sortParticipants(participants []*Participant) {
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt != participants[j].JoinedAt {
			return participants[i].JoinedAt < participants[j].JoinedAt
		}
		return participants[i].ID < participants[j].ID
	})
}
