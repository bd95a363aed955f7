package sessions

import "context"

// SessionManager defines the interface for session lifecycle operations
type SessionManager interface {
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	IsExpired(session *Session) bool
	UpdateSession(ctx context.Context, sessionID string, req *UpdateSessionRequest) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Join(ctx context.Context, sessionID string, user UserInfo) (*Session, error)
	SaveCode(ctx context.Context, sessionID string, req *CodeSnapshotRequest) (*Session, error)
	ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error)
	RemoveParticipant(ctx context.Context, sessionID, participantID string) error
	UpdateParticipant(ctx context.Context, sessionID, participantID string, req *UpdateParticipantRequest) (*Participant, error)
}

// SessionStore defines the interface for session storage backends.
// Every mutation is atomic with respect to the session and its participant
// collection as observed by any single caller. Absence is signaled with a
// not_found SessionError or ParticipantError, never with a nil result.
type SessionStore interface {
	// CreateSession persists a session together with its first participant.
	// An id collision yields an already_exists SessionError.
	CreateSession(ctx context.Context, session *Session, creator *Participant) error

	// GetSession returns the session with its participants. Expiry is not
	// checked here; callers decide what an expired record means to them.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// UpdateSession applies a merge-patch and returns the updated session
	UpdateSession(ctx context.Context, sessionID string, changes SessionChanges) (*Session, error)

	// DeleteSession removes the session and cascades to its participants
	DeleteSession(ctx context.Context, sessionID string) error

	// AddOrUpdateParticipant upserts a participant keyed by (session, id).
	// An existing participant keeps its original role and joined_at and only
	// has name, color and is_online overwritten. The session's updated_at is
	// bumped to updatedAt in the same atomic step.
	AddOrUpdateParticipant(ctx context.Context, sessionID string, participant *Participant, updatedAt int64) (*Participant, error)

	// ListParticipants returns the session's participants ordered by
	// joined_at then id. An unknown session yields an empty list; the caller
	// is responsible for distinguishing absent from empty.
	ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error)

	// RemoveParticipant removes one participant from a session
	RemoveParticipant(ctx context.Context, sessionID, participantID string) error

	// UpdateParticipant applies a merge-patch to one participant
	UpdateParticipant(ctx context.Context, sessionID, participantID string, changes ParticipantChanges) (*Participant, error)
}
