package sessions

// Language identifies the shared editor language of a session
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguageHTML       Language = "html"
)

// Valid reports whether the language is one of the supported values
func (l Language) Valid() bool {
	switch l {
	case LanguageJavaScript, LanguagePython, LanguageHTML:
		return true
	}
	return false
}

// Role identifies what a participant does in an interview session
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Session represents a time-boxed shared interview workspace.
// All timestamps are epoch milliseconds. ExpiresAt is fixed at creation
// time and never changes afterwards.
type Session struct {
	ID           string         `json:"id"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
	ExpiresAt    int64          `json:"expires_at"`
	Code         string         `json:"code"`
	Language     Language       `json:"language"`
	CreatorID    string         `json:"creator_id"`
	Participants []*Participant `json:"participants"`
}

// Participant is a named identity attached to a session. The ID is
// caller-supplied (typically a client-generated UUID reused across
// reconnects) and unique within its session.
type Participant struct {
	ID        string `json:"id"`
	SessionID string `json:"-"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Color     string `json:"color"`
	JoinedAt  int64  `json:"joined_at"`
	IsOnline  bool   `json:"is_online"`
}

// UserInfo carries the identity a client presents when creating or
// joining a session
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// CreateSessionRequest represents a request to create a new session
type CreateSessionRequest struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
	Creator  UserInfo `json:"creator"`
}

// UpdateSessionRequest is a merge-patch: only fields that are set are
// applied, everything else is left untouched
type UpdateSessionRequest struct {
	Code     *string   `json:"code,omitempty"`
	Language *Language `json:"language,omitempty"`
}

// JoinSessionRequest represents a request to join an existing session
type JoinSessionRequest struct {
	User UserInfo `json:"user"`
}

// CodeSnapshotRequest represents a full code snapshot save.
// Last write wins, there is no merging of concurrent snapshots.
type CodeSnapshotRequest struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
}

// UpdateParticipantRequest is a merge-patch over participant fields
type UpdateParticipantRequest struct {
	IsOnline *bool `json:"is_online,omitempty"`
}

// SessionChanges describes a merge-patch applied to a stored session
type SessionChanges struct {
	Code      *string
	Language  *Language
	UpdatedAt int64
}

// ParticipantChanges describes a merge-patch applied to a stored participant
type ParticipantChanges struct {
	IsOnline *bool
}
