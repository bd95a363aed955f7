package sessions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedSession(id string) (*Session, *Participant) {
	session := &Session{
		ID:        id,
		CreatedAt: 1000,
		UpdatedAt: 1000,
		ExpiresAt: 1000 + 86400000,
		Code:      "console.log(1)",
		Language:  LanguageJavaScript,
		CreatorID: "u1",
	}
	creator := &Participant{
		ID:       "u1",
		Name:     "John",
		Role:     RoleInterviewer,
		Color:    "hsl(250,84%,54%)",
		JoinedAt: 1000,
		IsOnline: true,
	}
	return session, creator
}

func TestInMemoryStoreCreateAndGet(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	session, creator := storedSession("abcd1234")
	require.NoError(t, store.CreateSession(ctx, session, creator))

	got, err := store.GetSession(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", got.ID)
	assert.Equal(t, "console.log(1)", got.Code)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, "u1", got.Participants[0].ID)
	assert.Equal(t, "abcd1234", got.Participants[0].SessionID)
}

func TestInMemoryStoreDuplicateID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	session, creator := storedSession("abcd1234")
	require.NoError(t, store.CreateSession(ctx, session, creator))

	again, creator2 := storedSession("abcd1234")
	err := store.CreateSession(ctx, again, creator2)
	assert.True(t, IsSessionExists(err))
}

func TestInMemoryStoreCopyIsolation(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	session, creator := storedSession("abcd1234")
	require.NoError(t, store.CreateSession(ctx, session, creator))

	got, err := store.GetSession(ctx, "abcd1234")
	require.NoError(t, err)

	// Mutating a returned snapshot must not leak into the store
	got.Code = "tampered"
	got.Participants[0].Name = "tampered"

	fresh, err := store.GetSession(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", fresh.Code)
	assert.Equal(t, "John", fresh.Participants[0].Name)
}

func TestInMemoryStoreUpdateSessionMergePatch(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	session, creator := storedSession("abcd1234")
	require.NoError(t, store.CreateSession(ctx, session, creator))

	code := "print(1)"
	updated, err := store.UpdateSession(ctx, "abcd1234", SessionChanges{Code: &code, UpdatedAt: 2000})
	require.NoError(t, err)
	assert.Equal(t, "print(1)", updated.Code)
	assert.Equal(t, LanguageJavaScript, updated.Language)
	assert.Equal(t, int64(2000), updated.UpdatedAt)

	_, err = store.UpdateSession(ctx, "missing0", SessionChanges{Code: &code, UpdatedAt: 2000})
	assert.True(t, IsSessionNotFound(err))
}

func TestInMemoryStoreDeleteCascades(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	session, creator := storedSession("abcd1234")
	require.NoError(t, store.CreateSession(ctx, session, creator))
	require.NoError(t, store.DeleteSession(ctx, "abcd1234"))

	_, err := store.GetSession(ctx, "abcd1234")
	assert.True(t, IsSessionNotFound(err))

	// The store alone reports an empty list for an unknown session
	participants, err := store.ListParticipants(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Empty(t, participants)

	assert.True(t, IsSessionNotFound(store.DeleteSession(ctx, "abcd1234")))
}

func TestInMemoryStoreParticipantUpsert(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	session, creator := storedSession("abcd1234")
	require.NoError(t, store.CreateSession(ctx, session, creator))

	joiner := &Participant{ID: "u2", Name: "Jane", Role: RoleCandidate, Color: "hsl(0,0%,0%)", JoinedAt: 2000, IsOnline: true}
	stored, err := store.AddOrUpdateParticipant(ctx, "abcd1234", joiner, 2000)
	require.NoError(t, err)
	assert.Equal(t, RoleCandidate, stored.Role)

	// Upsert with the same id keeps role and joined_at
	rejoiner := &Participant{ID: "u2", Name: "Jane S.", Role: RoleCandidate, Color: "hsl(1,1%,1%)", JoinedAt: 9999, IsOnline: true}
	stored, err = store.AddOrUpdateParticipant(ctx, "abcd1234", rejoiner, 3000)
	require.NoError(t, err)
	assert.Equal(t, "Jane S.", stored.Name)
	assert.Equal(t, int64(2000), stored.JoinedAt)

	got, err := store.GetSession(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Len(t, got.Participants, 2)
	assert.Equal(t, int64(3000), got.UpdatedAt)

	_, err = store.AddOrUpdateParticipant(ctx, "missing0", joiner, 2000)
	assert.True(t, IsSessionNotFound(err))
}

func TestInMemoryStoreListOrdering(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	session, creator := storedSession("abcd1234")
	require.NoError(t, store.CreateSession(ctx, session, creator))

	later := &Participant{ID: "u3", Name: "Late", Role: RoleCandidate, Color: "c", JoinedAt: 3000, IsOnline: true}
	earlier := &Participant{ID: "u2", Name: "Early", Role: RoleCandidate, Color: "c", JoinedAt: 2000, IsOnline: true}
	_, err := store.AddOrUpdateParticipant(ctx, "abcd1234", later, 3000)
	require.NoError(t, err)
	_, err = store.AddOrUpdateParticipant(ctx, "abcd1234", earlier, 3000)
	require.NoError(t, err)

	participants, err := store.ListParticipants(ctx, "abcd1234")
	require.NoError(t, err)
	require.Len(t, participants, 3)
	assert.Equal(t, "u1", participants[0].ID)
	assert.Equal(t, "u2", participants[1].ID)
	assert.Equal(t, "u3", participants[2].ID)
}

func TestInMemoryStoreRemoveAndUpdateParticipant(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	session, creator := storedSession("abcd1234")
	require.NoError(t, store.CreateSession(ctx, session, creator))

	assert.True(t, IsParticipantNotFound(store.RemoveParticipant(ctx, "abcd1234", "nobody")))

	offline := false
	updated, err := store.UpdateParticipant(ctx, "abcd1234", "u1", ParticipantChanges{IsOnline: &offline})
	require.NoError(t, err)
	assert.False(t, updated.IsOnline)

	_, err = store.UpdateParticipant(ctx, "abcd1234", "nobody", ParticipantChanges{IsOnline: &offline})
	assert.True(t, IsParticipantNotFound(err))

	require.NoError(t, store.RemoveParticipant(ctx, "abcd1234", "u1"))
	participants, err := store.ListParticipants(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Empty(t, participants)
}
