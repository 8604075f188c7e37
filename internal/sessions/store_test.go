package sessions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evrenesat/askygo/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateDisambiguatesDuplicateNames(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.Create(ctx, "research", 15)
	require.NoError(t, err)
	assert.Equal(t, "research", a.Name)

	b, err := s.Create(ctx, "research", 15)
	require.NoError(t, err)
	assert.Equal(t, "research_2", b.Name)
}

func TestGetByNameRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.Create(ctx, "alpha", 10)
	require.NoError(t, err)

	found, err := s.GetByName(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := s.GetByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdatePersistsCompactedSummary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.Create(ctx, "alpha", 10)
	require.NoError(t, err)

	sess.CompactedSummary = "prior turns summarized"
	sess.MemoryAutoExtract = true
	require.NoError(t, s.Update(ctx, sess))

	reloaded, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "prior turns summarized", reloaded.CompactedSummary)
	assert.True(t, reloaded.MemoryAutoExtract)
}

func TestAppendTurnPersistsBothMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.Create(ctx, "alpha", 10)
	require.NoError(t, err)

	user := &models.Message{SessionID: sess.ID, Role: models.RoleUser, Content: "hi"}
	assistant := &models.Message{SessionID: sess.ID, Role: models.RoleAssistant, Content: "hello"}
	require.NoError(t, s.AppendTurn(ctx, user, assistant))

	messages, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
}

func TestCreateTranscriptAllocatesMonotonicScopedID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.Create(ctx, "alpha", 10)
	require.NoError(t, err)

	first := &models.TranscriptRecord{SessionID: sess.ID, Kind: models.TranscriptKindAudio}
	require.NoError(t, s.CreateTranscript(ctx, first))
	assert.Equal(t, 1, first.SessionScopedID)
	assert.Equal(t, "#at1", first.Token())

	second := &models.TranscriptRecord{SessionID: sess.ID, Kind: models.TranscriptKindImage}
	require.NoError(t, s.CreateTranscript(ctx, second))
	assert.Equal(t, 2, second.SessionScopedID)
	assert.Equal(t, "#it2", second.Token())
}

func TestPruneTranscriptsKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.Create(ctx, "alpha", 10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rec := &models.TranscriptRecord{SessionID: sess.ID, Kind: models.TranscriptKindAudio}
		require.NoError(t, s.CreateTranscript(ctx, rec))
	}

	deleted, err := s.PruneTranscripts(ctx, sess.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
}

func TestRoomBindingUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.Create(ctx, "alpha", 10)
	require.NoError(t, err)

	require.NoError(t, s.SetRoomBinding(ctx, "room@conference.example.com", sess.ID))
	got, err := s.GetRoomBinding(ctx, "room@conference.example.com")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got)

	other, err := s.Create(ctx, "beta", 10)
	require.NoError(t, err)
	require.NoError(t, s.SetRoomBinding(ctx, "room@conference.example.com", other.ID))
	got, err = s.GetRoomBinding(ctx, "room@conference.example.com")
	require.NoError(t, err)
	assert.Equal(t, other.ID, got)
}

func TestOverrideFileIsWholeFileReplace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.Create(ctx, "alpha", 10)
	require.NoError(t, err)

	require.NoError(t, s.SetOverrideFile(ctx, sess.ID, "session.toml", "[a]\nx = 1"))
	require.NoError(t, s.SetOverrideFile(ctx, sess.ID, "session.toml", "[b]\ny = 2"))

	content, err := s.GetOverrideFile(ctx, sess.ID, "session.toml")
	require.NoError(t, err)
	assert.Equal(t, "[b]\ny = 2", content)
}
