package sessions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evrenesat/askygo/internal/config"
	"github.com/evrenesat/askygo/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, *Store) {
	t.Helper()
	store := newTestStore(t)
	cfg := config.SessionConfig{
		DefaultMaxTurns: 15,
		Compaction:      config.SessionCompactionConfig{Strategy: StrategySummaries, TriggerTokens: 50, KeepLastN: 1},
	}
	return NewManager(store, cfg), store
}

func TestResolveByNameCreatesWhenMissing(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	res, err := mgr.Resolve(ctx, ResolveRequest{Name: "research"})
	require.NoError(t, err)
	require.False(t, res.Halted)
	assert.Equal(t, "research", res.Session.Name)
	assert.Equal(t, 15, res.Session.MaxTurns)
}

func TestResolveByResumeTermAmbiguous(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)

	_, err := store.Create(ctx, "kubernetes-ops", 15)
	require.NoError(t, err)
	_, err = store.Create(ctx, "kubernetes-debug", 15)
	require.NoError(t, err)

	res, err := mgr.Resolve(ctx, ResolveRequest{ResumeTerm: "kubernetes"})
	require.NoError(t, err)
	assert.True(t, res.Halted)
	assert.Equal(t, models.HaltSessionAmbiguous, res.HaltReason)
	assert.Len(t, res.Candidates, 2)
}

func TestResolveByResumeTermNoMatch(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	res, err := mgr.Resolve(ctx, ResolveRequest{ResumeTerm: "nonexistent"})
	require.NoError(t, err)
	assert.True(t, res.Halted)
	assert.Equal(t, models.HaltInvalidInput, res.HaltReason)
}

func TestBuildContextMessagesIncludesSummaryAndHistory(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)

	sess, err := store.Create(ctx, "alpha", 15)
	require.NoError(t, err)
	sess.CompactedSummary = "earlier discussion about deployments"
	require.NoError(t, store.Update(ctx, sess))
	require.NoError(t, store.AppendTurn(ctx,
		&models.Message{SessionID: sess.ID, Role: models.RoleUser, Content: "hi"},
		&models.Message{SessionID: sess.ID, Role: models.RoleAssistant, Content: "hello"}))

	messages, err := mgr.BuildContextMessages(ctx, sess, "what's next?")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Contains(t, messages[0].Content, "earlier discussion")
	assert.Equal(t, "what's next?", messages[len(messages)-1].Content)
}

func TestSaveTurnPersistsAndTouches(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)
	sess, err := store.Create(ctx, "alpha", 15)
	require.NoError(t, err)

	require.NoError(t, mgr.SaveTurn(ctx, sess, "hi", "hello", "fast"))

	messages, err := store.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[1].Content)
	assert.Equal(t, "fast", messages[1].Model)
}

func TestCheckAndCompactNoopUnderBudget(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)
	sess, err := store.Create(ctx, "alpha", 15)
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx,
		&models.Message{SessionID: sess.ID, Role: models.RoleUser, Content: "hi"},
		&models.Message{SessionID: sess.ID, Role: models.RoleAssistant, Content: "hello"}))

	require.NoError(t, mgr.CheckAndCompact(ctx, sess, nil))
	assert.Empty(t, sess.CompactedSummary)
}

func TestCheckAndCompactFoldsOverBudget(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)
	sess, err := store.Create(ctx, "alpha", 15)
	require.NoError(t, err)

	big := ""
	for i := 0; i < 400; i++ {
		big += "word "
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendTurn(ctx,
			&models.Message{SessionID: sess.ID, Role: models.RoleUser, Content: big},
			&models.Message{SessionID: sess.ID, Role: models.RoleAssistant, Content: big}))
	}

	require.NoError(t, mgr.CheckAndCompact(ctx, sess, nil))
	assert.NotEmpty(t, sess.CompactedSummary)
}

func TestGenerateSessionNameSkipsStopwords(t *testing.T) {
	assert.Equal(t, "explain-kubernetes", GenerateSessionName("can you explain kubernetes operators to me?"))
	assert.Equal(t, "", GenerateSessionName("can you to me"))
}
