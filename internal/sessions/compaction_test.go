package sessions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evrenesat/askygo/pkg/models"
)

type stubSummarizer struct {
	summary string
	err     error
}

func (s stubSummarizer) Summarize(_ context.Context, _, _ string) (string, error) {
	return s.summary, s.err
}

func TestCompactSummariesFallsBackToContentPrefix(t *testing.T) {
	sess := &models.Session{}
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "what is the capital of france"},
		{Role: models.RoleAssistant, Summary: "answered: Paris"},
	}
	summary, err := Compact(context.Background(), StrategySummaries, sess, messages, 0, nil)
	require.NoError(t, err)
	assert.Contains(t, summary, "what is the capital of france")
	assert.Contains(t, summary, "answered: Paris")
}

func TestCompactKeepsLastNUntouched(t *testing.T) {
	sess := &models.Session{}
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "second"},
		{Role: models.RoleUser, Content: "third"},
	}
	summary, err := Compact(context.Background(), StrategySummaries, sess, messages, 2, nil)
	require.NoError(t, err)
	assert.Contains(t, summary, "first")
	assert.NotContains(t, summary, "third")
}

func TestCompactLLMSummaryUsesSummarizer(t *testing.T) {
	sess := &models.Session{}
	messages := []*models.Message{{Role: models.RoleUser, Content: "hello"}}
	summary, err := Compact(context.Background(), StrategyLLMSummary, sess, messages, 0, stubSummarizer{summary: "condensed"})
	require.NoError(t, err)
	assert.Equal(t, "condensed", summary)
}

func TestCompactLLMSummaryRequiresSummarizer(t *testing.T) {
	sess := &models.Session{}
	messages := []*models.Message{{Role: models.RoleUser, Content: "hello"}}
	_, err := Compact(context.Background(), StrategyLLMSummary, sess, messages, 0, nil)
	assert.Error(t, err)
}

func TestCompactNoopWhenKeepAllMessages(t *testing.T) {
	sess := &models.Session{CompactedSummary: "existing"}
	messages := []*models.Message{{Role: models.RoleUser, Content: "hi"}}
	summary, err := Compact(context.Background(), StrategySummaries, sess, messages, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "existing", summary)
}
