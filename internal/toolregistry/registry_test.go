package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	result *ToolResult
	err    error
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub tool " + s.name }
func (s *stubTool) Schema() json.RawMessage     { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return s.result, s.err
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	tool := &stubTool{name: "get_date_time", result: &ToolResult{Content: "now"}}
	require.NoError(t, r.Register(tool))

	got, ok := r.Get("get_date_time")
	require.True(t, ok)
	assert.Equal(t, tool, got)
}

func TestRegisterEmptyName(t *testing.T) {
	r := New()
	err := r.Register(&stubTool{name: ""})
	assert.Error(t, err)
}

func TestExecuteDispatchesToRegisteredTool(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubTool{name: "web_search", result: &ToolResult{Content: "results"}}))

	res, err := r.Execute(context.Background(), "web_search", json.RawMessage(`{"q":"go"}`))
	require.NoError(t, err)
	assert.Equal(t, "results", res.Content)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := New()
	_, err := r.Execute(context.Background(), "missing", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecuteOversizedParams(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubTool{name: "big"}))

	oversized := make(json.RawMessage, MaxToolParamsSize+1)
	_, err := r.Execute(context.Background(), "big", oversized)
	assert.Error(t, err)
}

func TestAsLLMToolsExcludesDisabled(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubTool{name: "web_search"}))
	require.NoError(t, r.Register(&stubTool{name: "get_date_time"}))

	tools := r.AsLLMTools([]string{"web_search"})
	require.Len(t, tools, 1)
	assert.Equal(t, "get_date_time", tools[0].Name)
}

func TestUnregisterRemovesTool(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubTool{name: "web_search"}))
	r.Unregister("web_search")

	_, ok := r.Get("web_search")
	assert.False(t, ok)
}
