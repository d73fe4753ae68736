package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/DataAgent/internal/agent"
	"github.com/wwwzy/DataAgent/internal/ui"
)

type stubBackend struct{}

func (stubBackend) Run(_ context.Context, _, query string, h agent.Handlers) (*agent.TurnResult, error) {
	h.OnToolCall("get_data_desc", `{"name":"sales"}`)
	h.OnToolResult("get_data_desc", "columns", nil)
	h.OnChunk("ok " + query)
	return &agent.TurnResult{Answer: schema.AssistantMessage("ok "+query, nil), Compacted: true}, nil
}

func update(t *testing.T, m chatModel, msg tea.Msg) chatModel {
	t.Helper()
	next, _ := m.Update(msg)
	cm, ok := next.(chatModel)
	require.True(t, ok)
	return cm
}

func TestChatModel_StreamingTurn(t *testing.T) {
	m := newChatModel(context.Background(), stubBackend{}, ui.ChatOptions{ThreadID: "t"}, &programRef{})
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})

	m.entries = append(m.entries, entry{role: schema.User, content: "hi"})
	m.thinking = true

	m = update(t, m, chunkMsg{content: "par"})
	m = update(t, m, chunkMsg{content: "tial"})
	require.Len(t, m.entries, 2)
	assert.Equal(t, "partial", m.entries[1].content)

	m = update(t, m, toolEventMsg{name: "get_data_desc", content: "columns"})
	assert.Equal(t, -1, m.streamIdx)

	m = update(t, m, chunkMsg{content: "final"})
	m = update(t, m, turnDoneMsg{res: &agent.TurnResult{Answer: schema.AssistantMessage("final answer", nil), Compacted: true}})

	assert.False(t, m.thinking)
	require.Len(t, m.entries, 5)
	assert.Equal(t, "final answer", m.entries[3].content)
	assert.True(t, m.entries[4].notice)
	assert.Contains(t, m.renderChat(), "上下文已压缩")
}

func TestChatModel_TurnError(t *testing.T) {
	m := newChatModel(context.Background(), stubBackend{}, ui.ChatOptions{}, &programRef{})
	m.thinking = true
	m = update(t, m, turnDoneMsg{err: assert.AnError})
	require.Len(t, m.entries, 1)
	assert.Contains(t, m.entries[0].content, assert.AnError.Error())
}

func TestRunTurn_SendsEvents(t *testing.T) {
	// 没有 Program 时 send 为空操作，返回值仍是完整结果
	msg := runTurn(context.Background(), stubBackend{}, "t", "q", &programRef{})()
	done, ok := msg.(turnDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)
	assert.Equal(t, "ok q", done.res.Answer.Content)
}

func TestEntriesFromHistory(t *testing.T) {
	entries := entriesFromHistory([]*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("q"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "run_python_code", Arguments: "{}"}}}),
		schema.ToolMessage("out", "c1", schema.WithToolName("run_python_code")),
		schema.AssistantMessage("a", nil),
	})
	require.Len(t, entries, 4)
	assert.Equal(t, schema.User, entries[0].role)
	assert.Equal(t, "call run_python_code", entries[1].title)
	assert.Equal(t, "run_python_code", entries[2].title)
	assert.Equal(t, "a", entries[3].content)
}
