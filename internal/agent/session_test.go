package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/sandbox"
	"github.com/wwwzy/DataAgent/internal/storage"
	"github.com/wwwzy/DataAgent/internal/tools"
)

// scriptedModel 按顺序返回预设回复，并记录每次调用收到的消息。
type scriptedModel struct {
	mu      sync.Mutex
	replies []*schema.Message
	inputs  [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func (m *scriptedModel) script(msgs ...*schema.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, msgs...)
}

func (m *scriptedModel) lastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[len(m.inputs)-1]
}

type nopRunner struct{}

func (nopRunner) Run(context.Context, sandbox.Request) (sandbox.Result, error) {
	return sandbox.Result{Stdout: "ok\n"}, nil
}

func toolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

type fixture struct {
	session *Session
	model   *scriptedModel
	store   *storage.Storage
	flags   *contextwin.MemoryFlagStore
	ws      *tools.Workspace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(dir, "agent.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ws, err := tools.NewWorkspace(filepath.Join(dir, "ws"))
	require.NoError(t, err)
	require.NoError(t, ws.Ensure())

	m := &scriptedModel{}
	flags := contextwin.NewMemoryFlagStore()
	s, err := New(ctx, Options{
		AgentName: "data_analysis",
		Model:     m,
		Workspace: ws,
		Runner:    nopRunner{},
		Store:     store,
		Flags:     flags,
	})
	require.NoError(t, err)
	return &fixture{session: s, model: m, store: store, flags: flags, ws: ws}
}

func TestSession_PlainTurnsAppend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.model.script(schema.AssistantMessage("a1", nil))
	res, err := f.session.Run(ctx, "thread-1", "q1", Handlers{})
	require.NoError(t, err)
	assert.Equal(t, "a1", res.Answer.Content)
	assert.False(t, res.Compacted)

	f.model.script(schema.AssistantMessage("a2", nil))
	_, err = f.session.Run(ctx, "thread-1", "q2", Handlers{})
	require.NoError(t, err)

	got, err := f.store.LoadThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"q1", "a1", "q2", "a2"}, contents(got))

	// 模型收到的第一条是 system message，历史里不保存
	in := f.model.lastInput()
	require.NotEmpty(t, in)
	assert.Equal(t, schema.System, in[0].Role)
	assert.Contains(t, in[0].Content, "data_analysis")
	assert.Len(t, in, 4)
}

func TestSession_CompactionDuringTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.model.script(schema.AssistantMessage("a1", nil))
	_, err := f.session.Run(ctx, "t", "q1", Handlers{})
	require.NoError(t, err)

	f.model.script(
		toolCall("call-1", "save_context", `{"context":"cleaned sales data","agent_name":"data_analysis"}`),
		schema.AssistantMessage("a2", nil),
	)
	_, err = f.session.Run(ctx, "t", "q2", Handlers{})
	require.NoError(t, err)

	stored, err := f.store.LoadThread(ctx, "t")
	require.NoError(t, err)
	require.Len(t, stored, 6)

	f.model.script(
		toolCall("call-2", "request_compaction", `{}`),
		schema.AssistantMessage("a3", nil),
	)
	res, err := f.session.Run(ctx, "t", "q3", Handlers{})
	require.NoError(t, err)
	assert.True(t, res.Compacted)

	// 第二次模型调用前：7 条历史 + tool call + tool result = 9 条被压缩为 5 条
	in := f.model.lastInput()
	require.Len(t, in, 6)
	assert.Equal(t, schema.System, in[0].Role)
	assert.Equal(t, "q1", in[1].Content)
	assert.Equal(t, "q3", in[2].Content)
	assert.Equal(t, "call-2", in[3].ToolCalls[0].ID)
	assert.Equal(t, schema.Tool, in[4].Role)
	assert.Equal(t, schema.User, in[5].Role)
	assert.Equal(t, f.session.Manager().Anchor(), in[5].Content)

	stored, err = f.store.LoadThread(ctx, "t")
	require.NoError(t, err)
	require.Len(t, stored, 6)
	assert.Equal(t, "q1", stored[0].Content)
	assert.Equal(t, f.session.Manager().Anchor(), stored[4].Content)
	assert.Equal(t, "a3", stored[5].Content)

	flag, err := f.flags.GetCompactFlag(ctx, "data_analysis")
	require.NoError(t, err)
	assert.False(t, flag)

	events, err := f.store.QueryCompactionEvents(ctx, storage.CompactionQuery{AgentName: "data_analysis"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "t", events[0].ThreadID)
	assert.Equal(t, 9, events[0].MessagesBefore)
	assert.Equal(t, 5, events[0].MessagesAfter)

	// 压缩之后的下一轮继续追加
	f.model.script(schema.AssistantMessage("a4", nil))
	_, err = f.session.Run(ctx, "t", "q4", Handlers{})
	require.NoError(t, err)
	stored, err = f.store.LoadThread(ctx, "t")
	require.NoError(t, err)
	require.Len(t, stored, 8)
	assert.Equal(t, "a4", stored[7].Content)
}

func TestSession_FlagSetBetweenTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		f.model.script(schema.AssistantMessage(fmt.Sprintf("a%d", i), nil))
		_, err := f.session.Run(ctx, "t", fmt.Sprintf("q%d", i), Handlers{})
		require.NoError(t, err)
	}
	require.NoError(t, f.flags.SetCompactFlag(ctx, "data_analysis", true))

	f.model.script(schema.AssistantMessage("a4", nil))
	res, err := f.session.Run(ctx, "t", "q4", Handlers{})
	require.NoError(t, err)
	assert.True(t, res.Compacted)

	// 6 条历史 + q4 = 7 条，保留首条与最近 3 条
	stored, err := f.store.LoadThread(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q3", "a3", "q4", f.session.Manager().Anchor(), "a4"}, contents(stored))
}

func TestSession_ShortHistoryResetsFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.flags.SetCompactFlag(ctx, "data_analysis", true))

	f.model.script(schema.AssistantMessage("a1", nil))
	res, err := f.session.Run(ctx, "t", "q1", Handlers{})
	require.NoError(t, err)
	assert.False(t, res.Compacted)

	flag, err := f.flags.GetCompactFlag(ctx, "data_analysis")
	require.NoError(t, err)
	assert.False(t, flag)

	stored, err := f.store.LoadThread(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "a1"}, contents(stored))
}

func TestSession_ToolHandlers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.model.script(
		toolCall("call-1", "run_python_code", `{"code":"print('ok')"}`),
		schema.AssistantMessage("done", nil),
	)

	var (
		mu      sync.Mutex
		called  []string
		results []string
	)
	res, err := f.session.Run(ctx, "t", "run something", Handlers{
		OnToolCall: func(name, _ string) {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, name)
		},
		OnToolResult: func(_, result string, _ error) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, result)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Answer.Content)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, called, "run_python_code")
	require.NotEmpty(t, results)
	assert.Contains(t, results[0], `"returncode":0`)
}

func TestSession_Stream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.model.script(
		toolCall("call-1", "run_python_code", `{"code":"print('ok')"}`),
		schema.AssistantMessage("done", nil),
	)

	var chunks []string
	res, err := f.session.Run(ctx, "t", "run something", Handlers{
		OnChunk: func(c string) { chunks = append(chunks, c) },
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Answer.Content)
	assert.Equal(t, "done", strings.Join(chunks, ""))

	stored, err := f.store.LoadThread(ctx, "t")
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, schema.Tool, stored[2].Role)
	assert.Equal(t, "call-1", stored[2].ToolCallID)
	assert.Equal(t, "done", stored[3].Content)
}

func TestSession_FailedTurnKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.session.Run(ctx, "t", "q1", Handlers{})
	require.Error(t, err)

	stored, err := f.store.LoadThread(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1"}, contents(stored))
}

func TestSession_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.Run(context.Background(), "", "q", Handlers{})
	assert.Error(t, err)
	_, err = f.session.Run(context.Background(), "t", "  ", Handlers{})
	assert.Error(t, err)
}

func TestNew_BadAnchorTemplate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(dir, "agent.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ws, err := tools.NewWorkspace(dir)
	require.NoError(t, err)

	_, err = New(ctx, Options{
		AgentName:      "data_analysis",
		Model:          &scriptedModel{},
		Workspace:      ws,
		Store:          store,
		AnchorTemplate: "resume {missing_param}",
	})
	assert.Error(t, err)
}

func TestDropOrphanToolResults(t *testing.T) {
	in := []*schema.Message{
		schema.UserMessage("task"),
		schema.ToolMessage("orphan", "call-0"),
		toolCall("call-1", "get_context", `{}`),
		schema.ToolMessage("ctx", "call-1"),
	}
	out := dropOrphanToolResults(in)
	require.Len(t, out, 3)
	assert.Equal(t, "task", out[0].Content)
	assert.Equal(t, "call-1", out[2].ToolCallID)

	clean := in[2:]
	assert.Equal(t, clean, dropOrphanToolResults(clean))
}

func TestSanitizeToolCalls(t *testing.T) {
	bad := toolCall("call-1", "get_context", `{"agent_name":`)
	in := []*schema.Message{schema.UserMessage("x"), bad}
	out := sanitizeToolCalls(in)
	assert.Equal(t, "{}", out[1].ToolCalls[0].Function.Arguments)
	// 原消息不被修改
	assert.Equal(t, `{"agent_name":`, bad.ToolCalls[0].Function.Arguments)
}

func contents(msgs []*schema.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
