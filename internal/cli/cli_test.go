package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/storage"
)

func TestReadQuery(t *testing.T) {
	q, err := readQuery([]string{"  sales by month  "}, "")
	require.NoError(t, err)
	assert.Equal(t, "sales by month", q)

	file := filepath.Join(t.TempDir(), "q.txt")
	require.NoError(t, os.WriteFile(file, []byte("from file\n"), 0o644))
	q, err = readQuery(nil, file)
	require.NoError(t, err)
	assert.Equal(t, "from file", q)

	_, err = readQuery([]string{"a"}, file)
	assert.Error(t, err)
	_, err = readQuery(nil, "")
	assert.Error(t, err)
	_, err = readQuery(nil, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestPrintStatus(t *testing.T) {
	ctx := context.Background()
	flags := contextwin.NewMemoryFlagStore()
	require.NoError(t, flags.SetCompactFlag(ctx, "analyst", true))

	var out bytes.Buffer
	require.NoError(t, printStatus(ctx, &out, flags, "analyst", contextwin.DefaultPolicy()))
	assert.Contains(t, out.String(), "Compact flag: true")
	assert.Contains(t, out.String(), "min_history=5 keep_recent=3")
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	printHistory(&out, nil)
	assert.Equal(t, "(empty)\n", out.String())

	out.Reset()
	printHistory(&out, []*schema.Message{
		schema.UserMessage("统计销量"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "run_python_code", Arguments: `{"code":"print(1)"}`}}}),
		schema.ToolMessage("1", "c1", schema.WithToolName("run_python_code")),
	})
	text := out.String()
	assert.Contains(t, text, "[0] user")
	assert.Contains(t, text, "    统计销量")
	assert.Contains(t, text, "-> run_python_code")
	assert.Contains(t, text, "[2] tool (run_python_code)")
}

func TestPrintThreadsAndEvents(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "cli.db")})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.AppendThreadMessages(ctx, "t-1", "analyst", []*schema.Message{
		schema.UserMessage("q1"), schema.AssistantMessage("a1", nil),
	}))
	require.NoError(t, store.InsertCompactionEvent(ctx, &storage.CompactionEvent{
		AgentName: "analyst", ThreadID: "t-1", MessagesBefore: 9, MessagesAfter: 5,
	}))

	threads, err := store.ListThreads(ctx, 10)
	require.NoError(t, err)
	var out bytes.Buffer
	printThreads(&out, threads)
	assert.Contains(t, out.String(), "t-1")
	assert.Contains(t, out.String(), "analyst")

	events, err := store.QueryCompactionEvents(ctx, storage.CompactionQuery{ThreadID: "t-1"})
	require.NoError(t, err)
	out.Reset()
	printEvents(&out, events)
	assert.Regexp(t, `t-1\s+9\s+5`, out.String())
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))
	assert.NotEqual(t, "-", formatTime(time.Now()))
}
