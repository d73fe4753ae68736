package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/sandbox"
	"github.com/wwwzy/DataAgent/internal/storage"
)

type fakeRunner struct {
	res  sandbox.Result
	err  error
	last sandbox.Request
}

func (f *fakeRunner) Run(_ context.Context, req sandbox.Request) (sandbox.Result, error) {
	f.last = req
	return f.res, f.err
}

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ws.Ensure())
	return ws
}

func run(t *testing.T, it tool.InvokableTool, args string) string {
	t.Helper()
	out, err := it.InvokableRun(context.Background(), args)
	require.NoError(t, err)
	return out
}

func decodeExec(t *testing.T, s string) ExecResult {
	t.Helper()
	var r ExecResult
	require.NoError(t, json.Unmarshal([]byte(s), &r))
	return r
}

func TestRunPythonCode_Success(t *testing.T) {
	fr := &fakeRunner{res: sandbox.Result{Stdout: "42\n"}}
	tl := &RunPythonCodeTool{Runner: fr}

	r := decodeExec(t, run(t, tl, `{"code":"print(42)"}`))
	assert.True(t, r.Success)
	assert.Equal(t, "42\n", r.Stdout)
	assert.Equal(t, 0, r.ReturnCode)
	assert.Equal(t, "print(42)", fr.last.Code)
}

func TestRunPythonCode_ScriptArgs(t *testing.T) {
	fr := &fakeRunner{res: sandbox.Result{ExitCode: 1, Stderr: "boom"}}
	tl := &RunPythonCodeTool{Runner: fr}

	r := decodeExec(t, run(t, tl, `{"script_path":"scripts/a.py","script_args":["--n","3"]}`))
	assert.False(t, r.Success)
	assert.Equal(t, 1, r.ReturnCode)
	assert.Equal(t, "scripts/a.py", fr.last.ScriptPath)
	assert.Equal(t, []string{"--n", "3"}, fr.last.Args)
}

func TestRunPythonCode_Timeout(t *testing.T) {
	fr := &fakeRunner{err: fmt.Errorf("%w after 60s", sandbox.ErrTimeout)}
	tl := &RunPythonCodeTool{Runner: fr, Timeout: 60 * time.Second}

	r := decodeExec(t, run(t, tl, `{"code":"while True: pass"}`))
	assert.False(t, r.Success)
	assert.Equal(t, -1, r.ReturnCode)
	assert.Equal(t, "Execution timeout after 60 seconds", r.Stderr)
}

func TestRunPythonCode_RunnerError(t *testing.T) {
	fr := &fakeRunner{err: errors.New("no interpreter")}
	tl := &RunPythonCodeTool{Runner: fr}

	r := decodeExec(t, run(t, tl, `{"code":"print(1)"}`))
	assert.Equal(t, -2, r.ReturnCode)
	assert.Equal(t, "Error: no interpreter", r.Stderr)
}

func TestRunPythonCode_RequiresCodeOrScript(t *testing.T) {
	tl := &RunPythonCodeTool{Runner: &fakeRunner{}}
	_, err := tl.InvokableRun(context.Background(), `{}`)
	assert.Error(t, err)
}

func TestUseSkill(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(ws.SkillsDir(), "eda"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.SkillsDir(), "eda", "SKILL.md"), []byte("# EDA"), 0o644))
	tl := &UseSkillTool{WS: ws}

	assert.Equal(t, "# EDA", run(t, tl, `{"skill_name":"eda"}`))
	assert.Equal(t, "Skill 'nope' not found, please check the skill name and the skill path.",
		run(t, tl, `{"skill_name":"nope"}`))
	assert.Contains(t, run(t, tl, `{"skill_name":"../eda"}`), "not found")

	// base_path 相对工作区根目录解析
	assert.Equal(t, "# EDA", run(t, tl, `{"skill_name":"eda","base_path":"skills"}`))
}

func TestGetDataDesc(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.DataDir(), "sales.md"), []byte("columns: date, amount"), 0o644))
	tl := &GetDataDescTool{WS: ws}

	assert.Equal(t, "columns: date, amount", run(t, tl, `{"name":"sales"}`))
	assert.Equal(t, "Dataset 'orders' not found, please check the dataset name and the dataset path.",
		run(t, tl, `{"name":"orders"}`))
}

func TestSaveResult(t *testing.T) {
	ws := newWorkspace(t)
	tl := &SaveResultTool{WS: ws}

	out := run(t, tl, `{"result":"# Report","file_name":"report"}`)
	path := filepath.Join(ws.ResultsDir(), "report.md")
	assert.Equal(t, "Result saved to "+path, out)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Report", string(data))

	out = run(t, tl, `{"result":"x"}`)
	assert.Equal(t, "Result saved to "+filepath.Join(ws.ResultsDir(), "result.md"), out)
}

func TestResultFileName(t *testing.T) {
	assert.Equal(t, "result.md", resultFileName(""))
	assert.Equal(t, "a.md", resultFileName("a.md"))
	assert.Equal(t, "x.md", resultFileName("../../x"))
	assert.Equal(t, "result.md", resultFileName(".."))
}

func TestSaveAndGetContext(t *testing.T) {
	ws := newWorkspace(t)
	save := &SaveContextTool{WS: ws}
	get := &GetContextTool{WS: ws}

	out := run(t, save, `{"context":"step 3 done","agent_name":"data_analysis","context_name":"progress"}`)
	assert.Equal(t, "Context saved to "+filepath.Join(ws.ContextsDir(), "data_analysis", "progress.txt"), out)
	assert.Equal(t, "step 3 done", run(t, get, `{"agent_name":"data_analysis","context_name":"progress"}`))

	run(t, save, `{"context":"defaults"}`)
	assert.Equal(t, "defaults", run(t, get, `{}`))

	assert.Equal(t, "Context 'missing' not found for agent 'data_analysis', please check the context name and the agent name.",
		run(t, get, `{"agent_name":"data_analysis","context_name":"missing"}`))

	_, err := save.InvokableRun(context.Background(), `{"context":"x","agent_name":"../evil"}`)
	assert.Error(t, err)
}

func TestRequestCompaction(t *testing.T) {
	flags := contextwin.NewMemoryFlagStore()
	tl := &RequestCompactionTool{Flags: flags, AgentName: "data_analysis"}
	ctx := context.Background()

	run(t, tl, `{}`)
	v, err := flags.GetCompactFlag(ctx, "data_analysis")
	require.NoError(t, err)
	assert.True(t, v)

	run(t, tl, `{"agent_name":"other"}`)
	v, err = flags.GetCompactFlag(ctx, "other")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestGetTools_AuditWrapping(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ws := newWorkspace(t)
	tools := GetTools(Deps{
		Workspace: ws,
		Runner:    &fakeRunner{},
		Flags:     contextwin.NewMemoryFlagStore(),
		AgentName: "data_analysis",
		Audit:     store,
	})
	require.Len(t, tools, 7)

	infos, err := GetToolsInfo(ctx, tools)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{
		"run_python_code", "use_skill", "get_data_desc", "save_result",
		"save_context", "get_context", "request_compaction",
	}, names)

	var saveResult tool.InvokableTool
	for i, info := range infos {
		if info.Name == "save_result" {
			saveResult = tools[i].(tool.InvokableTool)
		}
	}
	require.NotNil(t, saveResult)

	tctx := contextwin.WithThreadID(WithTraceID(ctx, "trace-1"), "thread-1")
	_, err = saveResult.InvokableRun(tctx, `{"result":"ok"}`)
	require.NoError(t, err)

	recs, err := store.QueryAuditRecords(ctx, storage.AuditQuery{TraceID: "trace-1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "save_result", recs[0].Action)
	assert.Equal(t, "thread-1", recs[0].ThreadID)
	assert.Equal(t, "success", recs[0].Status)
	assert.Contains(t, recs[0].ResultJSON, "Result saved to")
}

func TestAuditedTool_RecordsFailure(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	wrapped := WrapWithAudit(&RunPythonCodeTool{Runner: &fakeRunner{}}, store, nil).(tool.InvokableTool)
	_, err = wrapped.InvokableRun(WithTraceID(ctx, "trace-2"), "{")
	require.Error(t, err)

	recs, err := store.QueryAuditRecords(ctx, storage.AuditQuery{TraceID: "trace-2"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "failed", recs[0].Status)
	assert.Contains(t, recs[0].ErrorMessage, "either code or script_path")
}
