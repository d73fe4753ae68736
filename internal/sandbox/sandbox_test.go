package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shRunner 用 sh 代替 python 解释器，测试只依赖 -c 语义。
func shRunner(t *testing.T, timeout time.Duration) *LocalRunner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	return &LocalRunner{Python: "sh", WorkDir: t.TempDir(), Timeout: timeout, MaxOutputBytes: 1024}
}

func TestLocalRunner_Stdout(t *testing.T) {
	r := shRunner(t, 5*time.Second)
	res, err := r.Run(context.Background(), Request{Code: "echo hi; echo oops 1>&2"})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalRunner_NonZeroExitIsNotError(t *testing.T) {
	r := shRunner(t, 5*time.Second)
	res, err := r.Run(context.Background(), Request{Code: "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestLocalRunner_Timeout(t *testing.T) {
	r := shRunner(t, 100*time.Millisecond)
	start := time.Now()
	_, err := r.Run(context.Background(), Request{Code: "sleep 5"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestLocalRunner_WorkDirAndScript(t *testing.T) {
	r := shRunner(t, 5*time.Second)
	script := filepath.Join(r.WorkDir, "job.sh")
	require.NoError(t, os.WriteFile(script, []byte("pwd; echo \"$1\"\n"), 0o644))

	res, err := r.Run(context.Background(), Request{ScriptPath: "job.sh", Args: []string{"arg1"}})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "arg1", lines[1])
}

func TestLocalRunner_MissingInterpreter(t *testing.T) {
	r := &LocalRunner{Python: "definitely-not-a-python-binary", WorkDir: t.TempDir(), Timeout: time.Second}
	_, err := r.Run(context.Background(), Request{Code: "print(1)"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestRunner_RequiresCode(t *testing.T) {
	r := &LocalRunner{Python: "sh"}
	_, err := r.Run(context.Background(), Request{})
	require.Error(t, err)
}

func TestTruncateTail(t *testing.T) {
	assert.Equal(t, "abc", truncateTail("abc", 10))
	assert.Equal(t, "...(truncated)...\nxyz", truncateTail("abcxyz", 3))
	assert.Equal(t, "abc", truncateTail("abc", 0))
}

func TestParsePlatform(t *testing.T) {
	p, err := parsePlatform("")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = parsePlatform("linux/arm64/v8")
	require.NoError(t, err)
	assert.Equal(t, "linux", p.OS)
	assert.Equal(t, "arm64", p.Architecture)
	assert.Equal(t, "v8", p.Variant)

	_, err = parsePlatform("linux")
	assert.Error(t, err)
}

func TestDockerRunner_Command(t *testing.T) {
	dir := t.TempDir()
	r := &DockerRunner{WorkDir: dir}

	cmd, err := r.command(Request{Code: "print(1)"})
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "-c", "print(1)"}, cmd)

	cmd, err = r.command(Request{ScriptPath: "scripts/a.py", Args: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "/workspace/scripts/a.py", "x"}, cmd)

	cmd, err = r.command(Request{ScriptPath: filepath.Join(dir, "b.py")})
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "/workspace/b.py"}, cmd)

	_, err = r.command(Request{ScriptPath: "../escape.py"})
	assert.Error(t, err)
}

func TestNew_Kinds(t *testing.T) {
	r, err := New(Config{}, t.TempDir(), nil)
	require.NoError(t, err)
	_, ok := r.(*LocalRunner)
	assert.True(t, ok)

	r, err = New(Config{Kind: "docker"}, t.TempDir(), nil)
	require.NoError(t, err)
	_, ok = r.(*DockerRunner)
	assert.True(t, ok)

	_, err = New(Config{Kind: "vm"}, t.TempDir(), nil)
	assert.Error(t, err)
}
