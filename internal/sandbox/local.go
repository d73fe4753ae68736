package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// LocalRunner 在本机用解释器直接执行代码，工作目录为 WorkDir。
type LocalRunner struct {
	Python         string
	WorkDir        string
	Timeout        time.Duration
	MaxOutputBytes int
}

func NewLocalRunner(cfg Config, workDir string) *LocalRunner {
	cfg = cfg.withDefaults()
	return &LocalRunner{
		Python:         cfg.Python,
		WorkDir:        workDir,
		Timeout:        cfg.Timeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}
}

func (r *LocalRunner) Run(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var args []string
	if req.ScriptPath != "" {
		args = append([]string{req.ScriptPath}, req.Args...)
	} else {
		args = []string{"-c", req.Code}
	}

	cmd := exec.CommandContext(runCtx, r.Python, args...)
	cmd.Dir = r.WorkDir
	// 子进程被 kill 后不再等待其继承的管道
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: truncateTail(stdout.String(), r.MaxOutputBytes),
		Stderr: truncateTail(stderr.String(), r.MaxOutputBytes),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", r.Python, err)
	}
	return res, nil
}
