package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/DataAgent/internal/sandbox"
)

const (
	returnCodeTimeout = -1
	returnCodeError   = -2
)

// ExecResult 为 run_python_code 返回给模型的 JSON 结构。
type ExecResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
}

// RunPythonCodeTool 通过 sandbox.Runner 执行 Python 代码或工作区内的脚本。
type RunPythonCodeTool struct {
	Runner sandbox.Runner
	// Timeout 仅用于生成超时提示，实际超时由 Runner 控制。
	Timeout time.Duration
}

func (t *RunPythonCodeTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "run_python_code",
		Desc: "Execute Python code or a Python script in the workspace and return stdout, stderr and the return code. " +
			"Provide either 'code' or 'script_path'. Execution is limited by a timeout.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"code": {
				Desc:     "Python source code to execute",
				Type:     schema.String,
				Required: false,
			},
			"script_path": {
				Desc:     "Path of a Python script relative to the workspace root; takes precedence over 'code'",
				Type:     schema.String,
				Required: false,
			},
			"script_args": {
				Desc:     "Command line arguments passed to the script",
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Required: false,
			},
		}),
	}, nil
}

func (t *RunPythonCodeTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Code       string   `json:"code"`
		ScriptPath string   `json:"script_path"`
		ScriptArgs []string `json:"script_args"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Code == "" && args.ScriptPath == "" {
		return "", errors.New("either code or script_path must be provided")
	}
	if t.Runner == nil {
		return "", errors.New("code runner is not configured")
	}

	res, err := t.Runner.Run(ctx, sandbox.Request{
		Code:       args.Code,
		ScriptPath: args.ScriptPath,
		Args:       args.ScriptArgs,
	})

	out := ExecResult{
		Success:    err == nil && res.ExitCode == 0,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ReturnCode: res.ExitCode,
	}
	switch {
	case errors.Is(err, sandbox.ErrTimeout):
		out.ReturnCode = returnCodeTimeout
		out.Stderr = fmt.Sprintf("Execution timeout after %d seconds", t.timeoutSeconds())
	case err != nil:
		out.ReturnCode = returnCodeError
		out.Stdout = ""
		out.Stderr = "Error: " + err.Error()
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

func (t *RunPythonCodeTool) timeoutSeconds() int {
	if t.Timeout <= 0 {
		return int(sandbox.DefaultTimeout / time.Second)
	}
	return int(t.Timeout / time.Second)
}
