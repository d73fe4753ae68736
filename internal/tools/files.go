package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	skillFileName      = "SKILL.md"
	defaultResultFile  = "result.md"
	defaultAgentName   = "agent"
	defaultContextName = "context"
)

// UseSkillTool 读取技能说明 <base>/<skill>/SKILL.md。
type UseSkillTool struct {
	WS *Workspace
}

func (t *UseSkillTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "use_skill",
		Desc: "Load the instructions of a skill (its SKILL.md). Call this before following a skill.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"skill_name": {
				Desc:     "Name of the skill directory",
				Type:     schema.String,
				Required: true,
			},
			"base_path": {
				Desc:     "Directory containing the skills; defaults to the workspace skills directory",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *UseSkillTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		SkillName string `json:"skill_name"`
		BasePath  string `json:"base_path"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.SkillName == "" {
		return "", errors.New("skill_name is required")
	}

	notFound := fmt.Sprintf("Skill '%s' not found, please check the skill name and the skill path.", args.SkillName)
	if !validName(args.SkillName) {
		return notFound, nil
	}
	base := t.WS.SkillsDir()
	if args.BasePath != "" {
		base = t.WS.Resolve(args.BasePath)
	}
	data, err := os.ReadFile(filepath.Join(base, args.SkillName, skillFileName))
	if err != nil {
		return notFound, nil
	}
	return string(data), nil
}

// GetDataDescTool 读取数据集描述 data/<name>.md。
type GetDataDescTool struct {
	WS *Workspace
}

func (t *GetDataDescTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_data_desc",
		Desc: "Get the description of a dataset: its location, columns and meaning.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"name": {
				Desc:     "Dataset name",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *GetDataDescTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Name == "" {
		return "", errors.New("name is required")
	}

	notFound := fmt.Sprintf("Dataset '%s' not found, please check the dataset name and the dataset path.", args.Name)
	if !validName(args.Name) {
		return notFound, nil
	}
	data, err := os.ReadFile(filepath.Join(t.WS.DataDir(), args.Name+".md"))
	if err != nil {
		return notFound, nil
	}
	return string(data), nil
}

// SaveResultTool 将分析结果写入 results/<file_name>。
type SaveResultTool struct {
	WS *Workspace
}

func (t *SaveResultTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "save_result",
		Desc: "Save the final analysis result as a markdown file in the results directory.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"result": {
				Desc:     "Markdown content of the result",
				Type:     schema.String,
				Required: true,
			},
			"file_name": {
				Desc:     "File name, '.md' is appended when missing (default result.md)",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *SaveResultTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Result   string `json:"result"`
		FileName string `json:"file_name"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	name := resultFileName(args.FileName)
	path := filepath.Join(t.WS.ResultsDir(), name)
	if err := writeFile(path, args.Result); err != nil {
		return fmt.Sprintf("Error saving result to %s: %v", path, err), nil
	}
	return "Result saved to " + path, nil
}

// resultFileName 只保留文件名部分，并保证 .md 后缀。
func resultFileName(name string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		name = filepath.Base(filepath.Clean(name))
	}
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return defaultResultFile
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return name
}

// SaveContextTool 将上下文写入 contexts/<agent_name>/<context_name>.txt，供压缩后恢复。
type SaveContextTool struct {
	WS *Workspace
}

func (t *SaveContextTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "save_context",
		Desc: "Save important working context (progress, findings, next steps) so it can be restored later with get_context.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"context": {
				Desc:     "Context text to save",
				Type:     schema.String,
				Required: true,
			},
			"agent_name": {
				Desc:     "Agent name (default agent)",
				Type:     schema.String,
				Required: false,
			},
			"context_name": {
				Desc:     "Context name (default context)",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *SaveContextTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Context     string `json:"context"`
		AgentName   string `json:"agent_name"`
		ContextName string `json:"context_name"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	path, err := t.WS.contextPath(args.AgentName, args.ContextName)
	if err != nil {
		return "", err
	}
	if err := writeFile(path, args.Context); err != nil {
		return fmt.Sprintf("Error saving context to %s: %v", path, err), nil
	}
	return "Context saved to " + path, nil
}

// GetContextTool 读取 save_context 保存的上下文。
type GetContextTool struct {
	WS *Workspace
}

func (t *GetContextTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_context",
		Desc: "Load a context previously saved with save_context.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"agent_name": {
				Desc:     "Agent name (default agent)",
				Type:     schema.String,
				Required: false,
			},
			"context_name": {
				Desc:     "Context name (default context)",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *GetContextTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		AgentName   string `json:"agent_name"`
		ContextName string `json:"context_name"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	agentName := orDefault(args.AgentName, defaultAgentName)
	contextName := orDefault(args.ContextName, defaultContextName)
	notFound := fmt.Sprintf("Context '%s' not found for agent '%s', please check the context name and the agent name.", contextName, agentName)

	path, err := t.WS.contextPath(agentName, contextName)
	if err != nil {
		return notFound, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return notFound, nil
	}
	return string(data), nil
}

func (w *Workspace) contextPath(agentName, contextName string) (string, error) {
	agentName = orDefault(agentName, defaultAgentName)
	contextName = orDefault(contextName, defaultContextName)
	if !validName(agentName) {
		return "", fmt.Errorf("invalid agent_name %q", agentName)
	}
	if !validName(contextName) {
		return "", fmt.Errorf("invalid context_name %q", contextName)
	}
	return filepath.Join(w.ContextsDir(), agentName, contextName+".txt"), nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
