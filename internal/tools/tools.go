package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/sandbox"
)

// Deps 为构造工具集所需的依赖。
type Deps struct {
	Workspace *Workspace
	Runner    sandbox.Runner
	// RunTimeout 仅用于超时提示文案。
	RunTimeout time.Duration
	Flags      contextwin.FlagStore
	AgentName  string
	// Audit 为 nil 时不记录审计。
	Audit  AuditStore
	Logger logrus.FieldLogger
}

func GetTools(deps Deps) []tool.BaseTool {
	tools := []tool.BaseTool{
		&RunPythonCodeTool{Runner: deps.Runner, Timeout: deps.RunTimeout},
		&UseSkillTool{WS: deps.Workspace},
		&GetDataDescTool{WS: deps.Workspace},
		&SaveResultTool{WS: deps.Workspace},
		&SaveContextTool{WS: deps.Workspace},
		&GetContextTool{WS: deps.Workspace},
	}
	if deps.Flags != nil {
		tools = append(tools, &RequestCompactionTool{Flags: deps.Flags, AgentName: deps.AgentName})
	}
	if deps.Audit != nil {
		for i, t := range tools {
			tools[i] = WrapWithAudit(t, deps.Audit, deps.Logger)
		}
	}
	return tools
}

func GetToolsInfo(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	toolInfos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get tool info: %w", err)
		}
		toolInfos = append(toolInfos, info)
	}
	return toolInfos, nil
}
