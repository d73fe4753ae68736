package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/DataAgent/internal/contextwin"
)

// RequestCompactionTool 置位压缩标记，下一次模型调用前历史会被压缩。
type RequestCompactionTool struct {
	Flags contextwin.FlagStore
	// AgentName 为未指定 agent_name 时使用的当前 agent 实例名。
	AgentName string
}

func (t *RequestCompactionTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "request_compaction",
		Desc: "Request compaction of the conversation history before the next model call. " +
			"Save important progress with save_context first: only the first message and the most recent messages are kept.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"agent_name": {
				Desc:     "Agent instance name; defaults to the current agent",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *RequestCompactionTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		AgentName string `json:"agent_name"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if t.Flags == nil {
		return "", errors.New("compaction flag store is not configured")
	}

	name := strings.TrimSpace(args.AgentName)
	if name == "" {
		name = t.AgentName
	}
	if name == "" {
		return "", errors.New("agent_name is required")
	}
	if err := t.Flags.SetCompactFlag(ctx, name, true); err != nil {
		return "", fmt.Errorf("set compact flag for %s: %w", name, err)
	}
	return fmt.Sprintf("Compaction requested for agent '%s'; history will be compacted before the next model call.", name), nil
}
