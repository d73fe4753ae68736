package agent

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
)

// DefaultSystemPrompt 为内置系统提示词，包含动态变量 {os} {arch} {time} {workspace} {agent_name}。
//
//go:embed system_prompt.md
var DefaultSystemPrompt string

// LoadSystemPrompt 读取自定义系统提示词文件，path 为空时返回内置提示词。
func LoadSystemPrompt(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt %s: %w", path, err)
	}
	return string(data), nil
}

// renderSystemPrompt 替换环境变量，并在末尾追加技能清单。
func renderSystemPrompt(tmpl, workspace, agentName, skillsSection string) string {
	content := strings.NewReplacer(
		"{os}", runtime.GOOS,
		"{arch}", runtime.GOARCH,
		"{time}", time.Now().Format(time.RFC3339),
		"{workspace}", workspace,
		"{agent_name}", agentName,
	).Replace(tmpl)
	if skillsSection != "" {
		content = strings.TrimRight(content, "\n") + "\n\n" + skillsSection
	}
	return content
}

// newMessageModifier 在每次把历史消息传递给 ChatModel 之前执行：
// 修复非法的工具调用参数、去掉孤立的工具结果，并在最前面加上 system message。
// 修改结果只作用于本次模型调用，不会写回状态。
func newMessageModifier(systemPrompt func() string) react.MessageModifier {
	return func(_ context.Context, input []*schema.Message) []*schema.Message {
		sanitized := dropOrphanToolResults(sanitizeToolCalls(input))

		for _, m := range sanitized {
			if m != nil && m.Role == schema.System {
				return sanitized
			}
		}

		out := make([]*schema.Message, 0, len(sanitized)+1)
		out = append(out, schema.SystemMessage(systemPrompt()))
		out = append(out, sanitized...)
		return out
	}
}

// sanitizeToolCalls 将空或非法 JSON 的工具调用参数替换为 "{}"，只在需要时复制。
func sanitizeToolCalls(input []*schema.Message) []*schema.Message {
	sanitized := input
	changed := false
	for i, m := range input {
		if m == nil || m.Role != schema.Assistant || len(m.ToolCalls) == 0 {
			continue
		}
		toolCallsChanged := false
		newToolCalls := m.ToolCalls
		for j := range m.ToolCalls {
			args := strings.TrimSpace(m.ToolCalls[j].Function.Arguments)
			if args == "" || args == "null" || !json.Valid([]byte(args)) {
				if !toolCallsChanged {
					newToolCalls = append([]schema.ToolCall(nil), m.ToolCalls...)
					toolCallsChanged = true
				}
				newToolCalls[j].Function.Arguments = "{}"
			}
		}
		if toolCallsChanged {
			if !changed {
				sanitized = append([]*schema.Message(nil), input...)
				changed = true
			}
			nm := *m
			nm.ToolCalls = newToolCalls
			sanitized[i] = &nm
		}
	}
	return sanitized
}

// dropOrphanToolResults 去掉找不到对应 assistant 工具调用的 tool 消息。
// 压缩只保留最近几条消息，窗口起点可能落在一组工具结果中间，模型接口不接受这种消息。
func dropOrphanToolResults(input []*schema.Message) []*schema.Message {
	calls := make(map[string]struct{})
	var out []*schema.Message
	for i, m := range input {
		if m == nil {
			continue
		}
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = struct{}{}
		}
		if m.Role == schema.Tool {
			if _, ok := calls[m.ToolCallID]; !ok {
				if out == nil {
					out = append(make([]*schema.Message, 0, len(input)), input[:i]...)
				}
				continue
			}
		}
		if out != nil {
			out = append(out, m)
		}
	}
	if out == nil {
		return input
	}
	return out
}
