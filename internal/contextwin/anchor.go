package contextwin

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// DefaultAnchorTemplate 是压缩后重新注入的 "important context"。
// 使用 FString 格式，变量: {base_path}, {agent_name}
//
//go:embed anchor.tmpl
var DefaultAnchorTemplate string

// AnchorParams 是渲染 ContinuityAnchor 所需的参数。
type AnchorParams struct {
	BasePath  string
	AgentName string
}

func (p AnchorParams) vars() (map[string]any, error) {
	if strings.TrimSpace(p.BasePath) == "" {
		return nil, errors.New("anchor param base_path is required")
	}
	if strings.TrimSpace(p.AgentName) == "" {
		return nil, errors.New("anchor param agent_name is required")
	}
	return map[string]any{
		"base_path":  p.BasePath,
		"agent_name": p.AgentName,
	}, nil
}

// LoadAnchorTemplate 读取自定义模板文件，path 为空时使用内置模板。
func LoadAnchorTemplate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultAnchorTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read anchor template: %w", err)
	}
	return string(data), nil
}

// RenderAnchor 渲染 ContinuityAnchor 文本。
// 参数缺失或模板格式错误都会返回 error，调用方应在构建 agent 时直接失败。
func RenderAnchor(ctx context.Context, tmpl string, params AnchorParams) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", errors.New("anchor template is empty")
	}
	vars, err := params.vars()
	if err != nil {
		return "", err
	}

	msgs, err := prompt.FromMessages(schema.FString, schema.UserMessage(tmpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render anchor template: %w", err)
	}
	if len(msgs) != 1 {
		return "", fmt.Errorf("render anchor template: expected 1 message, got %d", len(msgs))
	}
	return msgs[0].Content, nil
}
