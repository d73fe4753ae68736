package ui

import (
	"context"

	"github.com/wwwzy/DataAgent/internal/agent"
)

// ChatBackend 执行一轮对话，*agent.Session 实现了它。
type ChatBackend interface {
	Run(ctx context.Context, threadID, query string, h agent.Handlers) (*agent.TurnResult, error)
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	// ThreadID 为会话线程，同一线程的历史会被延续。
	ThreadID  string
	AgentName string
	// Markdown 为 true 时不流式输出，最终回复用 glamour 渲染。
	Markdown bool
}
