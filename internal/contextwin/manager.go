package contextwin

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
)

type threadIDKey struct{}

// WithThreadID 将当前会话线程 ID 注入 context，压缩事件会带上它。
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey{}, threadID)
}

// ThreadIDFrom 从 context 获取线程 ID
func ThreadIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(threadIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Event 描述一次真正执行了的压缩。
type Event struct {
	AgentName      string
	ThreadID       string
	MessagesBefore int
	MessagesAfter  int
}

// Config 是 Manager 的构建参数。
type Config struct {
	AgentName string
	Policy    Policy
	Flags     FlagStore
	// Anchor 为已渲染好的 ContinuityAnchor 文本（见 RenderAnchor）。
	Anchor string
	// OnCompact 可选，每次压缩后回调。
	OnCompact func(ctx context.Context, ev Event)
	Logger    logrus.FieldLogger
}

// Manager 在每次调用模型前检查压缩标记，必要时用 Policy 重建历史。
// 一个 Manager 对应一个 agent 实例；同一线程内的调用是串行的。
type Manager struct {
	agentName string
	policy    Policy
	flags     FlagStore
	anchor    string
	onCompact func(ctx context.Context, ev Event)
	log       logrus.FieldLogger
}

func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	name := strings.TrimSpace(cfg.AgentName)
	if name == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.Flags == nil {
		return nil, errors.New("flag store is required")
	}
	if strings.TrimSpace(cfg.Anchor) == "" {
		return nil, errors.New("anchor text is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &Manager{
		agentName: name,
		policy:    cfg.Policy.withDefaults(),
		flags:     cfg.Flags,
		anchor:    cfg.Anchor,
		onCompact: cfg.OnCompact,
		log:       log.WithFields(logrus.Fields{"component": "contextwin", "agent": name}),
	}

	if err := InitFlag(ctx, m.flags, name); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) AgentName() string { return m.agentName }

func (m *Manager) Anchor() string { return m.anchor }

func (m *Manager) Policy() Policy { return m.policy }

// Apply 是压缩的唯一入口：
//   - flag 为 false（或读取失败）时原样返回；
//   - flag 为 true 时先重置为 false，再按 Policy 压缩（历史过短则不变）。
//
// 第二个返回值表示历史是否被整体替换。
func (m *Manager) Apply(ctx context.Context, history []*schema.Message) ([]*schema.Message, bool) {
	flagged, err := m.flags.GetCompactFlag(ctx, m.agentName)
	if err != nil {
		m.log.WithError(err).Warn("read compact flag failed, treat as false")
		return history, false
	}
	if !flagged {
		return history, false
	}

	if err := m.flags.SetCompactFlag(ctx, m.agentName, false); err != nil {
		m.log.WithError(err).Error("reset compact flag failed")
	}

	out, compacted := m.policy.Compact(history, m.anchor)
	if !compacted {
		m.log.WithField("messages", len(history)).Info("history too short, skip compaction")
		return history, false
	}

	ev := Event{
		AgentName:      m.agentName,
		ThreadID:       ThreadIDFrom(ctx),
		MessagesBefore: len(history),
		MessagesAfter:  len(out),
	}
	m.log.WithFields(logrus.Fields{
		"thread": ev.ThreadID,
		"before": ev.MessagesBefore,
		"after":  ev.MessagesAfter,
	}).Info("history compacted")

	if m.onCompact != nil {
		m.onCompact(ctx, ev)
	}
	return out, true
}

// Rewriter 适配为 react.AgentConfig.MessageRewriter：
// 返回值会整体替换 agent state 中保存的消息。
func (m *Manager) Rewriter() react.MessageModifier {
	return func(ctx context.Context, input []*schema.Message) []*schema.Message {
		out, _ := m.Apply(ctx, input)
		return out
	}
}
