package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/sandbox"
	"github.com/wwwzy/DataAgent/internal/skills"
	"github.com/wwwzy/DataAgent/internal/storage"
	"github.com/wwwzy/DataAgent/internal/tools"
)

const defaultMaxStep = 40

// Options 为构建 Session 的全部依赖。
type Options struct {
	AgentName string
	MaxStep   int
	// Model 为尚未绑定工具的 ChatModel，构建时调用 WithTools。
	Model model.ToolCallingChatModel
	// SystemPrompt 为系统提示词模板，空则使用内置模板。
	SystemPrompt string

	Workspace  *tools.Workspace
	Runner     sandbox.Runner
	RunTimeout time.Duration

	Store *storage.Storage
	Flags contextwin.FlagStore

	Policy         contextwin.Policy
	AnchorTemplate string

	Logger logrus.FieldLogger
}

// Session 持有一个 agent 实例：react agent、上下文窗口管理器与会话存储。
type Session struct {
	name    string
	agent   *react.Agent
	manager *contextwin.Manager
	store   *storage.Storage
	log     logrus.FieldLogger

	locks *threadLocks
}

// New 构建 Session。锚点渲染失败属于配置错误，直接返回 error。
func New(ctx context.Context, opts Options) (*Session, error) {
	name := strings.TrimSpace(opts.AgentName)
	if name == "" {
		return nil, errors.New("agent name is required")
	}
	if opts.Model == nil {
		return nil, errors.New("chat model is required")
	}
	if opts.Store == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Workspace == nil {
		return nil, errors.New("workspace is required")
	}
	if opts.Flags == nil {
		opts.Flags = opts.Store
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = defaultMaxStep
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithFields(logrus.Fields{"component": "agent", "agent": name})

	anchorTmpl := opts.AnchorTemplate
	if anchorTmpl == "" {
		anchorTmpl = contextwin.DefaultAnchorTemplate
	}
	anchor, err := contextwin.RenderAnchor(ctx, anchorTmpl, contextwin.AnchorParams{
		BasePath:  opts.Workspace.SkillsDir(),
		AgentName: name,
	})
	if err != nil {
		return nil, fmt.Errorf("render continuity anchor: %w", err)
	}

	store := opts.Store
	manager, err := contextwin.NewManager(ctx, contextwin.Config{
		AgentName: name,
		Policy:    opts.Policy,
		Flags:     opts.Flags,
		Anchor:    anchor,
		Logger:    logger,
		OnCompact: func(ctx context.Context, ev contextwin.Event) {
			rec := &storage.CompactionEvent{
				AgentName:      ev.AgentName,
				ThreadID:       ev.ThreadID,
				MessagesBefore: ev.MessagesBefore,
				MessagesAfter:  ev.MessagesAfter,
			}
			if err := store.InsertCompactionEvent(ctx, rec); err != nil {
				log.WithError(err).Warn("record compaction event failed")
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create context window manager: %w", err)
	}

	toolset := tools.GetTools(tools.Deps{
		Workspace:  opts.Workspace,
		Runner:     opts.Runner,
		RunTimeout: opts.RunTimeout,
		Flags:      opts.Flags,
		AgentName:  name,
		Audit:      store,
		Logger:     logger,
	})
	toolsInfo, err := tools.GetToolsInfo(ctx, toolset)
	if err != nil {
		return nil, err
	}
	toolCallingModel, err := opts.Model.WithTools(toolsInfo)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}

	promptTmpl := opts.SystemPrompt
	if promptTmpl == "" {
		promptTmpl = DefaultSystemPrompt
	}
	found, err := skills.Discover(opts.Workspace.SkillsDir())
	if err != nil {
		log.WithError(err).Warn("discover skills failed")
	}
	skillsSection := skills.Prompt(found, opts.Workspace.SkillsDir())
	systemPrompt := func() string {
		return renderSystemPrompt(promptTmpl, opts.Workspace.Root, name, skillsSection)
	}

	ra, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: toolCallingModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: toolset,
		},
		MessageModifier:       newMessageModifier(systemPrompt),
		MessageRewriter:       recordingRewriter(manager),
		MaxStep:               opts.MaxStep,
		StreamToolCallChecker: toolCallChecker,
	})
	if err != nil {
		return nil, fmt.Errorf("create react agent: %w", err)
	}

	log.WithFields(logrus.Fields{
		"tools":  len(toolset),
		"skills": len(found),
	}).Debug("agent ready")

	return &Session{
		name:    name,
		agent:   ra,
		manager: manager,
		store:   store,
		log:     log,
		locks:   newThreadLocks(),
	}, nil
}

func (s *Session) AgentName() string { return s.name }

func (s *Session) Manager() *contextwin.Manager { return s.manager }

// recordingRewriter 在 Manager.Apply 之外，把每次重写后的状态记录到本轮 transcript 中。
func recordingRewriter(m *contextwin.Manager) react.MessageModifier {
	return func(ctx context.Context, input []*schema.Message) []*schema.Message {
		out, compacted := m.Apply(ctx, input)
		if tr := transcriptFrom(ctx); tr != nil {
			tr.record(out, compacted)
		}
		return out
	}
}

// toolCallChecker 读取整个流判断是否包含工具调用；部分模型先输出文本再输出 tool call。
func toolCallChecker(_ context.Context, sr *schema.StreamReader[*schema.Message]) (bool, error) {
	defer sr.Close()
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if msg != nil && len(msg.ToolCalls) > 0 {
			return true, nil
		}
	}
}
