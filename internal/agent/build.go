package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/wwwzy/DataAgent/internal/config"
	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/sandbox"
	"github.com/wwwzy/DataAgent/internal/storage"
	"github.com/wwwzy/DataAgent/internal/tools"
)

// FlagStoreFromConfig 按 context.flag_store 选择压缩标记的存储后端。
func FlagStoreFromConfig(cfg *config.Config, ws *tools.Workspace, store *storage.Storage) (contextwin.FlagStore, error) {
	switch cfg.Context.FlagStore {
	case config.FlagStoreDB:
		if store == nil {
			return nil, fmt.Errorf("flag_store=db requires storage")
		}
		return store, nil
	case config.FlagStoreFile, "":
		dir := cfg.Context.FlagDir
		if dir == "" {
			dir = config.DefaultConfig().Context.FlagDir
		}
		if !filepath.IsAbs(dir) {
			dir = ws.Resolve(dir)
		}
		return contextwin.NewFileFlagStore(dir), nil
	default:
		return nil, fmt.Errorf("unknown flag store %q", cfg.Context.FlagStore)
	}
}

// FromConfig 按配置组装 Session：Ark 模型、工作区、代码执行器、压缩标记与锚点模板。
// agentName 非空时覆盖 agent.name。
func FromConfig(ctx context.Context, cfg *config.Config, store *storage.Storage, agentName string, logger logrus.FieldLogger) (*Session, error) {
	if err := cfg.ValidateModel(); err != nil {
		return nil, err
	}
	if agentName == "" {
		agentName = cfg.Agent.Name
	}

	ws, err := tools.NewWorkspace(cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}
	if err := ws.Ensure(); err != nil {
		return nil, err
	}

	runner, err := sandbox.New(cfg.Sandbox, ws.Root, logger)
	if err != nil {
		return nil, fmt.Errorf("create code runner: %w", err)
	}

	flags, err := FlagStoreFromConfig(cfg, ws, store)
	if err != nil {
		return nil, err
	}

	anchorTmpl, err := contextwin.LoadAnchorTemplate(cfg.Context.AnchorTemplate)
	if err != nil {
		return nil, err
	}
	systemPrompt, err := LoadSystemPrompt(cfg.Agent.SystemPromptFile)
	if err != nil {
		return nil, err
	}

	chatModel, err := NewChatModel(ctx, cfg.Ark)
	if err != nil {
		return nil, err
	}

	return New(ctx, Options{
		AgentName:      agentName,
		MaxStep:        cfg.Agent.MaxStep,
		Model:          chatModel,
		SystemPrompt:   systemPrompt,
		Workspace:      ws,
		Runner:         runner,
		RunTimeout:     cfg.Sandbox.Timeout,
		Store:          store,
		Flags:          flags,
		Policy:         cfg.Context.Policy,
		AnchorTemplate: anchorTmpl,
		Logger:         logger,
	})
}
