package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wwwzy/DataAgent/internal/agent"
	"github.com/wwwzy/DataAgent/internal/storage"
	"github.com/wwwzy/DataAgent/internal/tui"
	"github.com/wwwzy/DataAgent/internal/ui"
)

var (
	chatAgent    string
	chatThread   string
	chatMarkdown bool
	chatUI       string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `进入交互式对话，用自然语言完成数据分析。
同一 --thread 的历史会被延续；需要时 Agent 会调用内置工具读取数据、执行代码、保存结果。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		session, store, err := openSession(ctx, chatAgent)
		if err != nil {
			return err
		}
		defer store.Close()

		threadID := chatThread
		if threadID == "" {
			threadID = uuid.NewString()
		}

		return uiImpl.Run(ctx, session, ui.ChatOptions{
			ThreadID:  threadID,
			AgentName: session.AgentName(),
			Markdown:  chatMarkdown,
		})
	},
}

// openSession 打开存储并按配置构建 Session，调用方负责关闭 store。
func openSession(ctx context.Context, agentName string) (*agent.Session, *storage.Storage, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("打开存储失败: %w", err)
	}
	session, err := agent.FromConfig(ctx, cfg, store, agentName, logrus.StandardLogger())
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("构建 Agent 失败: %w", err)
	}
	return session, store, nil
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatAgent, "agent", "", "agent 实例名（默认 agent.name）")
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "会话线程 ID（默认新建）")
	chatCmd.Flags().BoolVar(&chatMarkdown, "markdown", false, "最终回复以 markdown 渲染（不流式输出）")
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
}
