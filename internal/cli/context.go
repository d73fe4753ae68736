package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/wwwzy/DataAgent/internal/agent"
	"github.com/wwwzy/DataAgent/internal/config"
	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/storage"
	"github.com/wwwzy/DataAgent/internal/tools"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "管理上下文压缩与会话历史",
	Long:  `设置/查看压缩标记，查看线程历史与压缩记录。压缩在下一次模型调用前生效。`,
}

var (
	ctxAgent  string
	ctxThread string
	ctxLimit  int
)

var contextCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "请求在下一次模型调用前压缩上下文",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFlagStore(cmd.Context(), func(flags contextwin.FlagStore, _ *storage.Storage) error {
			name := agentNameOrDefault(ctxAgent)
			if err := flags.SetCompactFlag(cmd.Context(), name, true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compact flag set for agent %q\n", name)
			return nil
		})
	},
}

var contextStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示压缩标记与压缩策略",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFlagStore(cmd.Context(), func(flags contextwin.FlagStore, _ *storage.Storage) error {
			name := agentNameOrDefault(ctxAgent)
			return printStatus(cmd.Context(), cmd.OutOrStdout(), flags, name, cfg.Context.Policy)
		})
	},
}

var contextHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "打印线程的存储历史",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ctxThread == "" {
			return fmt.Errorf("--thread is required")
		}
		store, err := storage.Open(cmd.Context(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer store.Close()

		history, err := store.LoadThread(cmd.Context(), ctxThread)
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), history)
		return nil
	},
}

var contextThreadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "列出最近的会话线程",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cmd.Context(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer store.Close()

		threads, err := store.ListThreads(cmd.Context(), ctxLimit)
		if err != nil {
			return err
		}
		printThreads(cmd.OutOrStdout(), threads)
		return nil
	},
}

var contextEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "列出已发生的压缩记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cmd.Context(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer store.Close()

		events, err := store.QueryCompactionEvents(cmd.Context(), storage.CompactionQuery{
			AgentName: ctxAgent,
			ThreadID:  ctxThread,
			Limit:     ctxLimit,
		})
		if err != nil {
			return err
		}
		printEvents(cmd.OutOrStdout(), events)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextCompactCmd, contextStatusCmd, contextHistoryCmd, contextThreadsCmd, contextEventsCmd)

	for _, c := range []*cobra.Command{contextCompactCmd, contextStatusCmd, contextEventsCmd} {
		c.Flags().StringVar(&ctxAgent, "agent", "", "agent 实例名（默认 agent.name）")
	}
	for _, c := range []*cobra.Command{contextHistoryCmd, contextEventsCmd} {
		c.Flags().StringVar(&ctxThread, "thread", "", "会话线程 ID")
	}
	for _, c := range []*cobra.Command{contextThreadsCmd, contextEventsCmd} {
		c.Flags().IntVar(&ctxLimit, "limit", 20, "最多显示条数")
	}
}

func agentNameOrDefault(name string) string {
	if name != "" {
		return name
	}
	return cfg.Agent.Name
}

// withFlagStore 按配置打开压缩标记后端；db 后端需要存储，file 后端不打开数据库。
func withFlagStore(ctx context.Context, fn func(contextwin.FlagStore, *storage.Storage) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := tools.NewWorkspace(cfg.Workspace.Root)
	if err != nil {
		return err
	}

	var store *storage.Storage
	if cfg.Context.FlagStore == config.FlagStoreDB {
		store, err = storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer store.Close()
	}

	flags, err := agent.FlagStoreFromConfig(cfg, ws, store)
	if err != nil {
		return err
	}
	return fn(flags, store)
}

func printStatus(ctx context.Context, w io.Writer, flags contextwin.FlagStore, agentName string, p contextwin.Policy) error {
	on, err := flags.GetCompactFlag(ctx, agentName)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Agent:        %s\n", agentName)
	fmt.Fprintf(w, "Compact flag: %v\n", on)
	fmt.Fprintf(w, "Policy:       min_history=%d keep_recent=%d\n", p.MinHistory, p.KeepRecent)
	return nil
}

func printHistory(w io.Writer, history []*schema.Message) {
	if len(history) == 0 {
		fmt.Fprintln(w, "(empty)")
		return
	}
	for i, m := range history {
		fmt.Fprintf(w, "[%d] %s", i, m.Role)
		if m.Role == schema.Tool && m.ToolName != "" {
			fmt.Fprintf(w, " (%s)", m.ToolName)
		}
		fmt.Fprintln(w)
		if content := strings.TrimSpace(m.Content); content != "" {
			fmt.Fprintln(w, indent(clipText(content, 500)))
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(w, "    -> %s %s\n", tc.Function.Name, clipText(tc.Function.Arguments, 200))
		}
	}
}

func printThreads(w io.Writer, threads []storage.ThreadSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "Thread\tAgent\tMessages\tUpdated")
	fmt.Fprintln(tw, "------\t-----\t--------\t-------")
	for _, t := range threads {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ThreadID, t.AgentName, t.Messages, formatTime(t.UpdatedAt))
	}
	tw.Flush()
}

func printEvents(w io.Writer, events []storage.CompactionEvent) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "Time\tAgent\tThread\tBefore\tAfter")
	fmt.Fprintln(tw, "----\t-----\t------\t------\t-----")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", formatTime(ev.CreatedAt), ev.AgentName, ev.ThreadID, ev.MessagesBefore, ev.MessagesAfter)
	}
	tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

func clipText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
