package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wwwzy/DataAgent/internal/ui"
)

var (
	runAgent     string
	runThread    string
	runQueryFile string
	runMarkdown  bool
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "执行一次性查询",
	Long:  `执行一轮对话并把回复流式输出到标准输出，结束时打印线程 ID，便于用 --thread 继续。`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := readQuery(args, runQueryFile)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		session, store, err := openSession(ctx, runAgent)
		if err != nil {
			return err
		}
		defer store.Close()

		threadID := runThread
		if threadID == "" {
			threadID = uuid.NewString()
		}

		out := cmd.OutOrStdout()
		err = ui.RunOnce(ctx, session, out, ui.ChatOptions{
			ThreadID:  threadID,
			AgentName: session.AgentName(),
			Markdown:  runMarkdown,
		}, query)
		fmt.Fprintf(out, "thread: %s\n", threadID)
		return err
	},
}

func readQuery(args []string, file string) (string, error) {
	var query string
	switch {
	case len(args) > 0 && file != "":
		return "", fmt.Errorf("query 参数与 --query-file 不能同时使用")
	case len(args) > 0:
		query = args[0]
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("读取 query 文件失败: %w", err)
		}
		query = string(b)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	return query, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runAgent, "agent", "", "agent 实例名（默认 agent.name）")
	runCmd.Flags().StringVar(&runThread, "thread", "", "会话线程 ID（默认新建）")
	runCmd.Flags().StringVar(&runQueryFile, "query-file", "", "从文件读取 query")
	runCmd.Flags().BoolVar(&runMarkdown, "markdown", false, "最终回复以 markdown 渲染（不流式输出）")
}
