package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/DataAgent/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况、清理审计记录和删除会话线程的命令。`,
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	Run:   runInfo,
}

// pruneAuditCmd represents the prune-audit command
var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理审计记录",
	Long:  `根据用户指定的保留条数或天数，清理旧的审计记录。`,
	Run:   runPruneAudit,
}

// deleteThreadCmd represents the delete-thread command
var deleteThreadCmd = &cobra.Command{
	Use:   "delete-thread <thread-id>",
	Short: "删除一个会话线程的全部历史",
	Args:  cobra.ExactArgs(1),
	Run:   runDeleteThread,
}

var (
	keepAuditCount int
	keepAuditDays  int
)

func init() {
	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "保留最近的 N 条记录")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")

	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(pruneAuditCmd)
	storageCmd.AddCommand(deleteThreadCmd)
}

func runPruneAudit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if keepAuditCount <= 0 && keepAuditDays <= 0 {
		fmt.Println("Error: must specify either --keep or --days")
		cmd.Usage()
		os.Exit(1)
	}

	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}

	fmt.Println("Opening database...")
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var deletedCount int64

	if keepAuditCount > 0 {
		fmt.Printf("Pruning audit records, keeping latest %d records...\n", keepAuditCount)
		count, err := store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			fmt.Printf("Error pruning by count: %v\n", err)
			os.Exit(1)
		}
		deletedCount += count
	}

	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Printf("Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))
		count, err := store.DeleteAuditRecordsBefore(ctx, before)
		if err != nil {
			fmt.Printf("Error pruning by days: %v\n", err)
			os.Exit(1)
		}
		deletedCount += count
	}

	fmt.Printf("Prune completed. Deleted %d records.\n", deletedCount)

	if count, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Printf("Remaining Audit Records: %d\n", count)
	}
}

func runDeleteThread(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	n, err := store.DeleteThread(ctx, args[0])
	if err != nil {
		fmt.Printf("Error deleting thread: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d messages from thread %s.\n", n, args[0])
}

func runInfo(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}

	// 1. 获取数据库文件信息
	var dbSizeStr string
	if cfg.Storage.Driver == storage.DriverPostgres {
		dbSizeStr = "postgres"
	} else {
		dbPath := cfg.Storage.Path
		if !filepath.IsAbs(dbPath) {
			if absPath, err := filepath.Abs(dbPath); err == nil {
				dbPath = absPath
			}
		}
		info, err := os.Stat(dbPath)
		switch {
		case os.IsNotExist(err):
			dbSizeStr = "Not Found (Will be created on first run)"
		case err != nil:
			dbSizeStr = fmt.Sprintf("Error: %v", err)
		default:
			sizeMB := float64(info.Size()) / 1024 / 1024
			dbSizeStr = fmt.Sprintf("%.2f MB (%s)", sizeMB, dbPath)
		}
	}

	// 2. 连接数据库
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Database File: %s\n", dbSizeStr)
		fmt.Printf("Error opening database: %v\n", err)
		return
	}
	defer store.Close()

	// 3. 获取统计信息
	msgCount, err := store.CountThreadMessages(ctx)
	if err != nil {
		fmt.Printf("Error counting thread messages: %v\n", err)
	}
	eventCount, err := store.CountCompactionEvents(ctx)
	if err != nil {
		fmt.Printf("Error counting compaction events: %v\n", err)
	}
	auditCount, err := store.CountAuditRecords(ctx)
	if err != nil {
		fmt.Printf("Error counting audit records: %v\n", err)
	}
	flags, err := store.ListAgentFlags(ctx)
	if err != nil {
		fmt.Printf("Error listing agent flags: %v\n", err)
	}

	// 4. 格式化输出
	fmt.Printf("Database File: %s\n\n", dbSizeStr)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "ThreadMessages\t%d\n", msgCount)
	fmt.Fprintf(w, "CompactionEvents\t%d\n", eventCount)
	fmt.Fprintf(w, "AuditRecords\t%d\n", auditCount)
	fmt.Fprintf(w, "AgentFlags\t%d\n", len(flags))
	w.Flush()
}
