package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wwwzy/DataAgent/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "dataagent",
	Short: "DataAgent 是一个带上下文压缩的数据分析 Agent",
	Long: `DataAgent 通过自然语言完成数据分析：读取数据说明、执行 Python 代码、保存结果。
长对话可通过压缩标记截断为锚点消息加最近若干条消息，以控制上下文窗口。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.dataagent/config.yaml 搜索）")
}

// initConfig 读取配置文件和环境变量（如果已设置）。
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.SetupLogging()
}

// signalContext 在收到 SIGINT/SIGTERM 时取消。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
