// =============================================================================
// WebJudge 主入口
// =============================================================================
// 多证据网页智能体任务评判服务
//
// 使用方法:
//
//	webjudge serve                                  # 启动 HTTP 服务
//	webjudge serve --config config.yaml             # 指定配置文件
//	webjudge evaluate --input req.json              # 评测单个任务
//	webjudge batch --input reqs.json --workers 4    # 批量评测
//	webjudge version                                # 显示版本信息
// =============================================================================

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	ExitSuccess    = 0
	ExitTaskFailed = 1 // 评测完成但结论为失败
	ExitError      = 2 // 配置或运行错误
)

// TaskFailedError 评测正常完成但至少一个任务判定为失败
type TaskFailedError struct {
	Failed int
	Total  int
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("%d of %d task(s) judged as failure", e.Failed, e.Total)
}

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var failed *TaskFailedError
		if errors.As(err, &failed) {
			os.Exit(ExitTaskFailed)
		}
		os.Exit(ExitError)
	}
}

func execute() error {
	return newRootCommand().Execute()
}

// rootOptions 所有子命令共享的参数
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "webjudge",
		Short: "WebJudge - multi-evidence judge for web navigation agents",
		Long: `WebJudge decides whether a web navigation agent completed its task.

It extracts key points from the task description, scores every screenshot
against them, and asks a reasoning model for a final success or failure
verdict over the best evidence.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newEvaluateCommand(opts))
	cmd.AddCommand(newBatchCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "WebJudge %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}
