package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/BaSui01/webjudge/agent/evaluation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// 📝 evaluate / batch 命令
// =============================================================================

type evaluateOptions struct {
	input  string
	output string
	strict bool
}

func newEvaluateCommand(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single task from a JSON request file",
		Long: `Evaluate one task offline.

The input file holds an evaluation request with task_description, screenshots
(base64 or data URIs) and optional task_id, action_history, thoughts,
final_result_response and input_image_paths. The result is written as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req evaluation.EvaluationRequest
			if err := readJSONFile(opts.input, &req); err != nil {
				return err
			}

			app, logger, err := bootstrapCLI(root, opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = app.Close() }()

			result, err := app.evaluator.Evaluate(cmd.Context(), &req)
			if err != nil {
				return fmt.Errorf("evaluate task: %w", err)
			}
			if err := writeJSON(cmd.OutOrStdout(), opts.output, result); err != nil {
				return err
			}
			if opts.strict && !result.Success() {
				return &TaskFailedError{Failed: 1, Total: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Evaluation request JSON file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the result to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit with code 1 when the verdict is failure")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// batchReport batch 命令的输出
type batchReport struct {
	Summary evaluation.BatchSummary `json:"summary"`
	Items   []evaluation.BatchItem  `json:"items"`
}

func newBatchCommand(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}
	var workers int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Evaluate many tasks from a JSON array of requests",
		Long: `Evaluate a list of tasks with a bounded number of workers.

Tasks are split into contiguous chunks, one per worker. Items in the report
keep the input order; a task that errors does not stop the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var reqs []*evaluation.EvaluationRequest
			if err := readJSONFile(opts.input, &reqs); err != nil {
				return err
			}
			reqs = slices.DeleteFunc(reqs, func(r *evaluation.EvaluationRequest) bool { return r == nil })

			app, logger, err := bootstrapCLI(root, opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = app.Close() }()

			if workers <= 0 {
				workers = app.cfg.Judge.BatchWorkers
			}
			items, summary := evaluation.NewBatchEvaluator(app.evaluator, logger).Run(cmd.Context(), reqs, workers)

			if err := writeJSON(cmd.OutOrStdout(), opts.output, batchReport{Summary: summary, Items: items}); err != nil {
				return err
			}
			if opts.strict && summary.Failed+summary.Errored > 0 {
				return &TaskFailedError{Failed: summary.Failed + summary.Errored, Total: summary.Total}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "JSON file holding an array of evaluation requests")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of workers (default judge.batch_workers)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit with code 1 when any task fails or errors")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// bootstrapCLI 加载配置并装配依赖。结果写 stdout 时日志改写 stderr；
// 未配置参考图目录时，input_image_paths 相对输入文件所在目录解析。
func bootstrapCLI(root *rootOptions, opts *evaluateOptions) (*application, *zap.Logger, error) {
	cfg, err := loadConfig(root, true)
	if err != nil {
		return nil, nil, err
	}
	if opts.output == "" {
		cfg.Log.OutputPaths = redirectStdout(cfg.Log.OutputPaths)
	}
	if cfg.Judge.ReferenceImageDir == "" {
		cfg.Judge.ReferenceImageDir = filepath.Dir(opts.input)
	}

	logger := initLogger(cfg.Log)
	app, err := newApplication(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return app, logger, nil
}

func redirectStdout(paths []string) []string {
	if len(paths) == 0 {
		return []string{"stderr"}
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		if p == "stdout" {
			p = "stderr"
		}
		out[i] = p
	}
	return out
}

func readJSONFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse input %s: %w", path, err)
	}
	return nil
}

// writeJSON 写入缩进 JSON，path 为空时写 stdout
func writeJSON(stdout io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
