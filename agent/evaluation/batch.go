package evaluation

import (
	"context"
	"time"

	"github.com/BaSui01/webjudge/internal/pool"
	"go.uber.org/zap"
)

// BatchItem 批量评测中单个任务的结果
type BatchItem struct {
	TaskID string            `json:"task_id"`
	Result *EvaluationResult `json:"result,omitempty"`
	Err    error             `json:"-"`
	Error  string            `json:"error,omitempty"`
}

// BatchSummary 批量评测汇总
type BatchSummary struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Errored     int     `json:"errored"`
	SuccessRate float64 `json:"success_rate"`
	DurationSec float64 `json:"duration_s"`
}

// BatchEvaluator 多任务批量评测。
// 任务按连续分块分配给各 worker，每个 worker 之间互不共享状态。
type BatchEvaluator struct {
	evaluator *Evaluator
	logger    *zap.Logger
}

// NewBatchEvaluator 创建批量评测器
func NewBatchEvaluator(evaluator *Evaluator, logger *zap.Logger) *BatchEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchEvaluator{
		evaluator: evaluator,
		logger:    logger.With(zap.String("component", "batch_evaluator")),
	}
}

// Run evaluates every request. Items come back in input order; a failed task
// only marks its own item.
func (b *BatchEvaluator) Run(ctx context.Context, reqs []*EvaluationRequest, workers int) ([]BatchItem, BatchSummary) {
	start := time.Now()
	b.logger.Info("batch started",
		zap.Int("tasks", len(reqs)),
		zap.Int("workers", workers),
		zap.Int("chunk_size", pool.ChunkSize(len(reqs), workers)),
	)

	results := pool.Partition(ctx, reqs, workers, func(ctx context.Context, _ int, req *EvaluationRequest) (*EvaluationResult, error) {
		return b.evaluator.Evaluate(ctx, req)
	})

	items := make([]BatchItem, len(results))
	for i, r := range results {
		item := BatchItem{Result: r.Value, Err: r.Err}
		if reqs[i] != nil {
			item.TaskID = reqs[i].TaskID
		}
		if r.Value != nil {
			item.TaskID = r.Value.TaskID
		}
		if r.Err != nil {
			item.Error = r.Err.Error()
			b.logger.Warn("batch task failed", zap.String("task_id", item.TaskID), zap.Error(r.Err))
		}
		items[i] = item
	}

	summary := Summarize(items)
	summary.DurationSec = time.Since(start).Seconds()
	b.logger.Info("batch completed",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("errored", summary.Errored),
		zap.Float64("success_rate", summary.SuccessRate),
	)
	return items, summary
}

// Summarize 统计批量结果，SuccessRate 以全部任务为分母
func Summarize(items []BatchItem) BatchSummary {
	s := BatchSummary{Total: len(items)}
	for _, it := range items {
		switch {
		case it.Err != nil || it.Result == nil:
			s.Errored++
		case it.Result.Success():
			s.Succeeded++
		default:
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Total)
	}
	return s
}
