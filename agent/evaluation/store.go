package evaluation

import (
	"context"
	"errors"
)

// ErrResultNotFound 结果不存在
var ErrResultNotFound = errors.New("evaluation result not found")

// ResultStore 评测结果持久化接口，实现见 internal/database。
type ResultStore interface {
	Save(ctx context.Context, result *EvaluationResult) error
	Get(ctx context.Context, taskID string) (*EvaluationResult, error)
}
