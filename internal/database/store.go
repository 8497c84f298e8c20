package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/webjudge/agent/evaluation"
	"github.com/BaSui01/webjudge/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 📝 评测结果存储
// =============================================================================

// EvaluationRecord 评测结果表。常用字段单独建列，完整结果以 JSON 保存在 Payload。
type EvaluationRecord struct {
	TaskID          string `gorm:"primaryKey;size:128"`
	TaskDescription string `gorm:"type:text"`
	PredictedLabel  int    `gorm:"index"`
	EvidenceCount   int
	Screenshots     int
	Payload         string    `gorm:"type:text"`
	CompletedAt     time.Time `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName 表名
func (EvaluationRecord) TableName() string { return "evaluation_results" }

// GormStore 基于 GORM 的 evaluation.ResultStore 实现
type GormStore struct {
	db       *DB
	metrics  *metrics.Collector
	attempts int
	logger   *zap.Logger
}

var _ evaluation.ResultStore = (*GormStore)(nil)

// NewGormStore 创建存储并迁移表结构
func NewGormStore(ctx context.Context, db *DB, collector *metrics.Collector, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := db.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := session.AutoMigrate(&EvaluationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate evaluation_results: %w", err)
	}
	return &GormStore{
		db:       db,
		metrics:  collector,
		attempts: 3,
		logger:   logger.With(zap.String("component", "result_store")),
	}, nil
}

// Save 按 task_id 写入或覆盖结果
func (s *GormStore) Save(ctx context.Context, result *evaluation.EvaluationResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	rec := EvaluationRecord{
		TaskID:          result.TaskID,
		TaskDescription: result.TaskDescription,
		PredictedLabel:  result.PredictedLabel,
		EvidenceCount:   result.EvidenceCount,
		Screenshots:     len(result.Screenshots),
		Payload:         string(payload),
		CompletedAt:     result.CompletedAt,
	}

	start := time.Now()
	err = s.db.Transact(ctx, s.attempts, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"task_description", "predicted_label", "evidence_count",
				"screenshots", "payload", "completed_at", "updated_at",
			}),
		}).Create(&rec).Error
	})
	s.metrics.RecordDBQuery(s.db.Driver(), "save", time.Since(start))
	if err != nil {
		return fmt.Errorf("save evaluation %s: %w", result.TaskID, err)
	}

	s.logger.Debug("evaluation result saved", zap.String("task_id", result.TaskID))
	return nil
}

// Get 读取结果，不存在时返回 evaluation.ErrResultNotFound
func (s *GormStore) Get(ctx context.Context, taskID string) (*evaluation.EvaluationResult, error) {
	session, err := s.db.session(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	var rec EvaluationRecord
	err = session.Where("task_id = ?", taskID).First(&rec).Error
	s.metrics.RecordDBQuery(s.db.Driver(), "get", time.Since(start))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, evaluation.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation %s: %w", taskID, err)
	}

	var result evaluation.EvaluationResult
	if err := json.Unmarshal([]byte(rec.Payload), &result); err != nil {
		return nil, fmt.Errorf("decode evaluation %s: %w", taskID, err)
	}
	return &result, nil
}
