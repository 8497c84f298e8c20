package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BaSui01/webjudge/agent/evaluation"
	"github.com/BaSui01/webjudge/types"
	"go.uber.org/zap"
)

// =============================================================================
// ⚖️ 评测 Handler
// =============================================================================

// Evaluator 评测流水线入口，由 *evaluation.Evaluator 实现。
type Evaluator interface {
	Evaluate(ctx context.Context, req *evaluation.EvaluationRequest) (*evaluation.EvaluationResult, error)
}

// EvaluationHandler 评测相关 HTTP 处理器
type EvaluationHandler struct {
	evaluator    Evaluator
	store        evaluation.ResultStore
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewEvaluationHandler 创建评测处理器，store 可为 nil。
func NewEvaluationHandler(evaluator Evaluator, store evaluation.ResultStore, maxBodyBytes int64, logger *zap.Logger) *EvaluationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluationHandler{
		evaluator:    evaluator,
		store:        store,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(zap.String("handler", "evaluation")),
	}
}

// Register 注册路由
func (h *EvaluationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs/evaluate_task", h.HandleEvaluate)
	mux.HandleFunc("GET /v1/runs/{task_id}/evaluation", h.HandleGetEvaluation)
}

// HandleEvaluate 处理 POST /v1/runs/evaluate_task
// 成功时直接返回 EvaluationResult，错误时返回统一错误结构。
func (h *EvaluationHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req evaluation.EvaluationRequest
	if err := DecodeJSONBodyLimit(w, r, &req, h.maxBodyBytes, h.logger); err != nil {
		return
	}

	result, err := h.evaluator.Evaluate(r.Context(), &req)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			h.logger.Info("client went away during evaluation", zap.String("task_id", req.TaskID))
			return
		}
		WriteErrorFrom(w, err, h.logger)
		return
	}

	h.logger.Info("evaluation served",
		zap.String("task_id", result.TaskID),
		zap.Int("predicted_label", result.PredictedLabel),
		zap.Int("evidence_count", result.EvidenceCount),
	)
	WriteJSON(w, http.StatusOK, result)
}

// HandleGetEvaluation 处理 GET /v1/runs/{task_id}/evaluation
func (h *EvaluationHandler) HandleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.PathValue("task_id"))
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task_id is required", h.logger)
		return
	}
	if h.store == nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "result storage is not enabled", h.logger)
		return
	}

	result, err := h.store.Get(r.Context(), taskID)
	if errors.Is(err, evaluation.ErrResultNotFound) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "evaluation not found: "+taskID, h.logger)
		return
	}
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to load evaluation").
			WithCause(err).
			WithRetryable(true), h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
