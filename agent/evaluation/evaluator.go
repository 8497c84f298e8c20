package evaluation

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/webjudge/internal/ctxkeys"
	"github.com/BaSui01/webjudge/internal/metrics"
	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/llm/multimodal"
	"github.com/BaSui01/webjudge/llm/reasoning"
	"github.com/BaSui01/webjudge/llm/tokenizer"
	"github.com/BaSui01/webjudge/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/webjudge/agent/evaluation"

// Evaluator 评测流水线协调器。
// 每次 Evaluate 独立运行，不同评测之间不共享可变状态。
type Evaluator struct {
	cfg        EvaluatorConfig
	normalizer *multimodal.Normalizer
	extractor  *KeyPointExtractor
	judge      *EvidenceJudge
	verdict    *VerdictSynthesizer
	counter    tokenizer.Counter
	store      ResultStore
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
}

// Option 评测器选项
type Option func(*Evaluator)

// WithStore 设置结果存储
func WithStore(s ResultStore) Option {
	return func(e *Evaluator) { e.store = s }
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(t trace.Tracer) Option {
	return func(e *Evaluator) { e.tracer = t }
}

// WithNormalizer 设置图片归一化器
func WithNormalizer(n *multimodal.Normalizer) Option {
	return func(e *Evaluator) { e.normalizer = n }
}

// WithTokenCounter 设置动作历史截断使用的 token 计数器，默认按字符估算
func WithTokenCounter(c tokenizer.Counter) Option {
	return func(e *Evaluator) { e.counter = c }
}

// NewEvaluator 创建评测器
func NewEvaluator(client reasoning.Generator, cfg EvaluatorConfig, logger *zap.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("component", "evaluator")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = multimodal.NewNormalizer(multimodal.DefaultVisionConfig())
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	if e.counter == nil {
		e.counter = tokenizer.Estimator{}
	}

	e.extractor = NewKeyPointExtractor(client, logger)
	e.judge = NewEvidenceJudge(client, e.normalizer, e.cfg.MaxConcurrency, logger)
	e.verdict = NewVerdictSynthesizer(client, logger).WithHistoryBudget(e.counter, e.cfg.MaxHistoryTokens)
	return e
}

// Config 返回生效的配置
func (e *Evaluator) Config() EvaluatorConfig { return e.cfg }

// Store 返回结果存储，未配置时为 nil
func (e *Evaluator) Store() ResultStore { return e.store }

// ValidateRequest 校验评测请求
func ValidateRequest(req *EvaluationRequest) error {
	if req == nil {
		return invalidRequest("request body is required")
	}
	if strings.TrimSpace(req.TaskDescription) == "" {
		return invalidRequest("task_description is required")
	}
	if len(req.Screenshots) == 0 {
		return invalidRequest("at least one screenshot is required")
	}
	return nil
}

func invalidRequest(msg string) error {
	return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(http.StatusBadRequest)
}

// Evaluate runs the full pipeline for one task. Key-point and verdict failures
// abort the evaluation with EVALUATION_FAILED; per-screenshot failures only
// degrade the affected record.
func (e *Evaluator) Evaluate(ctx context.Context, req *EvaluationRequest) (*EvaluationResult, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	taskID := req.TaskID
	if strings.TrimSpace(taskID) == "" {
		taskID = uuid.NewString()
	}

	done := e.metrics.EvaluationStarted()
	defer done()

	ctx, span := e.tracer.Start(ctx, "evaluation.evaluate",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("screenshots", len(req.Screenshots)),
		))
	defer span.End()

	ctx = ctxkeys.WithTaskID(ctx, taskID)
	log := e.logger.With(zap.String("task_id", taskID))
	if rid, ok := ctxkeys.RequestID(ctx); ok {
		log = log.With(zap.String("request_id", rid))
	}
	log.Info("evaluation started", zap.Int("screenshots", len(req.Screenshots)))

	run := newEvaluationRun(taskID)
	fail := func(stage Stage, err error) (*EvaluationResult, error) {
		run.fail()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordEvaluation("error")
		log.Error("evaluation failed", zap.String("stage", string(stage)), zap.Error(err))
		return nil, types.NewError(types.ErrEvaluationFailed,
			fmt.Sprintf("task %s failed before %s", taskID, stage)).
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway)
	}

	// 参考图只归一化一次，关键点和每张截图评审共用
	refs, err := e.referenceParts(ctx, req.InputImagePaths)
	if err != nil {
		// 不允许的路径是调用方错误，原样返回 400
		if types.IsCode(err, types.ErrInvalidRequest) {
			run.fail()
			e.metrics.RecordEvaluation("error")
			log.Warn("reference image rejected", zap.Error(err))
			return nil, err
		}
		return fail(StageKeyPointsExtracted, err)
	}

	// 1. 关键点
	var keyPoints KeyPointSet
	err = e.stage(ctx, run, StageKeyPointsExtracted, func(ctx context.Context) error {
		var err error
		keyPoints, err = e.extractor.Extract(ctx, req.TaskDescription, refs)
		return err
	})
	if err != nil {
		return fail(StageKeyPointsExtracted, err)
	}

	// 2. 截图评审
	var records []JudgeRecord
	err = e.stage(ctx, run, StageScreenshotsJudged, func(ctx context.Context) error {
		shots := make([]Screenshot, len(req.Screenshots))
		for i, s := range req.Screenshots {
			shots[i] = Screenshot{Index: i, Encoded: s}
		}
		records = e.judge.JudgeAll(ctx, JudgeInput{
			Task:          req.TaskDescription,
			KeyPoints:     keyPoints.Text,
			ContextImages: refs,
			Screenshots:   shots,
		})
		return nil
	})
	if err != nil {
		return fail(StageScreenshotsJudged, err)
	}
	for _, r := range records {
		e.metrics.RecordJudgeScore(r.Score, r.Degraded())
	}

	bundle := FilterEvidence(records, e.cfg.ScoreThreshold, e.cfg.MaxEvidence)
	e.metrics.RecordEvidenceBundle(len(bundle.Records))

	// 3. 结论
	var verdict VerdictResult
	err = e.stage(ctx, run, StageVerdictSynthesized, func(ctx context.Context) error {
		var err error
		verdict, err = e.verdict.Synthesize(ctx, VerdictInput{
			Task:          req.TaskDescription,
			KeyPoints:     keyPoints.Text,
			ActionHistory: req.ActionHistory,
			FinalResult:   req.FinalResultResponse,
			Bundle:        bundle,
		})
		return err
	})
	if err != nil {
		return fail(StageVerdictSynthesized, err)
	}

	// 4. 标签
	label := 0
	if err := e.stage(ctx, run, StageLabeled, func(context.Context) error {
		label = ExtractLabel(verdict.Response)
		return nil
	}); err != nil {
		return fail(StageLabeled, err)
	}

	result := &EvaluationResult{
		TaskID:              taskID,
		TaskDescription:     req.TaskDescription,
		Response:            verdict.Response,
		PredictedLabel:      label,
		SystemMsg:           verdict.SystemMessage,
		ActionHistory:       slices.Clone(req.ActionHistory),
		Thoughts:            slices.Clone(req.Thoughts),
		FinalResultResponse: req.FinalResultResponse,
		Screenshots:         ScreenshotNames(len(req.Screenshots)),
		ImageJudgeRecord:    records,
		KeyPoints:           keyPoints.Text,
		KeyPointList:        keyPoints.Points,
		InputText:           BuildInputText(req),
		EvaluationDetails: EvaluationDetails{
			Response:       verdict.Response,
			PredictedLabel: label,
		},
		EvidenceCount: len(bundle.Records),
	}
	if err := run.advance(StageComplete); err != nil {
		return fail(StageComplete, err)
	}
	result.StageDurations = run.stageDurations()
	result.CompletedAt = time.Now().UTC()

	outcome := "failure"
	if result.Success() {
		outcome = "success"
	}
	e.metrics.RecordEvaluation(outcome)
	span.SetAttributes(
		attribute.Int("evaluation.label", label),
		attribute.Int("evaluation.evidence", len(bundle.Records)),
	)

	if e.store != nil {
		// 持久化失败不影响评测结果
		if err := e.store.Save(ctx, result); err != nil {
			log.Warn("failed to persist evaluation result", zap.Error(err))
		}
	}

	log.Info("evaluation completed",
		zap.Int("predicted_label", label),
		zap.Int("evidence", len(bundle.Records)),
		zap.Float64("duration_s", result.StageDurations["total"]),
	)
	return result, nil
}

// stage 在子 span 中执行一个阶段并推进状态机
func (e *Evaluator) stage(ctx context.Context, run *evaluationRun, to Stage, fn func(context.Context) error) error {
	name := strings.ToLower(string(to))
	ctx, span := e.tracer.Start(ctx, "evaluation."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	e.metrics.RecordStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return run.advance(to)
}

func (e *Evaluator) referenceParts(ctx context.Context, paths []string) ([]llm.ContentPart, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	parts := make([]llm.ContentPart, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := e.normalizer.ImagePart(multimodal.FromFile(p))
		if err != nil {
			if types.IsCode(err, types.ErrInvalidRequest) {
				return nil, err
			}
			return nil, fmt.Errorf("reference image %s: %w", p, err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// ScreenshotNames 返回 screenshot_1.png ... screenshot_n.png
func ScreenshotNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("screenshot_%d.png", i+1)
	}
	return names
}

// BuildInputText 响应中回显的输入摘要
func BuildInputText(req *EvaluationRequest) string {
	return fmt.Sprintf("User Task: %s\nAction History: %s\nThoughts: %s",
		req.TaskDescription,
		strings.Join(req.ActionHistory, "; "),
		strings.Join(req.Thoughts, "; "),
	)
}
