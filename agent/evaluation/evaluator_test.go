package evaluation

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/BaSui01/webjudge/internal/metrics"
	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/llm/multimodal"
	"github.com/BaSui01/webjudge/llm/reasoning"
	"github.com/BaSui01/webjudge/testutil/fixtures"
	"github.com/BaSui01/webjudge/testutil/mocks"
	"github.com/BaSui01/webjudge/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// scriptedGenerator 按系统指令路由响应的推理桩
type scriptedGenerator struct {
	mu sync.Mutex

	keyPoints  string
	keyErr     error
	judge      func(msgs []llm.Message) (string, error)
	verdict    string
	verdictErr error

	verdictMessages []llm.Message
	keyCalls        int
	judgeCalls      int
}

func (g *scriptedGenerator) Generate(_ context.Context, msgs []llm.Message, _ ...reasoning.Option) ([]string, error) {
	switch msgs[0].Content {
	case KeyPointSystemPrompt:
		g.mu.Lock()
		g.keyCalls++
		g.mu.Unlock()
		if g.keyErr != nil {
			return nil, g.keyErr
		}
		return []string{g.keyPoints}, nil
	case JudgeSystemPrompt:
		g.mu.Lock()
		g.judgeCalls++
		g.mu.Unlock()
		if g.judge == nil {
			return []string{fixtures.JudgeResponse("fine", 3)}, nil
		}
		text, err := g.judge(msgs)
		if err != nil {
			return nil, err
		}
		return []string{text}, nil
	case VerdictSystemPrompt:
		g.mu.Lock()
		g.verdictMessages = msgs
		g.mu.Unlock()
		if g.verdictErr != nil {
			return nil, g.verdictErr
		}
		return []string{g.verdict}, nil
	}
	return nil, errors.New("unexpected system prompt")
}

// screenshotURI 取最后一条用户消息中的截图 data URI
func screenshotURI(msgs []llm.Message) string {
	last := msgs[len(msgs)-1]
	for _, p := range last.Parts {
		if p.ImageURL != nil {
			return p.ImageURL.URL
		}
	}
	return ""
}

func normalizedURI(t *testing.T, encoded string) string {
	t.Helper()
	part, err := multimodal.NewNormalizer(multimodal.DefaultVisionConfig()).ImagePart(multimodal.FromEncoded(encoded))
	require.NoError(t, err)
	return part.ImageURL.URL
}

func TestEvaluate_BlueShirtEndToEnd(t *testing.T) {
	shots := []string{
		fixtures.Screenshot(color.RGBA{R: 200, A: 255}),
		fixtures.Screenshot(color.RGBA{B: 200, A: 255}),
		fixtures.Screenshot(color.RGBA{G: 200, A: 255}),
	}
	cartURI := normalizedURI(t, shots[1])

	gen := &scriptedGenerator{
		keyPoints: fixtures.KeyPointsResponse("Add a shirt to cart", "Shirt is blue"),
		judge: func(msgs []llm.Message) (string, error) {
			if screenshotURI(msgs) == cartURI {
				return fixtures.JudgeResponse("Cart shows a blue shirt", 5), nil
			}
			return fixtures.JudgeResponse("Unrelated landing page", 1), nil
		},
		verdict: fixtures.VerdictResponse("The shirt is in the cart.", "success"),
	}

	reg := prometheus.NewRegistry()
	ev := NewEvaluator(gen, DefaultEvaluatorConfig(), nil,
		WithMetrics(metrics.NewCollectorWithRegistry("test", reg, nil)))

	result, err := ev.Evaluate(context.Background(), &EvaluationRequest{
		TaskID:          "task-blue",
		TaskDescription: "Add a blue shirt to cart",
		ActionHistory:   []string{"search shirt", "add to cart"},
		Screenshots:     shots,
	})
	require.NoError(t, err)

	assert.Equal(t, "task-blue", result.TaskID)
	assert.Equal(t, 1, result.PredictedLabel)
	assert.True(t, result.Success())
	assert.Equal(t, 1, result.EvidenceCount)
	assert.Equal(t, "1. Add a shirt to cart\n2. Shirt is blue", result.KeyPoints)
	assert.Equal(t, []string{"Add a shirt to cart", "Shirt is blue"}, result.KeyPointList)
	assert.Equal(t, []string{"screenshot_1.png", "screenshot_2.png", "screenshot_3.png"}, result.Screenshots)
	assert.Equal(t, VerdictSystemPrompt, result.SystemMsg)
	assert.Equal(t, result.Response, result.EvaluationDetails.Response)

	require.Len(t, result.ImageJudgeRecord, 3)
	assert.Equal(t, []int{1, 5, 1}, []int{
		result.ImageJudgeRecord[0].Score,
		result.ImageJudgeRecord[1].Score,
		result.ImageJudgeRecord[2].Score,
	})

	// 结论调用只包含第二张截图的理由和图片
	require.Len(t, gen.verdictMessages, 2)
	user := gen.verdictMessages[1]
	require.Len(t, user.Parts, 2)
	assert.Contains(t, user.Parts[0].Text, "Thoughts from relevant images:\n1. Cart shows a blue shirt")
	assert.NotContains(t, user.Parts[0].Text, "Unrelated")
	assert.Equal(t, cartURI, user.Parts[1].ImageURL.URL)

	for _, stage := range []string{"key_points_extracted", "screenshots_judged", "verdict_synthesized", "labeled", "complete", "total"} {
		assert.Contains(t, result.StageDurations, stage)
	}
}

func TestEvaluate_LabelFollowsVerdictOnly(t *testing.T) {
	gen := &scriptedGenerator{
		keyPoints: "Key Points: 1. x",
		judge: func([]llm.Message) (string, error) {
			return fixtures.JudgeResponse("perfect", 5), nil
		},
		verdict: fixtures.VerdictResponse("Not actually done.", "failure"),
	}

	result, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "x",
		Screenshots:     fixtures.Screenshots(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.PredictedLabel)
	assert.NotEmpty(t, result.TaskID, "missing task id is generated")
}

func TestEvaluate_MalformedScreenshotDegrades(t *testing.T) {
	gen := &scriptedGenerator{
		keyPoints: "Key Points: 1. x",
		judge: func([]llm.Message) (string, error) {
			return fixtures.JudgeResponse("ok", 4), nil
		},
		verdict: "Status: success",
	}
	shots := fixtures.Screenshots(3)
	shots[1] = fixtures.MalformedScreenshot()

	result, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "x",
		Screenshots:     shots,
	})
	require.NoError(t, err)

	require.Len(t, result.ImageJudgeRecord, 3)
	bad := result.ImageJudgeRecord[1]
	assert.True(t, bad.Degraded())
	assert.Equal(t, 0, bad.Score)
	assert.Contains(t, bad.Err, string(types.ErrImageDecode))
	assert.Equal(t, bad.Err, bad.Rationale)
	assert.Equal(t, 2, gen.judgeCalls, "decode failure must not reach the model")
	assert.Equal(t, 2, result.EvidenceCount)
}

func TestEvaluate_JudgeCallFailureDegrades(t *testing.T) {
	gen := &scriptedGenerator{
		keyPoints: "Key Points: 1. x",
		judge: func([]llm.Message) (string, error) {
			return "", types.NewReasoningCallError("exhausted", errors.New("503"))
		},
		verdict: "Status: failure",
	}

	result, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "x",
		Screenshots:     fixtures.Screenshots(4),
	})
	require.NoError(t, err)
	for i, r := range result.ImageJudgeRecord {
		assert.Equal(t, i, r.ScreenshotIndex)
		assert.Equal(t, 0, r.Score)
		assert.Contains(t, r.Rationale, "exhausted")
	}
	assert.Zero(t, result.EvidenceCount)
}

func TestEvaluate_JudgeRecordsKeepInputOrder(t *testing.T) {
	shots := fixtures.Screenshots(12)
	uris := make(map[string]int, len(shots))
	for i, s := range shots {
		uris[normalizedURI(t, s)] = i
	}

	gen := &scriptedGenerator{
		keyPoints: "Key Points: 1. x",
		judge: func(msgs []llm.Message) (string, error) {
			i := uris[screenshotURI(msgs)]
			return fixtures.JudgeResponse("shot", i%5+1), nil
		},
		verdict: "Status: success",
	}

	cfg := DefaultEvaluatorConfig()
	cfg.MaxConcurrency = 3
	result, err := NewEvaluator(gen, cfg, nil).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "x",
		Screenshots:     shots,
	})
	require.NoError(t, err)

	require.Len(t, result.ImageJudgeRecord, len(shots))
	for i, r := range result.ImageJudgeRecord {
		assert.Equal(t, i, r.ScreenshotIndex)
		assert.Equal(t, i%5+1, r.Score)
	}
}

func TestEvaluate_ContextImagesSentWithEveryJudgeCall(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.png")
	require.NoError(t, os.WriteFile(ref, fixtures.ScreenshotPNG(color.White), 0o600))

	var mu sync.Mutex
	var withContext int
	gen := &scriptedGenerator{
		keyPoints: "Key Points: 1. x",
		judge: func(msgs []llm.Message) (string, error) {
			if len(msgs) == 3 && msgs[1].Parts[0].Text == "Context images:" {
				mu.Lock()
				withContext++
				mu.Unlock()
			}
			return fixtures.JudgeResponse("ok", 3), nil
		},
		verdict: "Status: success",
	}

	n := multimodal.NewNormalizer(multimodal.VisionConfig{ReferenceDir: dir})
	_, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil, WithNormalizer(n)).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "x",
		Screenshots:     fixtures.Screenshots(2),
		InputImagePaths: []string{"ref.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, withContext)
}

func TestEvaluate_FatalStages(t *testing.T) {
	callErr := types.NewReasoningCallError("exhausted", errors.New("boom"))

	tests := []struct {
		name string
		gen  *scriptedGenerator
	}{
		{"key points", &scriptedGenerator{keyErr: callErr}},
		{"verdict", &scriptedGenerator{keyPoints: "Key Points: 1", verdictErr: callErr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewEvaluator(tt.gen, DefaultEvaluatorConfig(), nil).Evaluate(context.Background(), &EvaluationRequest{
				TaskDescription: "x",
				Screenshots:     fixtures.Screenshots(1),
			})
			require.Error(t, err)
			assert.Nil(t, result, "no partial result")
			assert.True(t, types.IsCode(err, types.ErrEvaluationFailed))
			assert.True(t, types.IsCode(err, types.ErrReasoningCall))
		})
	}
}

func TestEvaluate_MissingReferenceImageIsFatal(t *testing.T) {
	gen := &scriptedGenerator{keyPoints: "Key Points: 1"}
	n := multimodal.NewNormalizer(multimodal.VisionConfig{ReferenceDir: t.TempDir()})
	_, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil, WithNormalizer(n)).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "x",
		Screenshots:     fixtures.Screenshots(1),
		InputImagePaths: []string{"missing.png"},
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrEvaluationFailed))
	assert.True(t, types.IsCode(err, types.ErrImageDecode))
}

func TestEvaluate_RejectedReferencePath(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.png")
	require.NoError(t, os.WriteFile(outside, fixtures.ScreenshotPNG(color.White), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	tests := []struct {
		name string
		dir  string
		path string
	}{
		{"absolute outside", dir, outside},
		{"traversal", dir, "../" + filepath.Base(outside)},
		{"device", dir, "/dev/zero"},
		{"directory", dir, "sub"},
		{"no reference dir", "", outside},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{keyPoints: "Key Points: 1", verdict: "Status: success"}
			n := multimodal.NewNormalizer(multimodal.VisionConfig{ReferenceDir: tt.dir})
			result, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil, WithNormalizer(n)).Evaluate(context.Background(), &EvaluationRequest{
				TaskDescription: "x",
				Screenshots:     fixtures.Screenshots(1),
				InputImagePaths: []string{tt.path},
			})
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, types.IsCode(err, types.ErrInvalidRequest), "%v", err)
			assert.False(t, types.IsCode(err, types.ErrEvaluationFailed))

			status := 0
			if e, ok := types.AsError(err); ok {
				status = e.HTTPStatus
			}
			assert.Equal(t, 400, status)
			assert.Zero(t, gen.keyCalls, "no reasoning call for a rejected path")
			assert.Zero(t, gen.judgeCalls)
		})
	}
}

func TestEvaluate_CancelledBeforeReferenceRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ref.png"), fixtures.ScreenshotPNG(color.White), 0o600))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &scriptedGenerator{keyPoints: "Key Points: 1"}
	n := multimodal.NewNormalizer(multimodal.VisionConfig{ReferenceDir: dir})
	_, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil, WithNormalizer(n)).Evaluate(ctx, &EvaluationRequest{
		TaskDescription: "x",
		Screenshots:     fixtures.Screenshots(1),
		InputImagePaths: []string{"ref.png"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, gen.keyCalls)
}

func TestEvaluate_ResultDoesNotAliasRequest(t *testing.T) {
	gen := &scriptedGenerator{keyPoints: "Key Points: 1", verdict: "Status: success"}
	req := &EvaluationRequest{
		TaskDescription: "x",
		ActionHistory:   []string{"open", "click"},
		Thoughts:        []string{"looks right"},
		Screenshots:     fixtures.Screenshots(1),
	}
	result, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil).Evaluate(context.Background(), req)
	require.NoError(t, err)

	req.ActionHistory[0] = "mutated"
	req.Thoughts[0] = "mutated"
	assert.Equal(t, []string{"open", "click"}, result.ActionHistory)
	assert.Equal(t, []string{"looks right"}, result.Thoughts)
}

func TestEvaluate_VerdictHistoryTrimmed(t *testing.T) {
	history := make([]string, 200)
	for i := range history {
		history[i] = fmt.Sprintf("step %03d clicked a button on the page", i+1)
	}
	gen := &scriptedGenerator{keyPoints: "Key Points: 1", verdict: "Status: success"}
	cfg := DefaultEvaluatorConfig()
	cfg.MaxHistoryTokens = 120

	result, err := NewEvaluator(gen, cfg, nil).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "x",
		ActionHistory:   history,
		Screenshots:     fixtures.Screenshots(1),
	})
	require.NoError(t, err)

	prompt := gen.verdictMessages[1].Parts[0].Text
	assert.Contains(t, prompt, "earlier actions omitted")
	assert.Contains(t, prompt, "200. step 200 clicked")
	assert.NotContains(t, prompt, "step 001")
	// 结果保留完整的动作历史
	assert.Len(t, result.ActionHistory, 200)
}

func TestEvaluate_InvalidRequest(t *testing.T) {
	ev := NewEvaluator(&scriptedGenerator{}, DefaultEvaluatorConfig(), nil)

	for name, req := range map[string]*EvaluationRequest{
		"nil":            nil,
		"no description": {Screenshots: []string{"x"}},
		"no screenshots": {TaskDescription: "x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ev.Evaluate(context.Background(), req)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
		})
	}
}

type memoryStore struct {
	mu      sync.Mutex
	results map[string]*EvaluationResult
	err     error
}

func (m *memoryStore) Save(_ context.Context, r *EvaluationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.results == nil {
		m.results = map[string]*EvaluationResult{}
	}
	m.results[r.TaskID] = r
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*EvaluationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	return r, nil
}

func TestEvaluate_PersistsResult(t *testing.T) {
	store := &memoryStore{}
	gen := &scriptedGenerator{keyPoints: "Key Points: 1", verdict: "Status: success"}
	ev := NewEvaluator(gen, DefaultEvaluatorConfig(), nil, WithStore(store))

	result, err := ev.Evaluate(context.Background(), &EvaluationRequest{
		TaskID:          "persist-me",
		TaskDescription: "x",
		Screenshots:     fixtures.Screenshots(1),
	})
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), "persist-me")
	require.NoError(t, err)
	assert.Same(t, result, stored)
}

func TestEvaluate_StoreFailureDoesNotFailEvaluation(t *testing.T) {
	store := &memoryStore{err: errors.New("db down")}
	gen := &scriptedGenerator{keyPoints: "Key Points: 1", verdict: "Status: success"}

	result, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil, WithStore(store)).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "x",
		Screenshots:     fixtures.Screenshots(1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PredictedLabel)
}

// 通过真实的推理客户端和模拟 Provider 跑通整条流水线
func TestEvaluate_WithReasoningClient(t *testing.T) {
	provider := mocks.NewMockProvider().WithCompletionFunc(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.Messages[0].Content {
		case KeyPointSystemPrompt:
			return mocks.TextResponse(req, "Key Points:\n1. open page"), nil
		case JudgeSystemPrompt:
			return mocks.TextResponse(req, fixtures.JudgeResponse("page opened", 4)), nil
		default:
			return mocks.TextResponse(req, fixtures.VerdictResponse("done", "success")), nil
		}
	})
	client := reasoning.NewClient(provider, reasoning.DefaultConfig(), nil)

	result, err := NewEvaluator(client, DefaultEvaluatorConfig(), nil).Evaluate(context.Background(), &EvaluationRequest{
		TaskDescription: "Open the page",
		Screenshots:     fixtures.Screenshots(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PredictedLabel)
	assert.Equal(t, 5, provider.CallCount(), "1 key point + 3 judge + 1 verdict")

	for _, call := range provider.Calls() {
		assert.Equal(t, reasoning.DefaultMaxTokens, call.Request.MaxTokens)
		assert.Zero(t, call.Request.Temperature)
	}
}

func TestBuildInputText(t *testing.T) {
	got := BuildInputText(&EvaluationRequest{
		TaskDescription: "t",
		ActionHistory:   []string{"a", "b"},
		Thoughts:        []string{"c"},
	})
	assert.Equal(t, "User Task: t\nAction History: a; b\nThoughts: c", got)
	assert.True(t, strings.HasPrefix(got, "User Task:"))
}

func TestEvaluate_EmitsStageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	gen := &scriptedGenerator{keyPoints: "Key Points: 1", verdict: "Status: success"}

	_, err := NewEvaluator(gen, DefaultEvaluatorConfig(), nil, WithTracer(tp.Tracer("test"))).Evaluate(context.Background(), &EvaluationRequest{
		TaskID:          "traced",
		TaskDescription: "x",
		Screenshots:     fixtures.Screenshots(2),
	})
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{
		"evaluation.evaluate",
		"evaluation.key_points_extracted",
		"evaluation.screenshots_judged",
		"evaluation.verdict_synthesized",
		"evaluation.labeled",
	}, names)
}
