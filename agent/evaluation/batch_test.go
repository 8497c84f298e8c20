package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/llm/reasoning"
	"github.com/BaSui01/webjudge/testutil/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// taskRoutedGenerator 按任务描述决定结论，描述以 "fail-" 开头时关键点调用失败
type taskRoutedGenerator struct{}

func (taskRoutedGenerator) Generate(_ context.Context, msgs []llm.Message, _ ...reasoning.Option) ([]string, error) {
	switch msgs[0].Content {
	case KeyPointSystemPrompt:
		task := msgs[1].Parts[0].Text
		if strings.HasPrefix(task, "Task: fail-") {
			return nil, errors.New("upstream gone")
		}
		return []string{"Key Points: 1. something"}, nil
	case JudgeSystemPrompt:
		return []string{fixtures.JudgeResponse("ok", 4)}, nil
	default:
		prompt := msgs[1].Parts[0].Text
		if strings.Contains(prompt, "User Task: good-") {
			return []string{fixtures.VerdictResponse("done", "success")}, nil
		}
		return []string{fixtures.VerdictResponse("not done", "failure")}, nil
	}
}

func TestBatchEvaluator_Run(t *testing.T) {
	descs := []string{"good-1", "bad-2", "fail-3", "good-4", "good-5", "bad-6", "good-7"}
	reqs := make([]*EvaluationRequest, len(descs))
	for i, d := range descs {
		reqs[i] = &EvaluationRequest{
			TaskID:          fmt.Sprintf("t%d", i),
			TaskDescription: d,
			Screenshots:     fixtures.Screenshots(2),
		}
	}

	ev := NewEvaluator(taskRoutedGenerator{}, DefaultEvaluatorConfig(), nil)
	items, summary := NewBatchEvaluator(ev, nil).Run(context.Background(), reqs, 3)

	require.Len(t, items, len(reqs))
	for i, it := range items {
		assert.Equal(t, fmt.Sprintf("t%d", i), it.TaskID, "items keep input order")
	}

	assert.Error(t, items[2].Err)
	assert.Nil(t, items[2].Result)
	assert.NotEmpty(t, items[2].Error)
	assert.Equal(t, 1, items[0].Result.PredictedLabel)
	assert.Equal(t, 0, items[1].Result.PredictedLabel)

	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.Errored)
	assert.InDelta(t, 4.0/7.0, summary.SuccessRate, 1e-9)
}

func TestBatchEvaluator_WorkersExceedTasks(t *testing.T) {
	ev := NewEvaluator(taskRoutedGenerator{}, DefaultEvaluatorConfig(), nil)
	reqs := []*EvaluationRequest{
		{TaskID: "a", TaskDescription: "good-a", Screenshots: fixtures.Screenshots(1)},
		{TaskID: "b", TaskDescription: "bad-b", Screenshots: fixtures.Screenshots(1)},
	}

	items, summary := NewBatchEvaluator(ev, nil).Run(context.Background(), reqs, 16)

	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].TaskID)
	assert.Equal(t, "b", items[1].TaskID)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.SuccessRate)
}
