package evaluation

import (
	"testing"
	"time"

	"github.com/BaSui01/webjudge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 每次读取前进 step
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestRun(step time.Duration) *evaluationRun {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
	r := newEvaluationRun("task-state")
	r.started = clock.t
	r.stageStart = clock.t
	r.now = clock.now
	return r
}

var linearPath = []Stage{
	StageKeyPointsExtracted,
	StageScreenshotsJudged,
	StageVerdictSynthesized,
	StageLabeled,
	StageComplete,
}

func TestEvaluationRun_Advance(t *testing.T) {
	tests := []struct {
		name    string
		prefix  []Stage
		to      Stage
		wantErr bool
	}{
		{"submitted to key points", nil, StageKeyPointsExtracted, false},
		{"skip key points", nil, StageScreenshotsJudged, true},
		{"skip to complete", nil, StageComplete, true},
		{"repeat stage", []Stage{StageKeyPointsExtracted}, StageKeyPointsExtracted, true},
		{"backwards", []Stage{StageKeyPointsExtracted, StageScreenshotsJudged}, StageKeyPointsExtracted, true},
		{"fail from submitted", nil, StageFailed, false},
		{"fail mid pipeline", []Stage{StageKeyPointsExtracted, StageScreenshotsJudged}, StageFailed, false},
		{"after failed", []Stage{StageFailed}, StageKeyPointsExtracted, true},
		{"fail twice", []Stage{StageFailed}, StageFailed, true},
		{"after complete", linearPath, StageFailed, true},
		{"complete again", linearPath, StageComplete, true},
		{"unknown stage", nil, Stage("PAUSED"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRun(time.Second)
			for _, s := range tt.prefix {
				require.NoError(t, r.advance(s))
			}
			before := r.stage

			err := r.advance(tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsCode(err, types.ErrInvalidTransition))
				assert.Equal(t, before, r.stage, "rejected transition leaves the stage unchanged")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, r.stage)
		})
	}
}

func TestEvaluationRun_FullPath(t *testing.T) {
	r := newTestRun(2 * time.Second)
	for _, s := range linearPath {
		require.NoError(t, r.advance(s))
	}
	assert.True(t, r.stage.Terminal())
	assert.Equal(t, append([]Stage{StageSubmitted}, linearPath...), r.history)

	durations := r.stageDurations()
	for _, key := range []string{"key_points_extracted", "screenshots_judged", "verdict_synthesized", "labeled", "complete"} {
		assert.Equal(t, 2.0, durations[key], key)
	}
	// 5 次 advance + stageDurations 自身一次读取
	assert.Equal(t, 12.0, durations["total"])
	assert.NotContains(t, durations, "failed")
}

func TestEvaluationRun_FailRecordsNoDuration(t *testing.T) {
	r := newTestRun(time.Second)
	require.NoError(t, r.advance(StageKeyPointsExtracted))
	r.fail()

	assert.Equal(t, StageFailed, r.stage)
	durations := r.stageDurations()
	assert.Contains(t, durations, "total")
	assert.NotContains(t, durations, "failed")
	assert.Len(t, durations, 2)

	// fail 在终态上是空操作
	r.fail()
	assert.Equal(t, []Stage{StageSubmitted, StageKeyPointsExtracted, StageFailed}, r.history)
}

func TestEvaluationRun_StageDurationsIsCopy(t *testing.T) {
	r := newTestRun(time.Second)
	require.NoError(t, r.advance(StageKeyPointsExtracted))
	d := r.stageDurations()
	d["key_points_extracted"] = 99
	assert.Equal(t, 1.0, r.stageDurations()["key_points_extracted"])
}

func TestStage_Terminal(t *testing.T) {
	for _, s := range stageOrder[:len(stageOrder)-1] {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, StageComplete.Terminal())
	assert.True(t, StageFailed.Terminal())
}
