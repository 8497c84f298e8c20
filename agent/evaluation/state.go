package evaluation

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/webjudge/types"
)

// Stage 评测阶段
type Stage string

const (
	StageSubmitted          Stage = "SUBMITTED"
	StageKeyPointsExtracted Stage = "KEY_POINTS_EXTRACTED"
	StageScreenshotsJudged  Stage = "SCREENSHOTS_JUDGED"
	StageVerdictSynthesized Stage = "VERDICT_SYNTHESIZED"
	StageLabeled            Stage = "LABELED"
	StageComplete           Stage = "COMPLETE"
	StageFailed             Stage = "FAILED"
)

var stageOrder = []Stage{
	StageSubmitted,
	StageKeyPointsExtracted,
	StageScreenshotsJudged,
	StageVerdictSynthesized,
	StageLabeled,
	StageComplete,
}

// next 返回线性顺序中的下一个阶段
func (s Stage) next() (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Terminal 是否为终态
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// evaluationRun tracks one evaluation through its stages. Owned by a single
// coordinator goroutine.
type evaluationRun struct {
	taskID     string
	stage      Stage
	history    []Stage
	started    time.Time
	stageStart time.Time
	durations  map[string]float64
	now        func() time.Time
}

func newEvaluationRun(taskID string) *evaluationRun {
	now := time.Now()
	return &evaluationRun{
		taskID:     taskID,
		stage:      StageSubmitted,
		history:    []Stage{StageSubmitted},
		started:    now,
		stageStart: now,
		durations:  make(map[string]float64),
		now:        time.Now,
	}
}

// advance moves to the given stage. Only the immediate successor, or FAILED
// from a non-terminal stage, is accepted.
func (r *evaluationRun) advance(to Stage) error {
	if r.stage.Terminal() {
		return r.invalid(to)
	}
	if to != StageFailed {
		next, ok := r.stage.next()
		if !ok || next != to {
			return r.invalid(to)
		}
	}

	now := r.now()
	if to != StageFailed {
		r.durations[strings.ToLower(string(to))] = now.Sub(r.stageStart).Seconds()
	}
	r.stage = to
	r.stageStart = now
	r.history = append(r.history, to)
	return nil
}

func (r *evaluationRun) fail() {
	_ = r.advance(StageFailed)
}

func (r *evaluationRun) invalid(to Stage) error {
	return types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("task %s: cannot move from %s to %s", r.taskID, r.stage, to))
}

// stageDurations 返回各阶段耗时（秒）的副本
func (r *evaluationRun) stageDurations() map[string]float64 {
	out := make(map[string]float64, len(r.durations)+1)
	for k, v := range r.durations {
		out[k] = v
	}
	out["total"] = r.now().Sub(r.started).Seconds()
	return out
}
