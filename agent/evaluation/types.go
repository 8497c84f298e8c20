package evaluation

import (
	"time"

	"github.com/BaSui01/webjudge/llm/multimodal"
)

const (
	// DefaultScoreThreshold 截图进入结论阶段的最低得分
	DefaultScoreThreshold = 3
	// DefaultMaxEvidence 结论阶段最多携带的截图数
	DefaultMaxEvidence = 50
)

// Task 被评判的任务，提交后不可变。
type Task struct {
	ID              string
	Description     string
	ReferenceImages []multimodal.ImageRef
}

// Screenshot 一张截图证据，Index 表示时间顺序。
type Screenshot struct {
	Index   int
	Encoded string
}

// KeyPointSet 从任务描述中提取出的关键点。
type KeyPointSet struct {
	Raw    string   `json:"raw"`
	Text   string   `json:"text"`
	Points []string `json:"points"`
}

// JudgeRecord 单张截图的评审结果。
type JudgeRecord struct {
	ScreenshotIndex int    `json:"screenshot_index"`
	Response        string `json:"Response"`
	Score           int    `json:"Score"`
	Rationale       string `json:"rationale,omitempty"`
	Err             string `json:"error,omitempty"`

	// ImageURI 归一化后的截图 data URI，仅在流水线内部传递。
	ImageURI string `json:"-"`
}

// Degraded 表示该记录因解码或调用失败被降级。
func (r JudgeRecord) Degraded() bool { return r.Err != "" }

// EvidenceBundle 通过阈值过滤并截断后的证据集合。
type EvidenceBundle struct {
	Records []JudgeRecord
	Images  []string
}

// Rationales 按顺序返回证据理由。
func (b EvidenceBundle) Rationales() []string {
	out := make([]string, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Rationale
	}
	return out
}

// VerdictResult 结论合成结果。
type VerdictResult struct {
	Response       string `json:"response"`
	PredictedLabel int    `json:"predicted_label"`
	Prompt         string `json:"-"`
	SystemMessage  string `json:"-"`
}

// EvaluatorConfig 评测开始时固定的只读配置。
type EvaluatorConfig struct {
	ScoreThreshold int `json:"score_threshold" yaml:"score_threshold" env:"SCORE_THRESHOLD"`
	MaxEvidence    int `json:"max_evidence" yaml:"max_evidence" env:"MAX_EVIDENCE"`
	// MaxConcurrency 单次评测内截图评审的最大并发，0 表示不限。
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// MaxHistoryTokens 结论提示词中动作历史的 token 上限，超出时丢弃最早的动作；0 表示不截断。
	MaxHistoryTokens int `json:"max_history_tokens" yaml:"max_history_tokens" env:"MAX_HISTORY_TOKENS"`
}

// DefaultEvaluatorConfig 返回默认配置
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		ScoreThreshold: DefaultScoreThreshold,
		MaxEvidence:    DefaultMaxEvidence,
	}
}

func (c EvaluatorConfig) withDefaults() EvaluatorConfig {
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = DefaultScoreThreshold
	}
	if c.MaxEvidence <= 0 {
		c.MaxEvidence = DefaultMaxEvidence
	}
	if c.MaxConcurrency < 0 {
		c.MaxConcurrency = 0
	}
	if c.MaxHistoryTokens < 0 {
		c.MaxHistoryTokens = 0
	}
	return c
}

// EvaluationRequest 评测请求
type EvaluationRequest struct {
	TaskID              string   `json:"task_id"`
	TaskDescription     string   `json:"task_description"`
	FinalResultResponse string   `json:"final_result_response,omitempty"`
	ActionHistory       []string `json:"action_history,omitempty"`
	Thoughts            []string `json:"thoughts,omitempty"`
	Screenshots         []string `json:"screenshots"`
	InputImagePaths     []string `json:"input_image_paths,omitempty"`
}

// EvaluationDetails 结论摘要
type EvaluationDetails struct {
	Response       string `json:"response"`
	PredictedLabel int    `json:"predicted_label"`
}

// EvaluationResult 评测结果，组装完成后不再修改。
type EvaluationResult struct {
	TaskID              string             `json:"task_id"`
	TaskDescription     string             `json:"task_description"`
	Response            string             `json:"response"`
	PredictedLabel      int                `json:"predicted_label"`
	SystemMsg           string             `json:"system_msg"`
	ActionHistory       []string           `json:"action_history"`
	Thoughts            []string           `json:"thoughts"`
	FinalResultResponse string             `json:"final_result_response"`
	Screenshots         []string           `json:"screenshots"`
	ImageJudgeRecord    []JudgeRecord      `json:"image_judge_record"`
	KeyPoints           string             `json:"key_points"`
	KeyPointList        []string           `json:"key_point_list,omitempty"`
	InputText           string             `json:"input_text"`
	EvaluationDetails   EvaluationDetails  `json:"evaluation_details"`
	EvidenceCount       int                `json:"evidence_count"`
	StageDurations      map[string]float64 `json:"stage_durations"`
	CompletedAt         time.Time          `json:"completed_at"`
}

// Success 结论标签是否为成功
func (r *EvaluationResult) Success() bool { return r.PredictedLabel == 1 }
