package evaluation

import (
	"context"
	"regexp"
	"strings"

	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/llm/reasoning"
	"go.uber.org/zap"
)

// KeyPointSystemPrompt 关键点提取的系统指令
const KeyPointSystemPrompt = "Extract explicit key points from the task description as a numbered list only. " +
	"Do not infer requirements that are not stated."

const keyPointsLabel = "Key Points:"

var listPrefix = regexp.MustCompile(`^\s*(?:\d+\s*[.)]|[-*•])\s*`)

// KeyPointExtractor 从任务描述中提取显式要求
type KeyPointExtractor struct {
	client reasoning.Generator
	logger *zap.Logger
}

// NewKeyPointExtractor 创建关键点提取器
func NewKeyPointExtractor(client reasoning.Generator, logger *zap.Logger) *KeyPointExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyPointExtractor{
		client: client,
		logger: logger.With(zap.String("component", "key_point_extractor")),
	}
}

// Extract issues one reasoning call. referenceImages are attached to the same
// user message as extra visual context.
func (x *KeyPointExtractor) Extract(ctx context.Context, task string, referenceImages []llm.ContentPart) (KeyPointSet, error) {
	messages := BuildKeyPointMessages(task, referenceImages)

	texts, err := x.client.Generate(ctx, messages)
	if err != nil {
		return KeyPointSet{}, err
	}

	raw := texts[0]
	text := KeyPointsText(raw)
	set := KeyPointSet{
		Raw:    raw,
		Text:   text,
		Points: SplitKeyPoints(text),
	}
	x.logger.Debug("key points extracted", zap.Int("count", len(set.Points)))
	return set, nil
}

// BuildKeyPointMessages 构造关键点提取消息
func BuildKeyPointMessages(task string, referenceImages []llm.ContentPart) []llm.Message {
	parts := make([]llm.ContentPart, 0, 1+len(referenceImages))
	parts = append(parts, llm.TextPart("Task: "+task))
	parts = append(parts, referenceImages...)
	return []llm.Message{
		llm.SystemMessage(KeyPointSystemPrompt),
		llm.UserMessage(parts...),
	}
}

// KeyPointsText returns the text after the last "Key Points:" label, trimmed.
// Without the label the whole response is used.
func KeyPointsText(raw string) string {
	if i := strings.LastIndex(raw, keyPointsLabel); i >= 0 {
		raw = raw[i+len(keyPointsLabel):]
	}
	return strings.TrimSpace(raw)
}

// SplitKeyPoints 拆分为非空行并去掉列表序号
func SplitKeyPoints(text string) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listPrefix.ReplaceAllString(line, ""))
		if line != "" {
			points = append(points, line)
		}
	}
	return points
}
