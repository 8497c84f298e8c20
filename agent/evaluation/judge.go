package evaluation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/llm/multimodal"
	"github.com/BaSui01/webjudge/llm/reasoning"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JudgeSystemPrompt 单张截图评审的系统指令
const JudgeSystemPrompt = "Evaluate if image contains steps to complete task. Format:\n" +
	"### Reasoning: [reasoning]\n" +
	"### Score: [1-5]"

const (
	reasoningMarker = "### Reasoning:"
	scoreMarker     = "### Score"
)

var scorePattern = regexp.MustCompile(`[1-5]`)

// JudgeInput 证据评审输入
type JudgeInput struct {
	Task          string
	KeyPoints     string
	ContextImages []llm.ContentPart
	Screenshots   []Screenshot
}

// EvidenceJudge 并发评审每张截图
type EvidenceJudge struct {
	client         reasoning.Generator
	normalizer     *multimodal.Normalizer
	maxConcurrency int
	logger         *zap.Logger
}

// NewEvidenceJudge 创建证据评审器。maxConcurrency <= 0 表示不限并发。
func NewEvidenceJudge(client reasoning.Generator, normalizer *multimodal.Normalizer, maxConcurrency int, logger *zap.Logger) *EvidenceJudge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = multimodal.NewNormalizer(multimodal.DefaultVisionConfig())
	}
	return &EvidenceJudge{
		client:         client,
		normalizer:     normalizer,
		maxConcurrency: maxConcurrency,
		logger:         logger.With(zap.String("component", "evidence_judge")),
	}
}

// JudgeAll returns exactly one record per screenshot, in input order.
// Failures are recorded in the affected record and never cancel siblings.
func (j *EvidenceJudge) JudgeAll(ctx context.Context, in JudgeInput) []JudgeRecord {
	records := make([]JudgeRecord, len(in.Screenshots))

	var g errgroup.Group
	if j.maxConcurrency > 0 {
		g.SetLimit(j.maxConcurrency)
	}
	for i, shot := range in.Screenshots {
		g.Go(func() error {
			records[i] = j.judgeOne(ctx, in, shot)
			return nil
		})
	}
	_ = g.Wait()

	return records
}

func (j *EvidenceJudge) judgeOne(ctx context.Context, in JudgeInput, shot Screenshot) (rec JudgeRecord) {
	defer func() {
		if r := recover(); r != nil {
			rec = degradedRecord(shot.Index, fmt.Errorf("judge panic: %v", r))
			j.logger.Error("screenshot judge panicked", zap.Int("index", shot.Index), zap.Any("panic", r))
		}
	}()

	part, err := j.normalizer.ImagePart(multimodal.FromEncoded(shot.Encoded))
	if err != nil {
		j.logger.Warn("screenshot decode failed", zap.Int("index", shot.Index), zap.Error(err))
		return degradedRecord(shot.Index, err)
	}

	texts, err := j.client.Generate(ctx, BuildJudgeMessages(in.Task, in.KeyPoints, in.ContextImages, part))
	if err != nil {
		j.logger.Warn("screenshot judge call failed", zap.Int("index", shot.Index), zap.Error(err))
		rec = degradedRecord(shot.Index, err)
		rec.ImageURI = part.ImageURL.URL
		return rec
	}

	response := texts[0]
	return JudgeRecord{
		ScreenshotIndex: shot.Index,
		Response:        response,
		Score:           ParseScore(response),
		Rationale:       ParseRationale(response),
		ImageURI:        part.ImageURL.URL,
	}
}

func degradedRecord(index int, err error) JudgeRecord {
	return JudgeRecord{
		ScreenshotIndex: index,
		Score:           0,
		Rationale:       err.Error(),
		Err:             err.Error(),
	}
}

// BuildJudgeMessages 构造单张截图的评审消息。有参考图时先发送一条 "Context images:" 消息。
func BuildJudgeMessages(task, keyPoints string, contextImages []llm.ContentPart, screenshot llm.ContentPart) []llm.Message {
	messages := []llm.Message{llm.SystemMessage(JudgeSystemPrompt)}
	if len(contextImages) > 0 {
		parts := append([]llm.ContentPart{llm.TextPart("Context images:")}, contextImages...)
		messages = append(messages, llm.UserMessage(parts...))
	}
	prompt := fmt.Sprintf("Task: %s\nKey Points: %s\nSnapshot of the web page.", task, keyPoints)
	messages = append(messages, llm.UserMessage(llm.TextPart(prompt), screenshot))
	return messages
}

// ParseScore returns the last digit 1-5 found anywhere in the response, or 0.
func ParseScore(response string) int {
	matches := scorePattern.FindAllString(response, -1)
	if len(matches) == 0 {
		return 0
	}
	return int(matches[len(matches)-1][0] - '0')
}

// ParseRationale takes the text after the last "### Reasoning:" and before the
// following "### Score" when both markers are present, otherwise the whole
// response. Newlines are flattened to spaces.
func ParseRationale(response string) string {
	s := response
	if i := strings.LastIndex(s, reasoningMarker); i >= 0 {
		rest := s[i+len(reasoningMarker):]
		if j := strings.Index(rest, scoreMarker); j >= 0 {
			s = rest[:j]
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
}

// FilterEvidence keeps records with Score >= threshold, in order, capped at max.
// max <= 0 means DefaultMaxEvidence.
func FilterEvidence(records []JudgeRecord, threshold, max int) EvidenceBundle {
	if max <= 0 {
		max = DefaultMaxEvidence
	}
	var bundle EvidenceBundle
	for _, r := range records {
		if len(bundle.Records) >= max {
			break
		}
		if r.Score < threshold {
			continue
		}
		bundle.Records = append(bundle.Records, r)
		if r.ImageURI != "" {
			bundle.Images = append(bundle.Images, r.ImageURI)
		}
	}
	return bundle
}
