package evaluation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/llm/multimodal"
	"github.com/BaSui01/webjudge/llm/reasoning"
	"github.com/BaSui01/webjudge/llm/tokenizer"
	"go.uber.org/zap"
)

// VerdictSystemPrompt 最终结论的系统指令
const VerdictSystemPrompt = "Evaluate web navigation agent performance. " +
	"Format: Thoughts: <reasoning> Status: \"success\" or \"failure\""

// VerdictInput 结论合成输入
type VerdictInput struct {
	Task          string
	KeyPoints     string
	ActionHistory []string
	FinalResult   string
	Bundle        EvidenceBundle
}

// VerdictSynthesizer 汇总证据并发起唯一一次结论调用
type VerdictSynthesizer struct {
	client reasoning.Generator
	logger *zap.Logger

	counter       tokenizer.Counter
	historyTokens int
}

// NewVerdictSynthesizer 创建结论合成器
func NewVerdictSynthesizer(client reasoning.Generator, logger *zap.Logger) *VerdictSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerdictSynthesizer{
		client: client,
		logger: logger.With(zap.String("component", "verdict_synthesizer")),
	}
}

// WithHistoryBudget 限制提示词中动作历史的 token 数，maxTokens <= 0 时不限制.
func (v *VerdictSynthesizer) WithHistoryBudget(counter tokenizer.Counter, maxTokens int) *VerdictSynthesizer {
	v.counter = counter
	v.historyTokens = maxTokens
	return v
}

// Synthesize 生成结论。调用失败直接返回错误，不做降级。
func (v *VerdictSynthesizer) Synthesize(ctx context.Context, in VerdictInput) (VerdictResult, error) {
	actions, omitted := TrimHistory(v.counter, in.ActionHistory, v.historyTokens)
	if omitted > 0 {
		v.logger.Info("action history trimmed for verdict prompt",
			zap.Int("omitted", omitted),
			zap.Int("kept", len(actions)),
			zap.Int("max_tokens", v.historyTokens),
		)
	}
	prompt := buildVerdictPrompt(in.Task, in.KeyPoints, actions, omitted, in.Bundle.Rationales(), in.FinalResult)

	parts := make([]llm.ContentPart, 0, 1+len(in.Bundle.Images))
	parts = append(parts, llm.TextPart(prompt))
	for _, uri := range in.Bundle.Images {
		parts = append(parts, llm.ImagePart(uri, multimodal.DefaultDetail))
	}
	messages := []llm.Message{
		llm.SystemMessage(VerdictSystemPrompt),
		llm.UserMessage(parts...),
	}

	texts, err := v.client.Generate(ctx, messages)
	if err != nil {
		return VerdictResult{}, err
	}

	response := texts[0]
	label := ExtractLabel(response)
	v.logger.Debug("verdict synthesized",
		zap.Int("evidence", len(in.Bundle.Records)),
		zap.Int("label", label),
	)
	return VerdictResult{
		Response:       response,
		PredictedLabel: label,
		Prompt:         prompt,
		SystemMessage:  VerdictSystemPrompt,
	}, nil
}

// BuildVerdictPrompt 构造结论提示词，动作和理由按 1 起编号。
func BuildVerdictPrompt(task, keyPoints string, actions, rationales []string, finalResult string) string {
	return buildVerdictPrompt(task, keyPoints, actions, 0, rationales, finalResult)
}

// buildVerdictPrompt 前 omitted 个动作已被截去，保留的动作沿用原始编号。
func buildVerdictPrompt(task, keyPoints string, actions []string, omitted int, rationales []string, finalResult string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User Task: %s\n", task)
	fmt.Fprintf(&b, "Key Points: %s\n", keyPoints)
	b.WriteString("Action History:\n")
	if omitted > 0 {
		fmt.Fprintf(&b, "(%d earlier actions omitted)\n", omitted)
	}
	b.WriteString(numberedFrom(actions, omitted+1))
	b.WriteString("\nThoughts from relevant images:\n")
	b.WriteString(numberedFrom(rationales, 1))
	if strings.TrimSpace(finalResult) != "" {
		fmt.Fprintf(&b, "\nFinal Result: %s", finalResult)
	}
	return b.String()
}

func numberedFrom(items []string, first int) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", first+i, item)
	}
	return strings.Join(lines, "\n")
}

// TrimHistory 保留能放进 maxTokens 的最近若干动作，返回保留部分与被丢弃的数量。
// counter 为 nil 或 maxTokens <= 0 时原样返回；计数失败的动作按估算值计入。
func TrimHistory(counter tokenizer.Counter, actions []string, maxTokens int) ([]string, int) {
	if counter == nil || maxTokens <= 0 || len(actions) == 0 {
		return actions, 0
	}
	used := 0
	start := len(actions)
	for i := len(actions) - 1; i >= 0; i-- {
		n, err := counter.CountTokens(actions[i])
		if err != nil {
			n, _ = tokenizer.Estimator{}.CountTokens(actions[i])
		}
		// 编号与换行
		n += 2
		if used+n > maxTokens {
			break
		}
		used += n
		start = i
	}
	return actions[start:], start
}
