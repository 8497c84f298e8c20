// =============================================================================
// 📦 测试数据工厂 - 推理响应与截图
// =============================================================================
package fixtures

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/BaSui01/webjudge/llm"
)

// =============================================================================
// 🎯 ChatResponse 工厂
// =============================================================================

// SimpleResponse 返回单个 choice 的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "gpt-4o",
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				FinishReason: "stop",
				Message: llm.Message{
					Role:    llm.RoleAssistant,
					Content: content,
				},
			},
		},
		Usage: llm.ChatUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		CreatedAt: time.Now(),
	}
}

// EmptyResponse 返回没有 choice 的响应
func EmptyResponse() *llm.ChatResponse {
	return &llm.ChatResponse{ID: "resp-empty", Provider: "mock", Model: "gpt-4o"}
}

// JudgeResponse 返回评审格式的响应
func JudgeResponse(reasoning string, score int) string {
	return fmt.Sprintf("### Reasoning: %s\n### Score: %d", reasoning, score)
}

// VerdictResponse 返回结论格式的响应
func VerdictResponse(thoughts, status string) string {
	return fmt.Sprintf("Thoughts: %s\nStatus: %q", thoughts, status)
}

// KeyPointsResponse 返回关键点格式的响应
func KeyPointsResponse(points ...string) string {
	var buf bytes.Buffer
	buf.WriteString("Key Points:\n")
	for i, p := range points {
		fmt.Fprintf(&buf, "%d. %s\n", i+1, p)
	}
	return buf.String()
}

// =============================================================================
// 🖼️ 截图工厂
// =============================================================================

// Screenshot 生成纯色 PNG 截图的 base64 编码
func Screenshot(c color.Color) string {
	return base64.StdEncoding.EncodeToString(ScreenshotPNG(c))
}

// ScreenshotDataURI 生成带 data URI 前缀的截图
func ScreenshotDataURI(c color.Color) string {
	return "data:image/png;base64," + Screenshot(c)
}

// ScreenshotPNG 生成 8x6 的纯色 PNG
func ScreenshotPNG(c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Screenshots 生成 n 张颜色各不相同的截图
func Screenshots(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = Screenshot(color.RGBA{R: uint8(i * 37), G: uint8(255 - i*11), B: uint8(i * 5), A: 255})
	}
	return out
}

// MalformedScreenshot 返回无法解码的截图载荷
func MalformedScreenshot() string {
	return "data:image/png;base64,this-is-not-an-image"
}
