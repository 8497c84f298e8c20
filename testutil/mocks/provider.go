// MockProvider 的推理 Provider 测试模拟实现。
//
// 支持固定响应、按请求路由响应、错误序列注入与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/webjudge/llm"
)

// MockProvider 是 llm.Provider 的模拟实现，可并发调用
type MockProvider struct {
	mu sync.Mutex

	// 响应配置
	response       string
	err            error
	errSequence    []error
	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// Token 使用统计
	promptTokens     int
	completionTokens int

	// 行为控制
	delay time.Duration

	// 调用记录
	calls []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

var _ llm.Provider = (*MockProvider)(nil)

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置每次调用都返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithErrorSequence 前 len(errs) 次调用依次返回 errs 中的错误（nil 表示成功）
func (m *MockProvider) WithErrorSequence(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errSequence = errs
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置响应延迟，遵守 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数，可按请求内容路由响应
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	return "mock"
}

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, MockProviderCall{Request: req})
	delay := m.delay
	fn := m.completionFunc
	var seqErr error
	if idx < len(m.errSequence) {
		seqErr = m.errSequence[idx]
	}
	fixedErr := m.err
	response := m.response
	prompt, completion := m.promptTokens, m.completionTokens
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			m.record(idx, nil, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	var (
		resp *llm.ChatResponse
		err  error
	)
	switch {
	case seqErr != nil:
		err = seqErr
	case fixedErr != nil:
		err = fixedErr
	case fn != nil:
		resp, err = fn(ctx, req)
	default:
		resp = &llm.ChatResponse{
			ID:       "mock-response-id",
			Provider: "mock",
			Model:    req.Model,
			Choices: []llm.ChatChoice{
				{
					Index:        0,
					FinishReason: "stop",
					Message:      llm.Message{Role: llm.RoleAssistant, Content: response},
				},
			},
			Usage: llm.ChatUsage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      prompt + completion,
			},
			CreatedAt: time.Now(),
		}
	}

	m.record(idx, resp, err)
	return resp, err
}

func (m *MockProvider) record(idx int, resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[idx].Response = resp
	m.calls[idx].Error = err
}

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset 清空调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// TextResponse 构造单 choice 响应，供 WithCompletionFunc 使用
func TextResponse(req *llm.ChatRequest, content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: "mock",
		Model:    req.Model,
		Choices: []llm.ChatChoice{
			{Index: 0, FinishReason: "stop", Message: llm.Message{Role: llm.RoleAssistant, Content: content}},
		},
		CreatedAt: time.Now(),
	}
}
