package reasoning

import (
	"context"
	"time"

	"github.com/BaSui01/webjudge/internal/ctxkeys"
	"github.com/BaSui01/webjudge/internal/metrics"
	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/llm/cache"
	"github.com/BaSui01/webjudge/llm/providers"
	"github.com/BaSui01/webjudge/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxTokens   = 512
	DefaultTemperature = 0
)

// Config 推理客户端配置
type Config struct {
	Model       string                `yaml:"model" env:"MODEL"`
	MaxTokens   int                   `yaml:"max_tokens" env:"MAX_TOKENS"`
	Retry       providers.RetryConfig `yaml:"retry"`
	RateLimit   float64               `yaml:"rate_limit" env:"RATE_LIMIT"` // 每秒请求数，0 表示不限
	RateBurst   int                   `yaml:"rate_burst" env:"RATE_BURST"`
	EnableCache bool                  `yaml:"enable_cache" env:"ENABLE_CACHE"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Model:     "gpt-4o",
		MaxTokens: DefaultMaxTokens,
		Retry:     providers.DefaultRetryConfig(),
	}
}

// Option 调整单次调用参数
type Option func(*callOptions)

type callOptions struct {
	maxTokens   int
	temperature float32
	model       string
}

// WithMaxTokens sets the completion token cap for one call.
func WithMaxTokens(n int) Option {
	return func(o *callOptions) { o.maxTokens = n }
}

// WithTemperature sets the sampling temperature for one call.
func WithTemperature(t float32) Option {
	return func(o *callOptions) { o.temperature = t }
}

// WithModel overrides the model for one call.
func WithModel(model string) Option {
	return func(o *callOptions) { o.model = model }
}

// Generator 是 Client 的最小抽象，便于在上层注入桩实现。
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message, opts ...Option) ([]string, error)
}

// Client wraps a provider with caching, rate limiting, retry and metrics.
type Client struct {
	provider llm.Provider
	retrying *providers.RetryableProvider
	cache    cache.PromptCache
	limiter  *rate.Limiter
	metrics  *metrics.Collector
	cfg      Config
	logger   *zap.Logger
}

var _ Generator = (*Client)(nil)

// ClientOption 配置 Client 的可选依赖
type ClientOption func(*Client)

// WithCache 启用响应缓存
func WithCache(c cache.PromptCache) ClientOption {
	return func(cl *Client) { cl.cache = c }
}

// WithMetrics 启用指标记录
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

// WithLimiter 使用外部限流器，覆盖 Config.RateLimit
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(cl *Client) { cl.limiter = l }
}

// NewClient 创建推理客户端
func NewClient(provider llm.Provider, cfg Config, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = providers.DefaultRetryConfig()
	}

	c := &Client{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "reasoning_client")),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.retrying = providers.NewRetryableProvider(provider, cfg.Retry, c.logger, func(attempt int, err error, delay time.Duration) {
		c.metrics.RecordLLMRetry(provider.Name())
	})
	return c
}

// Generate sends messages to the reasoning model and returns every completion text.
// Failures that survive the retry policy come back as REASONING_CALL errors.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, opts ...Option) ([]string, error) {
	o := callOptions{
		maxTokens:   c.cfg.MaxTokens,
		temperature: DefaultTemperature,
		model:       c.cfg.Model,
	}
	for _, opt := range opts {
		opt(&o)
	}

	req := &llm.ChatRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}

	// 1. 缓存：只有确定性请求可复用
	var cacheKey string
	useCache := c.cache != nil && o.temperature == 0
	if useCache {
		cacheKey = c.cache.GenerateKey(req)
		if entry, err := c.cache.Get(ctx, cacheKey); err == nil && len(entry.Texts) > 0 {
			c.metrics.RecordCacheHit("prompt")
			c.logger.Debug("reasoning cache hit", zap.String("key", cacheKey))
			return append([]string(nil), entry.Texts...), nil
		}
		c.metrics.RecordCacheMiss("prompt")
	}

	// 2. 限流
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.NewReasoningCallError("rate limiter wait", err)
		}
	}

	// 3. 重试调用
	start := time.Now()
	resp, err := c.retrying.Completion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordLLMRequest(c.provider.Name(), o.model, "error", duration, 0, 0)
		taskID, _ := ctxkeys.TaskID(ctx)
		c.logger.Warn("reasoning call failed",
			zap.String("model", o.model),
			zap.String("task_id", taskID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, types.NewReasoningCallError("reasoning model call failed", err)
	}

	texts := resp.Texts()
	if len(texts) == 0 {
		c.metrics.RecordLLMRequest(c.provider.Name(), o.model, "empty", duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		return nil, types.NewReasoningCallError("reasoning model returned no choices", &llm.Error{
			Code:     llm.ErrEmptyResponse,
			Message:  "empty choice list",
			Provider: c.provider.Name(),
		})
	}

	c.metrics.RecordLLMRequest(c.provider.Name(), o.model, "success", duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	// 4. 写缓存
	if useCache {
		if err := c.cache.Set(ctx, cacheKey, &cache.CacheEntry{Texts: texts, Model: resp.Model}); err != nil {
			c.logger.Warn("reasoning cache store failed", zap.Error(err))
		}
	}

	return texts, nil
}

// Name 返回底层 Provider 名称
func (c *Client) Name() string { return c.provider.Name() }
