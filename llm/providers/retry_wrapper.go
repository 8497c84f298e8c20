package providers

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/llm/retry"
	"go.uber.org/zap"
)

// RetryConfig holds retry configuration for a provider wrapper.
type RetryConfig struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`       // Total attempts including the first, default 3
	InitialDelay   time.Duration `json:"initial_delay" yaml:"initial_delay"`     // Initial backoff delay, default 1s
	MaxDelay       time.Duration `json:"max_delay" yaml:"max_delay"`             // Maximum backoff delay, default 30s
	BackoffFactor  float64       `json:"backoff_factor" yaml:"backoff_factor"`   // Exponential backoff factor, default 2.0
	Jitter         bool          `json:"jitter" yaml:"jitter"`                   // ±25% jitter on each delay
	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"` // Per-attempt deadline, default 60s
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
		AttemptTimeout: 60 * time.Second,
	}
}

// IsTransient reports whether err should be retried: provider errors marked
// Retryable, or a per-attempt deadline.
func IsTransient(err error) bool {
	if llm.IsRetryable(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryableProvider wraps an llm.Provider with exponential-backoff retry logic.
type RetryableProvider struct {
	inner   llm.Provider
	config  RetryConfig
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewRetryableProvider creates a retrying wrapper around the given provider.
// onRetry, if non-nil, is invoked before every retry.
func NewRetryableProvider(inner llm.Provider, config RetryConfig, logger *zap.Logger, onRetry func(attempt int, err error, delay time.Duration)) *RetryableProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 60 * time.Second
	}
	logger = logger.With(zap.String("component", "retry_provider"), zap.String("provider", inner.Name()))

	policy := &retry.RetryPolicy{
		MaxRetries:   config.MaxAttempts - 1,
		InitialDelay: config.InitialDelay,
		MaxDelay:     config.MaxDelay,
		Multiplier:   config.BackoffFactor,
		Jitter:       config.Jitter,
		ShouldRetry:  IsTransient,
		OnRetry:      onRetry,
	}

	return &RetryableProvider{
		inner:   inner,
		config:  config,
		retryer: retry.NewBackoffRetryer(policy, logger),
		logger:  logger,
	}
}

// Compile-time interface check.
var _ llm.Provider = (*RetryableProvider)(nil)

func (p *RetryableProvider) Name() string { return p.inner.Name() }

// Completion performs a chat completion with retry on transient errors.
// Every attempt runs under its own timeout so one hung call cannot eat the whole budget.
func (p *RetryableProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	timeout := p.config.AttemptTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	return retry.DoWithResultTyped(p.retryer, ctx, func() (*llm.ChatResponse, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.inner.Completion(attemptCtx, req)
	})
}
