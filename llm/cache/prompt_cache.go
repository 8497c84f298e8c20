package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/BaSui01/webjudge/llm"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

// PromptCache Prompt 缓存接口
type PromptCache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	GenerateKey(req *llm.ChatRequest) string
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Texts     []string  `json:"texts"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	LocalMaxSize int           `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"` // 本地缓存最大条目数
	LocalTTL     time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`           // 本地缓存 TTL
	RedisTTL     time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`           // Redis 缓存 TTL
	EnableLocal  bool          `yaml:"enable_local" env:"ENABLE_LOCAL"`     // 是否启用本地缓存
	EnableRedis  bool          `yaml:"enable_redis" env:"ENABLE_REDIS"`     // 是否启用 Redis 缓存
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`         // Redis 键前缀
}

// DefaultCacheConfig 默认配置
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     1 * time.Hour,
		EnableLocal:  true,
		EnableRedis:  true,
		KeyPrefix:    "webjudge:prompt_cache:",
	}
}

// MultiLevelCache 多级缓存实现
type MultiLevelCache struct {
	local    *lru.LRU[string, *CacheEntry]
	redis    redis.UniversalClient
	config   *CacheConfig
	strategy KeyStrategy
	logger   *zap.Logger
}

var _ PromptCache = (*MultiLevelCache)(nil)

// NewMultiLevelCache 创建多级缓存。rdb 为 nil 时只使用本地缓存。
func NewMultiLevelCache(rdb redis.UniversalClient, config *CacheConfig, logger *zap.Logger) *MultiLevelCache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var local *lru.LRU[string, *CacheEntry]
	if config.EnableLocal {
		size := config.LocalMaxSize
		if size <= 0 {
			size = 1000
		}
		local = lru.NewLRU[string, *CacheEntry](size, nil, config.LocalTTL)
	}

	return &MultiLevelCache{
		local:    local,
		redis:    rdb,
		config:   config,
		strategy: NewHashKeyStrategy(),
		logger:   logger.With(zap.String("component", "prompt_cache")),
	}
}

// Get 获取缓存
func (c *MultiLevelCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	// 1. 查本地缓存
	if c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			c.logger.Debug("local cache hit", zap.String("key", key))
			return entry, nil
		}
	}

	// 2. 查 Redis 缓存
	if c.config.EnableRedis && c.redis != nil {
		data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
		switch {
		case err == nil:
			var entry CacheEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				c.logger.Warn("corrupt redis cache entry", zap.String("key", key), zap.Error(err))
				return nil, ErrCacheMiss
			}
			// 回填本地缓存
			if c.local != nil {
				c.local.Add(key, &entry)
			}
			c.logger.Debug("redis cache hit", zap.String("key", key))
			return &entry, nil
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("redis get error", zap.Error(err))
		}
	}

	return nil, ErrCacheMiss
}

// Set 设置缓存。Redis 写失败只记录日志。
func (c *MultiLevelCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.config.RedisTTL)

	if c.local != nil {
		c.local.Add(key, entry)
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := c.redis.Set(ctx, c.redisKey(key), data, c.config.RedisTTL).Err(); err != nil {
			c.logger.Warn("redis set error", zap.Error(err))
		}
	}

	c.logger.Debug("cache set", zap.String("key", key))
	return nil
}

// Delete 删除缓存
func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Remove(key)
	}
	if c.config.EnableRedis && c.redis != nil {
		if err := c.redis.Del(ctx, c.redisKey(key)).Err(); err != nil {
			return err
		}
	}
	return nil
}

// GenerateKey 生成缓存键
func (c *MultiLevelCache) GenerateKey(req *llm.ChatRequest) string {
	return c.strategy.GenerateKey(req)
}

// Len 返回本地缓存条目数
func (c *MultiLevelCache) Len() int {
	if c.local == nil {
		return 0
	}
	return c.local.Len()
}

func (c *MultiLevelCache) redisKey(key string) string {
	return c.config.KeyPrefix + key
}
