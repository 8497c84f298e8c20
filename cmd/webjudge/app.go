package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/webjudge/agent/evaluation"
	"github.com/BaSui01/webjudge/config"
	"github.com/BaSui01/webjudge/internal/cache"
	"github.com/BaSui01/webjudge/internal/database"
	"github.com/BaSui01/webjudge/internal/metrics"
	"github.com/BaSui01/webjudge/internal/telemetry"
	"github.com/BaSui01/webjudge/llm/multimodal"
	"github.com/BaSui01/webjudge/llm/providers"
	"github.com/BaSui01/webjudge/llm/providers/openaicompat"
	"github.com/BaSui01/webjudge/llm/reasoning"
	"github.com/BaSui01/webjudge/llm/tokenizer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	llmcache "github.com/BaSui01/webjudge/llm/cache"
)

const (
	metricsNamespace = "webjudge"
	defaultBaseURL   = "https://api.openai.com"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// application 持有一次进程生命周期内的全部依赖
type application struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers
	redis     *cache.Manager
	db        *database.DB
	store     *database.GormStore
	client    *reasoning.Client
	evaluator *evaluation.Evaluator
}

// newApplication 按配置装配推理客户端、缓存、存储与评测器。
// 可选组件（Redis、数据库、遥测）初始化失败时降级运行并记录警告。
func newApplication(cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.collector = metrics.NewCollectorWithRegistry(metricsNamespace, app.registry, logger)

	tp, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without export", zap.Error(err))
		tp = &telemetry.Providers{}
	}
	app.telemetry = tp

	// 1. 推理模型
	provider := openaicompat.New(openaicompat.Config{
		ProviderName: providerName(cfg.LLM.Provider),
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      baseURL(cfg.LLM.BaseURL),
		DefaultModel: cfg.LLM.Model,
	}, logger)

	retryCfg := providers.DefaultRetryConfig()
	if cfg.LLM.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.LLM.MaxAttempts
	}
	if cfg.LLM.Timeout > 0 {
		retryCfg.AttemptTimeout = cfg.LLM.Timeout
	}

	clientOpts := []reasoning.ClientOption{reasoning.WithMetrics(app.collector)}

	// 2. 响应缓存
	if cfg.Cache.Enabled {
		promptCache, err := app.openPromptCache()
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		clientOpts = append(clientOpts, reasoning.WithCache(promptCache))
	}

	app.client = reasoning.NewClient(provider, reasoning.Config{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Retry:       retryCfg,
		RateLimit:   cfg.LLM.RateLimit,
		RateBurst:   cfg.LLM.RateBurst,
		EnableCache: cfg.Cache.Enabled,
	}, logger, clientOpts...)

	// 3. 结果存储
	evalOpts := []evaluation.Option{
		evaluation.WithMetrics(app.collector),
		evaluation.WithTracer(tp.Tracer("github.com/BaSui01/webjudge/agent/evaluation")),
		evaluation.WithNormalizer(multimodal.NewNormalizer(multimodal.VisionConfig{
			JPEGQuality:  cfg.Judge.JPEGQuality,
			MaxDimension: cfg.Judge.MaxImageDimension,
			MaxPixels:    cfg.Judge.MaxImagePixels,
			ReferenceDir: cfg.Judge.ReferenceImageDir,
			MaxFileBytes: cfg.Judge.MaxReferenceBytes,
		})),
	}
	if cfg.Judge.MaxHistoryTokens > 0 {
		evalOpts = append(evalOpts, evaluation.WithTokenCounter(tokenizer.ForModel(cfg.LLM.Model, logger)))
	}
	if cfg.Database.Enabled {
		if err := app.openStore(); err != nil {
			logger.Warn("result store unavailable, results will not be persisted", zap.Error(err))
		} else {
			evalOpts = append(evalOpts, evaluation.WithStore(app.store))
		}
	}

	app.evaluator = evaluation.NewEvaluator(app.client, evaluation.EvaluatorConfig{
		ScoreThreshold: cfg.Judge.ScoreThreshold,
		MaxEvidence:    cfg.Judge.MaxEvidence,
		MaxConcurrency: cfg.Judge.MaxConcurrency,

		MaxHistoryTokens: cfg.Judge.MaxHistoryTokens,
	}, logger, evalOpts...)

	logger.Info("application assembled",
		zap.String("provider", provider.Name()),
		zap.String("model", cfg.LLM.Model),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("redis", app.redis != nil),
		zap.Bool("store", app.store != nil),
	)
	return app, nil
}

func (a *application) openPromptCache() (llmcache.PromptCache, error) {
	cc := a.cfg.Cache
	cacheCfg := llmcache.DefaultCacheConfig()
	cacheCfg.LocalMaxSize = cc.LocalMaxSize
	cacheCfg.LocalTTL = cc.LocalTTL
	cacheCfg.RedisTTL = cc.RedisTTL

	var rdb redis.UniversalClient
	if cc.Redis.Addr != "" {
		redisCfg := cache.DefaultConfig()
		redisCfg.Addr = cc.Redis.Addr
		redisCfg.Password = cc.Redis.Password
		redisCfg.DB = cc.Redis.DB
		redisCfg.TLSEnabled = cc.Redis.TLSEnabled
		if cc.Redis.PoolSize > 0 {
			redisCfg.PoolSize = cc.Redis.PoolSize
		}
		if cc.Redis.MinIdleConns > 0 {
			redisCfg.MinIdleConns = cc.Redis.MinIdleConns
		}
		mgr, err := cache.NewManager(redisCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		a.redis = mgr
		rdb = mgr.Client()
		if err := a.registry.Register(mgr.StatsCollector(metricsNamespace)); err != nil {
			a.logger.Warn("redis pool metrics not registered", zap.Error(err))
		}
	} else {
		cacheCfg.EnableRedis = false
	}
	return llmcache.NewMultiLevelCache(rdb, cacheCfg, a.logger), nil
}

func (a *application) openStore() error {
	dbCfg := a.cfg.Database
	poolCfg := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	db, err := database.Connect(dbCfg.Driver, dbCfg.DSN(), poolCfg, a.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := database.NewGormStore(ctx, db, a.collector, a.logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	if err := a.registry.Register(db.StatsCollector("results")); err != nil {
		a.logger.Warn("database pool metrics not registered", zap.Error(err))
	}
	a.db = db
	a.store = store
	return nil
}

// Close 释放外部连接并刷新遥测数据
func (a *application) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func providerName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "openai"
	}
	return name
}

func baseURL(u string) string {
	if strings.TrimSpace(u) == "" {
		return defaultBaseURL
	}
	return u
}
