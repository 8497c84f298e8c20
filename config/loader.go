// =============================================================================
// 📦 WebJudge 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("WEBJUDGE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 通用环境变量 → 带前缀环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 WebJudge 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// LLM 推理模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Judge 评判流水线配置
	Judge JudgeConfig `yaml:"judge" env:"JUDGE"`

	// Cache 响应缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Database 结果存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// CORS 跨域配置
	CORS CORSConfig `yaml:"cors" env:"CORS"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需覆盖一次完整评测
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 单 IP 每秒请求数，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 请求体上限（字节），截图较多时需要调大
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// LLMConfig 推理模型配置
type LLMConfig struct {
	// Provider 名称，仅用于日志与指标
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选，兼容 OpenAI 协议的网关）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 单次尝试超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 总尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 最大输出 Token
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 每秒调用上限，0 表示不限
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 限流突发量
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
}

// JudgeConfig 评判流水线配置
type JudgeConfig struct {
	// 截图进入结论阶段的最低得分（1-5）
	ScoreThreshold int `yaml:"score_threshold" env:"SCORE_THRESHOLD"`
	// 结论阶段最多携带的截图数
	MaxEvidence int `yaml:"max_evidence" env:"MAX_EVIDENCE"`
	// 单次评测内截图评审并发，0 表示不限
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// JPEG 重编码质量
	JPEGQuality int `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	// 图片最长边上限，0 表示保持原尺寸
	MaxImageDimension int `yaml:"max_image_dimension" env:"MAX_IMAGE_DIMENSION"`
	// 批量模式默认 worker 数
	BatchWorkers int `yaml:"batch_workers" env:"BATCH_WORKERS"`
	// input_image_paths 的解析根目录，为空时拒绝参考图路径
	ReferenceImageDir string `yaml:"reference_image_dir" env:"REFERENCE_IMAGE_DIR"`
	// 单个参考图文件的字节上限
	MaxReferenceBytes int64 `yaml:"max_reference_bytes" env:"MAX_REFERENCE_BYTES"`
	// 解码前按图片头声明的宽高拒绝超过该像素数的图片
	MaxImagePixels int `yaml:"max_image_pixels" env:"MAX_IMAGE_PIXELS"`
	// 结论提示词中动作历史的 token 上限，0 表示不截断
	MaxHistoryTokens int `yaml:"max_history_tokens" env:"MAX_HISTORY_TOKENS"`
}

// CacheConfig 响应缓存配置
type CacheConfig struct {
	// 是否启用响应缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 本地 LRU 容量
	LocalMaxSize int `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	// 本地缓存 TTL
	LocalTTL time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	// Redis TTL
	RedisTTL time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
	// Redis 连接，Addr 为空时只使用本地缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 是否启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" env:"TLS_ENABLED"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否持久化评测结果
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 使用明文 gRPC 连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 部署环境
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// CORSConfig 跨域配置。AllowedOriginsRegex 非空时优先于 AllowedOrigins。
type CORSConfig struct {
	AllowedOrigins      []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	AllowedOriginsRegex string   `yaml:"allowed_origins_regex" env:"ALLOWED_ORIGINS_REGEX"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// legacyEnv 不带前缀的通用环境变量，与部署脚本保持兼容
var legacyEnv = map[string]func(*Config, string){
	"OPENAI_API_KEY":        func(c *Config, v string) { c.LLM.APIKey = v },
	"OPENAI_MODEL":          func(c *Config, v string) { c.LLM.Model = v },
	"OPENAI_BASE_URL":       func(c *Config, v string) { c.LLM.BaseURL = v },
	"ALLOWED_ORIGINS":       func(c *Config, v string) { c.CORS.AllowedOrigins = splitList(v) },
	"ALLOWED_ORIGINS_REGEX": func(c *Config, v string) { c.CORS.AllowedOriginsRegex = v },
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "WEBJUDGE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	for key, apply := range legacyEnv {
		if v := os.Getenv(key); v != "" {
			apply(cfg, v)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(value)))
		}
	}

	return nil
}

func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// Validate 校验与运行模式无关的配置项
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Judge.ScoreThreshold < 1 || c.Judge.ScoreThreshold > 5 {
		errs = append(errs, "judge.score_threshold must be between 1 and 5")
	}
	if c.Judge.MaxEvidence <= 0 {
		errs = append(errs, "judge.max_evidence must be positive")
	}
	if c.Judge.MaxConcurrency < 0 {
		errs = append(errs, "judge.max_concurrency must not be negative")
	}
	if c.Judge.JPEGQuality < 1 || c.Judge.JPEGQuality > 100 {
		errs = append(errs, "judge.jpeg_quality must be between 1 and 100")
	}
	if c.Judge.MaxReferenceBytes <= 0 {
		errs = append(errs, "judge.max_reference_bytes must be positive")
	}
	if c.Judge.MaxImagePixels <= 0 {
		errs = append(errs, "judge.max_image_pixels must be positive")
	}
	if c.Judge.MaxHistoryTokens < 0 {
		errs = append(errs, "judge.max_history_tokens must not be negative")
	}
	if c.LLM.MaxAttempts <= 0 {
		errs = append(errs, "llm.max_attempts must be positive")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}
	if c.CORS.AllowedOriginsRegex != "" {
		if _, err := regexp.Compile(c.CORS.AllowedOriginsRegex); err != nil {
			errs = append(errs, fmt.Sprintf("cors.allowed_origins_regex: %v", err))
		}
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RequireAPIKey 需要调用推理模型的命令使用的校验器
func RequireAPIKey(c *Config) error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("llm api key is required (set OPENAI_API_KEY or WEBJUDGE_LLM_API_KEY)")
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
