// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//	.env 文件同时被 Docker Compose（--env-file）和 Go 应用（godotenv）共用。
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml + .env.dev
//   - 测试: APP_ENV=test → configs/test.yaml + .env.test
//   - 生产: APP_ENV=prod → /etc/knowledge-engine/prod.yaml
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer APIServerConfig `yaml:"api_server"` // API Server（端口）
	Database  DatabaseConfig  `yaml:"database"`   // 数据库（MongoDB / SQLite）
	Redis     RedisConfig     `yaml:"redis"`      // Redis（缓存 + 队列 + 事件总线）
	MinIO     MinIOConfig     `yaml:"minio"`      // MinIO 对象存储
	Auth      AuthConfig      `yaml:"auth"`       // 认证
	Provider  ProviderConfig  `yaml:"provider"`   // LLM 提供方
	Chunking  ChunkingConfig  `yaml:"chunking"`   // 文本切分
	Retrieval RetrievalConfig `yaml:"retrieval"`  // 检索
	Ingest    IngestConfig    `yaml:"ingest"`     // 摄取工作进程
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port string `yaml:"port"` // 监听端口
}

// AuthConfig 认证配置
// 注意：JWTSecret 只从 JWT_SECRET 环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret      string `yaml:"-"`                // 只从 JWT_SECRET 环境变量读取
	AccessTokenTTL string `yaml:"access_token_ttl"` // 例如 "15m"
	Disabled       bool   `yaml:"disabled"`         // dev/test 可关闭认证
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mongodb" or "sqlite"（默认 mongodb）
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从环境变量读取（DB_PASSWORD / MONGO_ROOT_PASSWORD）
	Name     string `yaml:"name"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`  // 未启用时 object:// 来源被拒绝
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// ProviderConfig LLM 提供方配置
// 注意：APIKeys 只从 PROVIDER_API_KEYS 环境变量读取（逗号分隔，组成轮换池）
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`        // 例如 http://localhost:11434
	EmbedModel     string        `yaml:"embed_model"`     // 嵌入模型名
	GenerateModel  string        `yaml:"generate_model"`  // 生成模型名
	RequestTimeout time.Duration `yaml:"request_timeout"` // 单次请求超时
	APIKeys        []string      `yaml:"-"`               // 只从 PROVIDER_API_KEYS 环境变量读取
}

// ChunkingConfig 文本切分配置
type ChunkingConfig struct {
	MaxLength int `yaml:"max_length"` // 单块最大字符数
	Overlap   int `yaml:"overlap"`    // 相邻块重叠字符数
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	VectorK             int     `yaml:"vector_k"`             // 向量分支候选数
	KeywordK            int     `yaml:"keyword_k"`            // 关键词分支候选数
	MinSimilarity       float64 `yaml:"min_similarity"`       // 相似度下限
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // 融合置信度下限
	MaxChunks           int     `yaml:"max_chunks"`           // 最终上下文块数上限
	MaxContextLength    int     `yaml:"max_context_length"`   // 上下文字符预算
	CacheSimilarity     float64 `yaml:"cache_similarity"`     // 答案缓存复用阈值
}

// IngestConfig 摄取工作进程配置
type IngestConfig struct {
	Workers          int           `yaml:"workers"`           // 并发工作进程数
	ReadTimeout      time.Duration `yaml:"read_timeout"`      // 队列阻塞读超时
	ReadCount        int           `yaml:"read_count"`        // 单次批量读取消息数
	StaleAfter       time.Duration `yaml:"stale_after"`       // 任务无心跳判定阈值
	WatchdogInterval time.Duration `yaml:"watchdog_interval"` // 僵尸任务巡检周期
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "mongodb" or "sqlite"
	DatabaseURL    string
	DatabaseDBName string // MongoDB 数据库名称
	RedisURL       string
	APIPort        string
	Auth           AuthConfig
	MinIO          MinIOConfig
	Provider       ProviderConfig
	Chunking       ChunkingConfig
	Retrieval      RetrievalConfig
	Ingest         IngestConfig
}
