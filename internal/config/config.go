package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// configDir 由外部通过 SetConfigDir 指定，优先级最高
var configDir string

// envSearchDirs .env 文件搜索目录（仅 dev/test 使用，生产环境由 systemd 注入）
var envSearchDirs = []string{
	".",
	"..",
}

// SetConfigDir 设置配置文件目录（用于 --config 命令行参数）
// 调用后 Load 将优先从该目录加载配置文件
func SetConfigDir(dir string) {
	configDir = dir
}

// Load 加载配置
// 1. 加载 .env.{env}（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))

	loadEnvFiles(env)

	// .env 可能覆盖 APP_ENV，重新解析
	env = parseEnv(getEnv("APP_ENV", string(env)))

	yamlCfg := loadYAMLConfig(env)

	dbPassword := firstEnv("DB_PASSWORD", "MONGO_ROOT_PASSWORD")
	yamlCfg.Database.Password = dbPassword
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	yamlCfg.MinIO.AccessKey = os.Getenv("MINIO_ROOT_USER")
	yamlCfg.MinIO.SecretKey = os.Getenv("MINIO_ROOT_PASSWORD")

	cfg := &Config{
		Env:            env,
		DatabaseDriver: detectDatabaseDriver(yamlCfg.Database.Driver, ""),
		DatabaseURL:    buildDatabaseURL(yamlCfg.Database, dbPassword),
		DatabaseDBName: yamlCfg.Database.Name,
		RedisURL:       buildRedisURL(yamlCfg.Redis),
		APIPort:        yamlCfg.APIServer.Port,
		Auth:           yamlCfg.Auth,
		MinIO:          yamlCfg.MinIO,
		Provider:       yamlCfg.Provider,
		Chunking:       yamlCfg.Chunking,
		Retrieval:      yamlCfg.Retrieval,
		Ingest:         yamlCfg.Ingest,
	}

	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	if keys := os.Getenv("PROVIDER_API_KEYS"); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Provider.APIKeys = append(cfg.Provider.APIKeys, k)
			}
		}
	}

	// 环境变量直接覆盖
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
		cfg.DatabaseDriver = detectDatabaseDriver(yamlCfg.Database.Driver, url)
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	if port := os.Getenv("API_PORT"); port != "" {
		cfg.APIPort = port
	}
	if base := os.Getenv("PROVIDER_BASE_URL"); base != "" {
		cfg.Provider.BaseURL = base
	}

	cfg.Chunking.validate()
	cfg.Retrieval.validate()
	cfg.Ingest.validate()
	cfg.Provider.validate()

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		APIServer: APIServerConfig{Port: "8080"},
		Database:  DatabaseConfig{Driver: "mongodb", Host: "localhost", Port: 27017, Name: "knowledge_engine"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Auth:      AuthConfig{AccessTokenTTL: "15m"},
		Provider: ProviderConfig{
			BaseURL:       "http://localhost:11434",
			EmbedModel:    "nomic-embed-text",
			GenerateModel: "llama3.1",
		},
	}

	for _, base := range effectiveConfigPaths(env) {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths(env) {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// effectiveConfigPaths 返回实际搜索路径
//
// 优先级：
//  1. --config 命令行参数（SetConfigDir）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径
func effectiveConfigPaths(env Environment) []string {
	if configDir != "" {
		return []string{configDir}
	}
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	if env == EnvProduction {
		return []string{"/etc/knowledge-engine"}
	}
	return []string{"configs", "../configs", "../../configs"}
}

// loadEnvFiles 加载 .env 文件
//
// 生产环境不搜索 .env 文件（密码由 systemd EnvironmentFile 或 shell 环境注入）。
// dev/test 环境加载 .env.{env} 文件，回退到裸 .env。
// godotenv.Load 不覆盖已有环境变量，优先级低于 shell 环境变量。
func loadEnvFiles(env Environment) {
	if env == EnvProduction {
		return
	}

	names := []string{fmt.Sprintf(".env.%s", string(env)), ".env"}
	for _, name := range names {
		for _, dir := range envSearchDirs {
			if err := godotenv.Load(filepath.Join(dir, name)); err == nil {
				return
			}
		}
	}
}

// validate 验证并填充切分默认值
func (c *ChunkingConfig) validate() {
	if c.MaxLength <= 0 {
		c.MaxLength = 1000
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxLength {
		c.Overlap = 200
	}
}

// validate 验证并填充检索默认值
func (r *RetrievalConfig) validate() {
	if r.VectorK <= 0 {
		r.VectorK = 8
	}
	if r.KeywordK <= 0 {
		r.KeywordK = 3
	}
	if r.MinSimilarity <= 0 {
		r.MinSimilarity = 0.3
	}
	if r.ConfidenceThreshold <= 0 {
		r.ConfidenceThreshold = 0.4
	}
	if r.MaxChunks <= 0 {
		r.MaxChunks = 5
	}
	if r.MaxContextLength <= 0 {
		r.MaxContextLength = 4000
	}
	if r.CacheSimilarity <= 0 {
		r.CacheSimilarity = 0.85
	}
}

// validate 验证并填充摄取默认值
func (i *IngestConfig) validate() {
	if i.Workers <= 0 {
		i.Workers = 2
	}
	if i.ReadTimeout == 0 {
		i.ReadTimeout = 5 * time.Second
	}
	if i.ReadCount <= 0 {
		i.ReadCount = 10
	}
	if i.StaleAfter == 0 {
		i.StaleAfter = 10 * time.Minute
	}
	if i.WatchdogInterval == 0 {
		i.WatchdogInterval = time.Minute
	}
}

// validate 验证并填充提供方默认值
func (p *ProviderConfig) validate() {
	if p.BaseURL == "" {
		p.BaseURL = "http://localhost:11434"
	}
	if p.EmbedModel == "" {
		p.EmbedModel = "nomic-embed-text"
	}
	if p.GenerateModel == "" {
		p.GenerateModel = "llama3.1"
	}
	if p.RequestTimeout == 0 {
		p.RequestTimeout = 60 * time.Second
	}
}
