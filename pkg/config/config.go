package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Milvus  MilvusConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Source  SourceConfig
	Mailer  MailerConfig
	Digest  DigestConfig
	Webhook WebhookConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	Environment  string
}

func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	EmbeddingDim   int
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type SourceConfig struct {
	BaseURL    string
	PageSize   int
	TimeoutSec int
}

type MailerConfig struct {
	APIKey     string
	BaseURL    string
	FreeFrom   string
	ProFrom    string
	TimeoutSec int
}

type DigestConfig struct {
	WelcomeFloor    float64
	WelcomeTopK     int
	ProFloor        float64
	ProTopK         int
	ProOnboardFloor float64
	ProOnboardTopK  int
	FallbackQuery   string
	RelevanceReduce string // "highest" or "first"
}

type WebhookConfig struct {
	Secret string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/congress-signal")

	viper.SetEnvPrefix("CONGRESS_SIGNAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.readtimeout", 30)
	viper.SetDefault("server.writetimeout", 30)
	viper.SetDefault("server.bodylimit", 4*1024*1024)
	viper.SetDefault("server.environment", "production")

	viper.SetDefault("sqlite.path", "./data/signal.db")

	viper.SetDefault("milvus.collectionname", "extraction_embeddings")
	viper.SetDefault("milvus.vectordim", 1536)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.embeddingmodel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingdim", 1536)
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxtokens", 2048)
	viper.SetDefault("llm.timeoutsec", 60)

	viper.SetDefault("source.baseurl", "https://www.govinfo.gov")
	viper.SetDefault("source.pagesize", 100)
	viper.SetDefault("source.timeoutsec", 30)

	viper.SetDefault("mailer.baseurl", "https://api.resend.com")
	viper.SetDefault("mailer.freefrom", "news-digest@congresssignal.com")
	viper.SetDefault("mailer.profrom", "pro@congresssignal.com")
	viper.SetDefault("mailer.timeoutsec", 15)

	viper.SetDefault("digest.welcomefloor", 0.01)
	viper.SetDefault("digest.welcometopk", 5)
	viper.SetDefault("digest.profloor", 0.5)
	viper.SetDefault("digest.protopk", 1)
	viper.SetDefault("digest.proonboardfloor", 0.01)
	viper.SetDefault("digest.proonboardtopk", 5)
	viper.SetDefault("digest.fallbackquery", "regulatory policy congressional")
	viper.SetDefault("digest.relevancereduce", "highest")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputpath", "stdout")
}

func validate(cfg *Config) error {
	if cfg.Milvus.VectorDim != cfg.LLM.EmbeddingDim {
		return fmt.Errorf("milvus.vectordim (%d) must match llm.embeddingdim (%d): index and query embeddings share one space",
			cfg.Milvus.VectorDim, cfg.LLM.EmbeddingDim)
	}
	switch cfg.Digest.RelevanceReduce {
	case "highest", "first":
	default:
		return fmt.Errorf("digest.relevancereduce must be \"highest\" or \"first\", got %q", cfg.Digest.RelevanceReduce)
	}
	return nil
}
