package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"max_size_mb"`
			MaxBackups int    `yaml:"max_backups"`
			MaxAgeDays int    `yaml:"max_age_days"`
		} `yaml:"file"`
	} `yaml:"log"`

	Browser   Browser   `yaml:"browser"`
	Artifacts Artifacts `yaml:"artifacts"`
	Runner    Runner    `yaml:"runner"`
	Video     Video     `yaml:"video"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Browser 浏览器引擎配置
type Browser struct {
	Headless      bool          `yaml:"headless"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
	Chromium      Executable    `yaml:"chromium"`
	Firefox       Executable    `yaml:"firefox"`
	WebKit        Executable    `yaml:"webkit"`
	Pool          struct {
		Enabled     bool          `yaml:"enabled"`
		IdleTimeout time.Duration `yaml:"idle_timeout"`
	} `yaml:"pool"`
}

// Executable 引擎可执行文件，Path 为空表示该引擎不可用
type Executable struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// For 返回指定引擎的可执行文件配置
func (b Browser) For(kind domain.BrowserKind) Executable {
	switch kind {
	case domain.BrowserFirefox:
		return b.Firefox
	case domain.BrowserWebKit:
		return b.WebKit
	default:
		return b.Chromium
	}
}

// Artifacts 产物存储配置
type Artifacts struct {
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Backend   string `yaml:"backend"` // minio / local
	LocalRoot string `yaml:"local_root"`
	Minio     struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
}

// Runner 执行器配置
type Runner struct {
	FailurePolicy     domain.FailurePolicy `yaml:"failure_policy"`
	DefaultTimeout    time.Duration        `yaml:"default_timeout"`
	GotoAttempts      int                  `yaml:"goto_attempts"`
	GotoBackoff       time.Duration        `yaml:"goto_backoff"`
	PendingRequestTTL time.Duration        `yaml:"pending_request_ttl"`
	Timeouts          Timeouts             `yaml:"timeouts"`
}

// Timeouts 各类等待的上限
type Timeouts struct {
	Visible    time.Duration `yaml:"visible"`
	Hidden     time.Duration `yaml:"hidden"`
	Text       time.Duration `yaml:"text"`
	URL        time.Duration `yaml:"url"`
	Frame      time.Duration `yaml:"frame"`
	Navigation time.Duration `yaml:"navigation"`
	HTTP       time.Duration `yaml:"http"`
	NthChild   time.Duration `yaml:"nth_child"`
	Probe      time.Duration `yaml:"attach_probe"`
	BlankPage  time.Duration `yaml:"blank_page"`
}

// Video 录屏配置
type Video struct {
	Enabled    bool   `yaml:"enabled"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	FrameRate  int    `yaml:"frame_rate"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "db.sqlite3"
	c.Sqlite.Prefix = "traceiq_"
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File.Path = "logs/runner.log"

	c.Browser.Headless = true
	c.Browser.LaunchTimeout = 30 * time.Second
	c.Browser.Chromium = Executable{Args: []string{"--no-sandbox", "--disable-setuid-sandbox"}}
	c.Browser.Pool.IdleTimeout = 5 * time.Minute

	c.Artifacts.Dir = "/tmp/artifacts"
	c.Artifacts.Bucket = "test-artifacts"
	c.Artifacts.Backend = "minio"
	c.Artifacts.LocalRoot = "artifacts"
	c.Artifacts.Minio.Endpoint = "localhost:9000"
	c.Artifacts.Minio.AccessKey = "minioadmin"
	c.Artifacts.Minio.SecretKey = "minioadmin"

	c.Runner = DefaultRunner()

	c.Video = Video{Enabled: true, FrameRate: 10, Width: 1280, Height: 720}
	return c
}

// DefaultRunner 执行器默认值
func DefaultRunner() Runner {
	return Runner{
		FailurePolicy:     domain.FailureAbort,
		DefaultTimeout:    30 * time.Second,
		GotoAttempts:      3,
		GotoBackoff:       time.Second,
		PendingRequestTTL: 2 * time.Minute,
		Timeouts: Timeouts{
			Visible:    80 * time.Second,
			Hidden:     50 * time.Second,
			Text:       50 * time.Second,
			URL:        15 * time.Second,
			Frame:      30 * time.Second,
			Navigation: 30 * time.Second,
			HTTP:       30 * time.Second,
			NthChild:   30 * time.Second,
			Probe:      5 * time.Second,
			BlankPage:  5 * time.Second,
		},
	}
}

// Load 读取 YAML 配置并叠加环境变量，path 为空时只使用默认值
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := NewConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ARTIFACTS_DIR"); v != "" {
		c.Artifacts.Dir = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		port := getEnv("MINIO_PORT", "9000")
		c.Artifacts.Minio.Endpoint = v + ":" + port
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.Artifacts.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Artifacts.Minio.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET_NAME"); v != "" {
		c.Artifacts.Bucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MINIO_USE_SSL: %w", err)
		}
		c.Artifacts.Minio.UseSSL = b
	}
	if v := os.Getenv("DEFAULT_TIMEOUT"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DEFAULT_TIMEOUT: %w", err)
		}
		c.Runner.DefaultTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SQLITE_DSN"); v != "" {
		c.Sqlite.Dsn = v
	}
	if v := os.Getenv("CHROMIUM_PATH"); v != "" {
		c.Browser.Chromium.Path = v
	}
	return nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Runner.FailurePolicy {
	case "", domain.FailureAbort, domain.FailureContinue:
	default:
		return fmt.Errorf("invalid runner.failure_policy %q", c.Runner.FailurePolicy)
	}
	switch c.Artifacts.Backend {
	case "minio", "local":
	default:
		return fmt.Errorf("invalid artifacts.backend %q", c.Artifacts.Backend)
	}
	if c.Runner.GotoAttempts < 1 {
		return fmt.Errorf("invalid runner.goto_attempts %d", c.Runner.GotoAttempts)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
