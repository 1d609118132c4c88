// Package config 提供應用程式配置載入
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	NATS struct {
		URL        string `yaml:"url"`
		StreamName string `yaml:"stream_name"`
		QueueGroup string `yaml:"queue_group"`
	} `yaml:"nats"`

	Game struct {
		// CountdownFrom 開局倒數起始值（3 → 2 → 1）
		CountdownFrom int `yaml:"countdown_from"`
		// CountdownInterval 倒數每一拍的間隔
		CountdownInterval time.Duration `yaml:"countdown_interval"`
		// StartDebounce 雙方就緒後延遲開局的去抖動時間
		StartDebounce time.Duration `yaml:"start_debounce"`
		// AIMoveDelay AI 落子前的延遲（模擬思考，避免瞬間回手）
		AIMoveDelay time.Duration `yaml:"ai_move_delay"`
		// ReadyLockTTL 就緒鎖的存活時間
		ReadyLockTTL time.Duration `yaml:"ready_lock_ttl"`
		// ReadyLockTimeout 取得就緒鎖的等待上限
		ReadyLockTimeout time.Duration `yaml:"ready_lock_timeout"`
	} `yaml:"game"`

	Matchmaking struct {
		// RangeStep ELO 搜尋視窗每輪擴大的幅度
		RangeStep int `yaml:"range_step"`
		// MaxRange ELO 搜尋視窗上限
		MaxRange int `yaml:"max_range"`
		// RetryDelay 每輪搜尋之間的延遲
		RetryDelay time.Duration `yaml:"retry_delay"`
		// Timeout 排隊逾時（逾時後通知客戶端並移出佇列）
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"matchmaking"`

	Room struct {
		// IdleExpiry WAITING 房間的閒置過期時間
		IdleExpiry time.Duration `yaml:"idle_expiry"`
		// SweepInterval 過期掃描的執行間隔
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"room"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 從 YAML 檔案載入配置
func Load(path string) (*Config, error) {
	// #nosec G304 - path 是硬編碼的配置檔案路徑，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default 返回預設配置（測試與本地開發使用）
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.StreamName == "" {
		c.NATS.StreamName = "GAME_FINISHED"
	}
	if c.NATS.QueueGroup == "" {
		c.NATS.QueueGroup = "game-finished-workers"
	}
	if c.Game.CountdownFrom == 0 {
		c.Game.CountdownFrom = 3
	}
	if c.Game.CountdownInterval == 0 {
		c.Game.CountdownInterval = time.Second
	}
	if c.Game.StartDebounce == 0 {
		c.Game.StartDebounce = 300 * time.Millisecond
	}
	if c.Game.AIMoveDelay == 0 {
		c.Game.AIMoveDelay = 500 * time.Millisecond
	}
	if c.Game.ReadyLockTTL == 0 {
		c.Game.ReadyLockTTL = 5 * time.Second
	}
	if c.Game.ReadyLockTimeout == 0 {
		c.Game.ReadyLockTimeout = 3 * time.Second
	}
	if c.Matchmaking.RangeStep == 0 {
		c.Matchmaking.RangeStep = 50
	}
	if c.Matchmaking.MaxRange == 0 {
		c.Matchmaking.MaxRange = 500
	}
	if c.Matchmaking.RetryDelay == 0 {
		c.Matchmaking.RetryDelay = time.Second
	}
	if c.Matchmaking.Timeout == 0 {
		c.Matchmaking.Timeout = 60 * time.Second
	}
	if c.Room.IdleExpiry == 0 {
		c.Room.IdleExpiry = 10 * time.Minute
	}
	if c.Room.SweepInterval == 0 {
		c.Room.SweepInterval = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}
