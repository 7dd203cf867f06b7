package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"zhaojing/internal/content"
	"zhaojing/internal/store"
	"zhaojing/internal/transport"
)

// Config 完整配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      store.Config     `mapstructure:"store"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Submission SubmissionConfig `mapstructure:"submission"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Playback   PlaybackConfig   `mapstructure:"playback"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig 后台 HTTP / websocket 服务
type ServerConfig struct {
	Addr         string          `mapstructure:"addr"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	WebSocket    WebSocketConfig `mapstructure:"websocket"`
	LogsPath     string          `mapstructure:"logs_path"`
}

// WebSocketConfig 页面连接端点
type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	MaxConnections    int           `mapstructure:"max_connections"`
	HelloTimeout      time.Duration `mapstructure:"hello_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
}

// TransportConfig 页面端到后台的连接
type TransportConfig struct {
	BackgroundURL     string        `mapstructure:"background_url"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectTries int           `mapstructure:"max_reconnect_tries"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// SubmissionConfig 会话提交
type SubmissionConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// GRPCConfig 健康检查服务
type GRPCConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// PlaybackConfig 回放
type PlaybackConfig struct {
	Speed float64 `mapstructure:"speed"`
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Broadcast bool   `mapstructure:"broadcast"`
}

// RetryPolicy 转换为提交器的重试策略
func (c SubmissionConfig) RetryPolicy() content.RetryPolicy {
	return content.RetryPolicy{
		MaxRetries:    c.MaxRetries,
		RetryInterval: c.RetryInterval,
		Timeout:       c.Timeout,
	}
}

// ServerOptions 转换为页面连接端点配置
func (c ServerConfig) ServerOptions() *transport.ServerConfig {
	opts := transport.DefaultServerConfig()
	opts.MaxConnections = c.WebSocket.MaxConnections
	opts.ReadBufferSize = c.WebSocket.ReadBufferSize
	opts.WriteBufferSize = c.WebSocket.WriteBufferSize
	opts.EnableCompression = c.WebSocket.EnableCompression
	opts.HelloTimeout = c.WebSocket.HelloTimeout
	opts.Peer.PingInterval = c.WebSocket.PingInterval
	return opts
}

// ClientOptions 转换为页面端连接配置
func (c TransportConfig) ClientOptions(tabID, pageURL string) *transport.ClientConfig {
	opts := transport.DefaultClientConfig(c.BackgroundURL, tabID)
	opts.PageURL = pageURL
	opts.HandshakeTimeout = c.HandshakeTimeout
	opts.ReconnectInterval = c.ReconnectInterval
	opts.MaxReconnectTries = c.MaxReconnectTries
	opts.Peer.WriteTimeout = c.WriteTimeout
	return opts
}

// setDefaultValues 默认配置
func setDefaultValues(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.websocket.path", "/ws")
	v.SetDefault("server.websocket.read_buffer_size", 4096)
	v.SetDefault("server.websocket.write_buffer_size", 4096)
	v.SetDefault("server.websocket.enable_compression", true)
	v.SetDefault("server.websocket.max_connections", 1000)
	v.SetDefault("server.websocket.hello_timeout", "10s")
	v.SetDefault("server.websocket.ping_interval", "30s")
	v.SetDefault("server.logs_path", "/ws/logs")

	defaults := store.DefaultConfig()
	v.SetDefault("store.driver", defaults.Driver)
	v.SetDefault("store.sqlite.path", defaults.SQLite.Path)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.host", defaults.Postgres.Host)
	v.SetDefault("store.postgres.port", defaults.Postgres.Port)
	v.SetDefault("store.postgres.user", defaults.Postgres.User)
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", defaults.Postgres.DBName)
	v.SetDefault("store.postgres.sslmode", defaults.Postgres.SSLMode)
	v.SetDefault("store.postgres.max_conns", defaults.Postgres.MaxConns)
	v.SetDefault("store.postgres.min_conns", defaults.Postgres.MinConns)

	v.SetDefault("transport.background_url", "ws://127.0.0.1:8090/ws")
	v.SetDefault("transport.handshake_timeout", "10s")
	v.SetDefault("transport.reconnect_interval", "2s")
	v.SetDefault("transport.max_reconnect_tries", 10)
	v.SetDefault("transport.write_timeout", "5s")

	v.SetDefault("submission.max_retries", 0)
	v.SetDefault("submission.retry_interval", "500ms")
	v.SetDefault("submission.timeout", "30s")

	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("grpc.enabled", true)

	v.SetDefault("playback.speed", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.broadcast", true)
}

// newViper 配置文件 zhaojing.yaml，环境变量前缀 ZHAOJING（store.driver -> ZHAOJING_STORE_DRIVER）
func newViper(path string) *viper.Viper {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zhaojing")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ZHAOJING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultValues(v)
	return v
}

// loadEnvFiles 加载 .env，文件不存在时忽略
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// read 读取配置文件并解析
func read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时只用默认值和环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load 直接加载一次配置；path 为空时按默认路径搜索
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}
	return read(newViper(path))
}

// Validate 检查配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.WebSocket.Path, "/") {
		return fmt.Errorf("server.websocket.path must start with /")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.Submission.MaxRetries < 0 {
		return fmt.Errorf("submission.max_retries must be >= 0")
	}
	if c.Playback.Speed < 0 {
		return fmt.Errorf("playback.speed must be >= 0")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}
	return nil
}
