package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeHandler 配置重新加载成功后调用
type ChangeHandler func(old, updated *Config)

// Manager 配置管理器：加载、校验、热加载
type Manager struct {
	mu           sync.RWMutex
	config       *Config
	viper        *viper.Viper
	configPath   string
	envFiles     []string
	watchEnabled bool
	listeners    []ChangeHandler
}

// ManagerOption 配置管理器选项
type ManagerOption func(*Manager)

// WithConfigPath 指定配置文件，不指定时按默认路径搜索 zhaojing.yaml
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithEnvFiles 启动时加载的 .env 文件
func WithEnvFiles(files ...string) ManagerOption {
	return func(m *Manager) {
		m.envFiles = files
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchEnabled = enabled
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load 加载配置，已加载时直接返回
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil {
		return m.config, nil
	}

	if err := loadEnvFiles(m.envFiles...); err != nil {
		return nil, fmt.Errorf("加载环境变量文件失败: %w", err)
	}

	v := newViper(m.configPath)
	config, err := read(v)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	m.config = config
	m.viper = v

	if m.watchEnabled && v.ConfigFileUsed() != "" {
		m.watch()
	}
	return config, nil
}

// Get 获取配置（如果未加载则自动加载）
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	if m.config != nil {
		defer m.mu.RUnlock()
		return m.config, nil
	}
	m.mu.RUnlock()

	return m.Load()
}

// OnChange 注册热加载回调
func (m *Manager) OnChange(handler ChangeHandler) {
	m.mu.Lock()
	m.listeners = append(m.listeners, handler)
	m.mu.Unlock()
}

// Reload 重新读取配置；新配置校验失败时保留旧配置
func (m *Manager) Reload() error {
	m.mu.Lock()
	if m.viper == nil {
		m.mu.Unlock()
		return fmt.Errorf("config not loaded")
	}

	updated, err := read(m.viper)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("重新加载配置失败: %w", err)
	}

	old := m.config
	m.config = updated
	listeners := append([]ChangeHandler(nil), m.listeners...)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener(old, updated)
	}
	return nil
}

// watch 监控配置文件变化
func (m *Manager) watch() {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := m.Reload(); err != nil {
			log.Printf("配置文件 %s 变化，但重新加载失败: %v", e.Name, err)
			return
		}
		log.Printf("配置文件 %s 已重新加载", e.Name)
	})
	m.viper.WatchConfig()
}

// Summary 配置摘要
func (m *Manager) Summary() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return map[string]interface{}{"loaded": false}
	}

	file := ""
	if m.viper != nil {
		file = m.viper.ConfigFileUsed()
	}
	return map[string]interface{}{
		"loaded":         true,
		"config_file":    file,
		"server_addr":    m.config.Server.Addr,
		"store_driver":   m.config.Store.Driver,
		"grpc_addr":      m.config.GRPC.Addr,
		"max_retries":    m.config.Submission.MaxRetries,
		"logging_level":  m.config.Logging.Level,
		"background_url": m.config.Transport.BackgroundURL,
	}
}
