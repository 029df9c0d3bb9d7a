package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// 配置键
const (
	KeyReplay        = "replay"
	KeyBuffer        = "buffer"
	KeyAPIURL        = "api_url"
	KeyReplayFolder  = "replay_folder"
	KeyUploadTimeout = "upload_timeout"
	KeyUploadWorkers = "upload_workers"
	KeyUploadQueue   = "upload_queue"
	KeyLogLevel      = "log_level"
)

// Manager 配置管理器，包装viper实例
// 搜索路径下的scrollspost.yaml，环境变量前缀SP_，支持热重载
type Manager struct {
	v *viper.Viper
}

// Load 加载配置，配置文件不存在时全部走默认值
func Load(searchPaths ...string) (*Manager, error) {
	v := viper.New()

	v.SetConfigName("scrollspost")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{".", "./configs"}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("SP")
	v.AutomaticEnv()

	setDefaultValues(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	return &Manager{v: v}, nil
}

// setDefaultValues 设置默认配置值
func setDefaultValues(v *viper.Viper) {
	v.SetDefault(KeyReplay, "ask")
	v.SetDefault(KeyBuffer, 4096)
	v.SetDefault(KeyAPIURL, "http://api.scrollspost.com")
	v.SetDefault(KeyReplayFolder, "replays")
	v.SetDefault(KeyUploadTimeout, "60s")
	v.SetDefault(KeyUploadWorkers, 2)
	v.SetDefault(KeyUploadQueue, 16)
	v.SetDefault(KeyLogLevel, "info")
}

// String 获取字符串配置值，未设置时返回fallback
func (m *Manager) String(key, fallback string) string {
	if !m.v.IsSet(key) {
		return fallback
	}
	if s := m.v.GetString(key); s != "" {
		return s
	}
	return fallback
}

// Int 获取整数配置值，未设置或非法时返回fallback
func (m *Manager) Int(key string, fallback int) int {
	if !m.v.IsSet(key) {
		return fallback
	}
	if n := m.v.GetInt(key); n != 0 {
		return n
	}
	return fallback
}

// Duration 获取时间配置值，未设置或非法时返回fallback
func (m *Manager) Duration(key string, fallback time.Duration) time.Duration {
	if !m.v.IsSet(key) {
		return fallback
	}
	if d := m.v.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}

// Set 运行时覆盖配置值
func (m *Manager) Set(key string, value interface{}) {
	m.v.Set(key, value)
}

// ConfigFileUsed 实际生效的配置文件路径，未找到时为空
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Watch 监听配置文件变化，每次变化后回调
func (m *Manager) Watch(onChange func()) {
	m.v.WatchConfig()
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if onChange != nil {
			onChange()
		}
	})
}
