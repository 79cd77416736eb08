package internal

import (
	"errors"
	"fmt"
	"os"
	"time"

	apperrors "github.com/koopa0/system-design/14-spawn-relay/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	// Game 遊戲畫布與出兵規則（前後端必須一致）
	Game struct {
		CanvasWidth   float64       `yaml:"canvas_width"`
		CanvasHeight  float64       `yaml:"canvas_height"`
		EntitySize    float64       `yaml:"entity_size"`
		SpawnCooldown time.Duration `yaml:"spawn_cooldown"`
		HistoryLimit  int           `yaml:"history_limit"` // 房間保留的出兵紀錄上限
		StateHistory  int           `yaml:"state_history"` // get_room_state 回傳的最近紀錄數
	} `yaml:"game"`

	WebSocket struct {
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		SendBuffer      int           `yaml:"send_buffer"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongWait        time.Duration `yaml:"pong_wait"`
		WriteWait       time.Duration `yaml:"write_wait"`
		MaxMessageSize  int64         `yaml:"max_message_size"`
		AllowedOrigins  []string      `yaml:"allowed_origins"` // 空 = 全部允許
	} `yaml:"websocket"`

	NATS struct {
		URL           string `yaml:"url"` // 空 = 不發布房間生命週期事件
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

// DefaultConfig 返回默認配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second

	cfg.Game.CanvasWidth = 480
	cfg.Game.CanvasHeight = 720
	cfg.Game.EntitySize = 120
	cfg.Game.SpawnCooldown = 500 * time.Millisecond
	cfg.Game.HistoryLimit = 200
	cfg.Game.StateHistory = 30

	cfg.WebSocket.ReadBufferSize = 1024
	cfg.WebSocket.WriteBufferSize = 1024
	cfg.WebSocket.SendBuffer = 256
	cfg.WebSocket.PingInterval = 54 * time.Second
	cfg.WebSocket.PongWait = 60 * time.Second
	cfg.WebSocket.WriteWait = 10 * time.Second
	cfg.WebSocket.MaxMessageSize = 64 * 1024

	cfg.NATS.SubjectPrefix = "spawnrelay.rooms"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"

	return cfg
}

// LoadConfig 從 YAML 檔載入配置
//
// 檔案中未出現的欄位保留預設值；檔案不存在時直接使用預設值。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "讀取配置檔失敗")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "解析配置檔失敗")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("無效的端口: %d", c.Server.Port)
	}
	if c.Game.EntitySize <= 0 {
		return invalid("entity_size 必須大於 0")
	}
	if c.Game.CanvasWidth < c.Game.EntitySize || c.Game.CanvasHeight < c.Game.EntitySize {
		return invalid("畫布 (%vx%v) 必須容得下實體 (%v)", c.Game.CanvasWidth, c.Game.CanvasHeight, c.Game.EntitySize)
	}
	if c.Game.SpawnCooldown < 0 {
		return invalid("spawn_cooldown 不可為負")
	}
	if c.Game.HistoryLimit <= 0 {
		return invalid("history_limit 必須大於 0")
	}
	if c.Game.StateHistory <= 0 || c.Game.StateHistory > c.Game.HistoryLimit {
		return invalid("state_history 必須在 1-%d 之間", c.Game.HistoryLimit)
	}
	if c.WebSocket.SendBuffer <= 0 {
		return invalid("send_buffer 必須大於 0")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return invalid("ping_interval 必須小於 pong_wait")
	}

	return nil
}

// Settings 從配置建立不可變的遊戲設定
func (c *Config) Settings() Settings {
	return Settings{
		CanvasWidth:   c.Game.CanvasWidth,
		CanvasHeight:  c.Game.CanvasHeight,
		EntitySize:    c.Game.EntitySize,
		SpawnCooldown: c.Game.SpawnCooldown,
		HistoryLimit:  c.Game.HistoryLimit,
		StateHistory:  c.Game.StateHistory,
	}
}

// Settings 遊戲的標準設定
//
// 啟動時建立一次，以值傳遞給各元件，執行期間不會改變。
type Settings struct {
	CanvasWidth   float64
	CanvasHeight  float64
	EntitySize    float64
	SpawnCooldown time.Duration
	HistoryLimit  int
	StateHistory  int
}

// DefaultSettings 返回預設遊戲設定
func DefaultSettings() Settings {
	return DefaultConfig().Settings()
}

// SettingsPayload 回傳給客戶端的畫布設定
type SettingsPayload struct {
	CanvasWidth  float64 `json:"canvas_width"`
	CanvasHeight float64 `json:"canvas_height"`
	EntitySize   float64 `json:"entity_size"`
}

// Payload 轉為客戶端格式
func (s Settings) Payload() SettingsPayload {
	return SettingsPayload{
		CanvasWidth:  s.CanvasWidth,
		CanvasHeight: s.CanvasHeight,
		EntitySize:   s.EntitySize,
	}
}
