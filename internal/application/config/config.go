package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Port       string `env:"PORT" envDefault:"3000"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`
	Domain     string `env:"DOMAIN" envDefault:"http://localhost:3000"`
	JWTSecret  string `env:"JWT_SECRET,required,notEmpty"`

	Postgres PostgresConfig
	Gateway  GatewayConfig
	Messages MessagesConfig
	Voice    VoiceConfig
	Store    StoreConfig
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"parley"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`

	ConnectAttempts uint64        `env:"POSTGRES_CONNECT_ATTEMPTS" envDefault:"5"`
	ConnectBackoff  time.Duration `env:"POSTGRES_CONNECT_BACKOFF" envDefault:"500ms"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

// GatewayConfig - параметры websocket шлюза
type GatewayConfig struct {
	PingPeriod     time.Duration `env:"WS_PING_PERIOD" envDefault:"30s"`
	ReadTimeout    time.Duration `env:"WS_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	SendBuffer     int           `env:"WS_SEND_BUFFER" envDefault:"64"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`

	// EventRate - сколько входящих событий в секунду разрешено одному соединению
	EventRate  float64 `env:"WS_EVENT_RATE" envDefault:"20"`
	EventBurst int     `env:"WS_EVENT_BURST" envDefault:"40"`

	StatusTimeout time.Duration `env:"STATUS_TIMEOUT" envDefault:"3s"`
	StatusQueue   int           `env:"STATUS_QUEUE" envDefault:"256"`
}

type MessagesConfig struct {
	Retention     time.Duration `env:"MESSAGE_RETENTION" envDefault:"1h"`
	SweepInterval time.Duration `env:"MESSAGE_SWEEP_INTERVAL" envDefault:"5m"`
}

type VoiceConfig struct {
	DefaultMaxUsers int    `env:"VOICE_DEFAULT_MAX_USERS" envDefault:"10"`
	UDPPort         int    `env:"VOICE_UDP_PORT" envDefault:"40000"`
	AnnouncedIP     string `env:"VOICE_ANNOUNCED_IP"`
}

type StoreConfig struct {
	Shards int `env:"STORE_SHARDS" envDefault:"32"`
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if c.Store.Shards <= 0 {
		return nil, fmt.Errorf("store shards must be positive, got %d", c.Store.Shards)
	}

	if c.Voice.DefaultMaxUsers <= 0 {
		return nil, fmt.Errorf("voice default max users must be positive, got %d", c.Voice.DefaultMaxUsers)
	}

	return &c, nil
}
