package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Redis     RedisConfig
	Client    ClientConfig
	Canvas    CanvasConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address   string
	RoomLimit RoomLimitConfig `mapstructure:"roomLimit"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	// ShutdownTimeout bounds the HTTP drain on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type RoomLimitConfig struct {
	MaxPerRoom int    `mapstructure:"maxPerRoom"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type RateLimitConfig struct {
	Messages int           `mapstructure:"messages"`
	Window   time.Duration `mapstructure:"window"`
}

// TransportConfig mirrors transport.ConnectionConfig so it converts directly.
type TransportConfig struct {
	PingInterval time.Duration `mapstructure:"pingInterval"`
	PingTimeout  time.Duration `mapstructure:"pingTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
	ReadLimit    int64         `mapstructure:"readLimit"`
}

// RedisConfig enables relay federation when Addr is set.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	ChannelPrefix string `mapstructure:"channelPrefix"`
}

type ClientConfig struct {
	URL         string        `mapstructure:"url"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
	Backoff     BackoffConfig `mapstructure:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

type CanvasConfig struct {
	GridUnit        float64 `mapstructure:"gridUnit"`
	MinSize         float64 `mapstructure:"minSize"`
	RotationStep    float64 `mapstructure:"rotationStep"`
	NudgeMultiplier float64 `mapstructure:"nudgeMultiplier"`
	Width           float64 `mapstructure:"width"`
	Height          float64 `mapstructure:"height"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
