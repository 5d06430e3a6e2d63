package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables. Keys map to
// variables as LAYOUTSYNC_SERVER_ADDRESS, LAYOUTSYNC_REDIS_ADDR and so on.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	setDefaults(v)

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("LAYOUTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.roomLimit.maxPerRoom", 0)
	v.SetDefault("server.roomLimit.mode", "reject")
	v.SetDefault("server.rateLimit.messages", 0)
	v.SetDefault("server.rateLimit.window", "1s")
	v.SetDefault("server.shutdownTimeout", "10s")

	v.SetDefault("transport.pingInterval", "30s")
	v.SetDefault("transport.pingTimeout", "10s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.readLimit", 4<<20)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channelPrefix", "layoutsync:room:")

	v.SetDefault("client.url", "ws://localhost:8080/ws")
	v.SetDefault("client.dialTimeout", "5s")
	v.SetDefault("client.backoff.initial", "500ms")
	v.SetDefault("client.backoff.max", "30s")
	v.SetDefault("client.backoff.multiplier", 2.0)

	v.SetDefault("canvas.gridUnit", 20)
	v.SetDefault("canvas.minSize", 20)
	v.SetDefault("canvas.rotationStep", 45)
	v.SetDefault("canvas.nudgeMultiplier", 5)
	v.SetDefault("canvas.width", 800)
	v.SetDefault("canvas.height", 600)

	v.SetDefault("log.level", "info")
}

// Validate rejects values the relay and canvas cannot run with.
func (c *Config) Validate() error {
	switch c.Server.RoomLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("invalid server.roomLimit.mode '%s': want reject or cycle", c.Server.RoomLimit.Mode)
	}
	if c.Canvas.GridUnit <= 0 {
		return errors.New("canvas.gridUnit must be positive")
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		return errors.New("canvas.width and canvas.height must be positive")
	}
	if c.Client.Backoff.Multiplier < 1 {
		return errors.New("client.backoff.multiplier must be at least 1")
	}
	return nil
}
