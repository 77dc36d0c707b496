package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the chat API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string
	// ChannelBase namespaces the redis pub/sub streams and presence keys so
	// several environments can share one redis.
	ChannelBase string
	SendRateMax int
	SeedEnabled bool
	SeedToken   string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MENTORLINK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "MentorLink Chat API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "mentorlink")
	v.SetDefault("chat.send_rate_max", 20)

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),
		ChannelBase: v.GetString("channel.base"),
		SendRateMax: v.GetInt("chat.send_rate_max"),
		SeedEnabled: v.GetBool("seed.enabled"),
		SeedToken:   v.GetString("seed.token"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SendRateMax <= 0 {
		cfg.SendRateMax = 20
	}

	return cfg, nil
}
