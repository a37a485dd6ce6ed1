package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

type ICEConfig struct {
	STUNURLs     []string `mapstructure:"stun_urls"`
	TURNURLs     []string `mapstructure:"turn_urls"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`
}

// Servers maps the configured URLs onto pion ICE servers.
func (c ICEConfig) Servers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: c.STUNURLs}}
	if len(c.TURNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNURLs,
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}
	return servers
}

// MediaConfig holds the preferred and fallback capture constraint sets plus
// advisory encoding knobs. The encoding values are quality policy, not
// correctness-critical; failure to apply them never blocks a connection.
type MediaConfig struct {
	Width             int     `mapstructure:"width"`
	Height            int     `mapstructure:"height"`
	FrameRate         float32 `mapstructure:"frame_rate"`
	FallbackWidth     int     `mapstructure:"fallback_width"`
	FallbackHeight    int     `mapstructure:"fallback_height"`
	FallbackFrameRate float32 `mapstructure:"fallback_frame_rate"`
	VideoBitRate      int     `mapstructure:"video_bit_rate"`
	AudioLatencyMs    int     `mapstructure:"audio_latency_ms"`
}

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	HubURL string `mapstructure:"hub_url"`

	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
	ReconnectBackoff     time.Duration `mapstructure:"reconnect_backoff"`
	DisconnectGrace      time.Duration `mapstructure:"disconnect_grace"`

	ICE   ICEConfig   `mapstructure:"ice"`
	Media MediaConfig `mapstructure:"media"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("hub_url", "ws://localhost:8080")
	v.SetDefault("heartbeat_interval", "10s")
	v.SetDefault("reconnect_max_attempts", 5)
	v.SetDefault("reconnect_backoff", "2s")
	v.SetDefault("disconnect_grace", "5s")
	v.SetDefault("ice.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.width", 1280)
	v.SetDefault("media.height", 720)
	v.SetDefault("media.frame_rate", 30)
	v.SetDefault("media.fallback_width", 640)
	v.SetDefault("media.fallback_height", 480)
	v.SetDefault("media.fallback_frame_rate", 15)
	v.SetDefault("media.video_bit_rate", 1_500_000)
	v.SetDefault("media.audio_latency_ms", 20)

	if err := v.ReadInConfig(); err != nil {
		// Defaults are complete; a missing file is not fatal.
		fmt.Fprintf(os.Stderr, "config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
