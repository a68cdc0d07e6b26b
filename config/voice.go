package config

import (
	"os"
	"strings"
)

type VoiceConfig struct {
	AccessToken string
	ConfigID    string
	Endpoint    string
}

func LoadVoiceConfig() VoiceConfig {
	return VoiceConfig{
		AccessToken: os.Getenv("HUME_ACCESS_TOKEN"),
		ConfigID:    os.Getenv("HUME_CONFIG_ID"),
		Endpoint:    os.Getenv("HUME_ENDPOINT"),
	}
}

// AllowedOrigins lists websocket origins from WS_ALLOWED_ORIGINS (comma
// separated). Empty allows any origin.
func AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(os.Getenv("WS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
