package config

import "os"

// ClientConfig holds the CLI settings.
type ClientConfig struct {
	APIURL string
	// SessionFile overrides the default session location when set.
	SessionFile string
}

// LoadClient reads API_URL and IRRIGCTL_SESSION.
func LoadClient() ClientConfig {
	return ClientConfig{
		APIURL:      getEnv("API_URL", "http://localhost:4000"),
		SessionFile: os.Getenv("IRRIGCTL_SESSION"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
