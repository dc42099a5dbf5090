package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all client configuration.
type Config struct {
	BackendURL     string
	RequestTimeout time.Duration
	WaitTimeout    time.Duration
	UploadRetries  int
	ConfigDir      string
	ImageDir       string
}

// LoadConfig loads configuration from files and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"BackendURL":     "COMFY_BACKEND_URL",
		"RequestTimeout": "COMFY_REQUEST_TIMEOUT",
		"WaitTimeout":    "COMFY_WAIT_TIMEOUT",
		"UploadRetries":  "COMFY_UPLOAD_RETRIES",
		"ConfigDir":      "COMFY_CONFIG_DIR",
		"ImageDir":       "COMFY_IMAGE_DIR",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("comfyflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.comfyflow")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BackendURL", "http://localhost:8188")
	v.SetDefault("RequestTimeout", "30s")
	v.SetDefault("WaitTimeout", "5m")
	v.SetDefault("UploadRetries", 2)
	v.SetDefault("ConfigDir", "./workflows")
	v.SetDefault("ImageDir", "./images")
}
