package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/mcdev12/planningpoker/go/internal/gateway"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Store backends selectable with POKER_STORE.
const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

// EnvConfig is read from the environment.
type EnvConfig struct {
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	Port         string `env:"PORT" envDefault:"8080"`
	ConfigPath   string `env:"POKER_CONFIG" envDefault:"config.yaml"`
	Store        string `env:"POKER_STORE" envDefault:"postgres"`
	EmbedGateway bool   `env:"API_EMBED_GATEWAY" envDefault:"false"`

	DB       dbconfig.Config
	NATS     changefeed.JetStreamConfig
	Consumer gateway.JetStreamConsumerConfig
}

// Config is the optional YAML server configuration.
type Config struct {
	Sizing struct {
		Enabled []string `yaml:"enabled"`
	} `yaml:"sizing"`
}

// loadConfig reads path. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// enabledSizingTypes validates the configured sizing types. None configured means all.
func enabledSizingTypes(config *Config) ([]models.SizingType, error) {
	if len(config.Sizing.Enabled) == 0 {
		return models.AllSizingTypes(), nil
	}
	types := make([]models.SizingType, 0, len(config.Sizing.Enabled))
	for _, name := range config.Sizing.Enabled {
		t, err := models.ParseSizingType(name)
		if err != nil {
			return nil, fmt.Errorf("invalid sizing config: %w", err)
		}
		types = append(types, t)
	}
	log.Info().Strs("sizing_types", config.Sizing.Enabled).Msg("Loaded sizing configuration")
	return types, nil
}
