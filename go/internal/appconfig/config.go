// Package appconfig loads the settings shared by the gateway and the device
// CLI from a yaml file with environment overrides.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/militapp/militapp/go/internal/mealtime"
	"github.com/militapp/militapp/go/internal/models"
	"github.com/militapp/militapp/go/internal/users"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Docstore struct {
		Backend string `yaml:"backend"`
	} `yaml:"docstore"`

	Timer struct {
		HomeDelaySec    int `yaml:"home_delay_sec"`
		ListDelaySec    int `yaml:"list_delay_sec"`
		RestartDelaySec int `yaml:"restart_delay_sec"`
	} `yaml:"timer"`

	Durations struct {
		TimeZone string         `yaml:"time_zone"`
		Defaults map[string]int `yaml:"defaults"`
	} `yaml:"durations"`

	PrivilegedRanks []string `yaml:"privileged_ranks"`

	RateLimit struct {
		StartPerSec   float64 `yaml:"start_per_sec"`
		StartBurst    int     `yaml:"start_burst"`
		RequestPerSec float64 `yaml:"request_per_sec"`
		RequestBurst  int     `yaml:"request_burst"`
	} `yaml:"rate_limit"`
}

// Delays are the configured start delays. A zero delay means the default.
type Delays struct {
	Home    time.Duration
	List    time.Duration
	Restart time.Duration
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// Load reads path and applies environment overrides. A missing file leaves
// every setting at its zero value.
func Load(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server.Port = GetEnv("PORT", config.Server.Port)
	config.Docstore.Backend = GetEnv("DOCSTORE_BACKEND", config.Docstore.Backend)
	config.Durations.TimeZone = GetEnv("MILITAPP_TIME_ZONE", config.Durations.TimeZone)
	config.Timer.HomeDelaySec = GetEnvAsInt("HOME_DELAY_SEC", config.Timer.HomeDelaySec)
	config.Timer.ListDelaySec = GetEnvAsInt("LIST_DELAY_SEC", config.Timer.ListDelaySec)
	config.Timer.RestartDelaySec = GetEnvAsInt("RESTART_DELAY_SEC", config.Timer.RestartDelaySec)

	return &config, nil
}

func (c *Config) Delays() Delays {
	return Delays{
		Home:    seconds(c.Timer.HomeDelaySec),
		List:    seconds(c.Timer.ListDelaySec),
		Restart: seconds(c.Timer.RestartDelaySec),
	}
}

func seconds(sec int) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

func (c *Config) DurationsConfig() (mealtime.Config, error) {
	cfg := mealtime.Config{Defaults: make(map[models.Rank]int, len(c.Durations.Defaults))}
	for raw, sec := range c.Durations.Defaults {
		rank, err := models.ParseRank(raw)
		if err != nil {
			return mealtime.Config{}, fmt.Errorf("invalid default duration: %w", err)
		}
		cfg.Defaults[rank] = sec
	}

	if c.Durations.TimeZone != "" {
		loc, err := time.LoadLocation(c.Durations.TimeZone)
		if err != nil {
			return mealtime.Config{}, fmt.Errorf("failed to load time zone: %w", err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

// Privileged returns the ranks allowed to start countdowns, falling back to
// users.DefaultPrivilegedRanks
func (c *Config) Privileged() ([]models.Rank, error) {
	if len(c.PrivilegedRanks) == 0 {
		return users.DefaultPrivilegedRanks, nil
	}
	ranks := make([]models.Rank, 0, len(c.PrivilegedRanks))
	for _, raw := range c.PrivilegedRanks {
		rank, err := models.ParseRank(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid privileged rank: %w", err)
		}
		ranks = append(ranks, rank)
	}
	return ranks, nil
}

// LogLevel reads LOG_LEVEL, using fallback when unset or unparseable
func LogLevel(fallback zerolog.Level) zerolog.Level {
	level, err := zerolog.ParseLevel(GetEnv("LOG_LEVEL", fallback.String()))
	if err != nil {
		return fallback
	}
	return level
}
