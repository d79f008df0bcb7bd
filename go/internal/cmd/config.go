package main

import (
	"github.com/militapp/militapp/go/internal/appconfig"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/gateway"
)

// loadConfig reads the shared settings and fills in the gateway's defaults
func loadConfig(path string) (*appconfig.Config, error) {
	config, err := appconfig.Load(path)
	if err != nil {
		return nil, err
	}
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.Docstore.Backend == "" {
		config.Docstore.Backend = string(docstore.BackendMemory)
	}
	return config, nil
}

// gatewayConfig overlays configured delays and limits on the gateway defaults
func gatewayConfig(config *appconfig.Config) gateway.Config {
	cfg := gateway.DefaultConfig()
	delays := config.Delays()
	if delays.Home > 0 {
		cfg.Timer.HomeDelay = delays.Home
	}
	if delays.List > 0 {
		cfg.Timer.ListDelay = delays.List
	}
	if delays.Restart > 0 {
		cfg.Timer.RestartDelay = delays.Restart
	}
	if config.RateLimit.StartPerSec > 0 {
		cfg.StartRatePerSec = config.RateLimit.StartPerSec
	}
	if config.RateLimit.StartBurst > 0 {
		cfg.StartBurst = config.RateLimit.StartBurst
	}
	if config.RateLimit.RequestPerSec > 0 {
		cfg.RequestRatePerSec = config.RateLimit.RequestPerSec
	}
	if config.RateLimit.RequestBurst > 0 {
		cfg.RequestBurst = config.RateLimit.RequestBurst
	}
	return cfg
}
