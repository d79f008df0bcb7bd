package main

import (
	"github.com/militapp/militapp/go/internal/appconfig"
	"github.com/militapp/militapp/go/internal/mealtime"
	"github.com/militapp/militapp/go/internal/models"
)

// deviceConfig is the part of the shared config a device needs so that its
// start control and delays agree with the gateway
type deviceConfig struct {
	Privileged []models.Rank
	Durations  mealtime.Config
	Delays     appconfig.Delays
}

func loadDeviceConfig(path string) (*deviceConfig, error) {
	config, err := appconfig.Load(path)
	if err != nil {
		return nil, err
	}

	privileged, err := config.Privileged()
	if err != nil {
		return nil, err
	}
	durations, err := config.DurationsConfig()
	if err != nil {
		return nil, err
	}

	return &deviceConfig{
		Privileged: privileged,
		Durations:  durations,
		Delays:     config.Delays(),
	}, nil
}
