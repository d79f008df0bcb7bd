package main

import (
	"github.com/jonboulle/clockwork"

	"github.com/militapp/militapp/go/internal/appconfig"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/gateway"
	"github.com/militapp/militapp/go/internal/mealtime"
	"github.com/militapp/militapp/go/internal/roster"
	"github.com/militapp/militapp/go/internal/timercontrol"
	"github.com/militapp/militapp/go/internal/users"
)

type Services struct {
	Users   *users.Service
	Gateway *gateway.Service
}

func setupServices(store docstore.Store, config *appconfig.Config) (*Services, error) {
	// Store → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()

	privileged, err := config.Privileged()
	if err != nil {
		return nil, err
	}
	durationsCfg, err := config.DurationsConfig()
	if err != nil {
		return nil, err
	}

	// Users
	userRepo := users.NewRepository(store)
	userApp := users.NewApp(userRepo, privileged)
	userService := users.NewService(userApp)

	// Durations
	mealtimeApp := mealtime.NewApp(store, clock, durationsCfg)

	// Lists
	rosterApp := roster.NewApp(roster.NewRepository(store))

	// Start time
	channel := timercontrol.NewChannel(store, clock)

	gatewayService := gateway.NewService(gatewayConfig(config), gateway.Dependencies{
		Store:     store,
		Profiles:  userApp,
		Channel:   channel,
		Durations: mealtimeApp,
		Lists:     rosterApp,
		Clock:     clock,
	})

	return &Services{
		Users:   userService,
		Gateway: gatewayService,
	}, nil
}
