package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/militapp/militapp/go/internal/appconfig"
	"github.com/militapp/militapp/go/internal/countdown"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/mealtime"
	"github.com/militapp/militapp/go/internal/roster"
	"github.com/militapp/militapp/go/internal/session"
	"github.com/militapp/militapp/go/internal/timercontrol"
	"github.com/militapp/militapp/go/internal/users"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(appconfig.LogLevel(zerolog.WarnLevel))

	config, err := loadDeviceConfig(appconfig.GetEnv("MILITAPP_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	userID := os.Getenv("MILITAPP_USER_ID")
	if userID == "" {
		log.Fatal().Msg("MILITAPP_USER_ID environment variable is required")
	}
	deviceID := uuid.New().String()
	log.Logger = log.With().Str("device_id", deviceID).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	storeCfg := docstore.ConfigFromEnv()
	storeCfg.Backend = docstore.Backend(appconfig.GetEnv("DOCSTORE_BACKEND", string(docstore.BackendRemote)))
	store, err := docstore.Open(ctx, storeCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open document store")
	}
	defer store.Close()

	clock := clockwork.NewRealClock()
	userApp := users.NewApp(users.NewRepository(store), config.Privileged)
	rosterApp := roster.NewApp(roster.NewRepository(store))
	term := newConsole(os.Stdout)

	controller := session.NewController(
		userApp,
		mealtime.NewApp(store, clock, config.Durations),
		timercontrol.NewChannel(store, clock),
		rosterApp,
		session.Config{
			UserID:    userID,
			Clock:     clock,
			Alarm:     countdown.BellAlarm{Out: os.Stdout},
			Navigator: term,

			HomeDelay:    config.Delays.Home,
			ListDelay:    config.Delays.List,
			RestartDelay: config.Delays.Restart,
		},
	)
	controller.OnStateChange(term.render)

	if err := controller.Mount(ctx, session.ScreenHome); err != nil {
		log.Fatal().Err(err).Msg("failed to mount session")
	}
	defer controller.Unmount()

	term.help()

	commands := make(chan string)
	go readCommands(os.Stdin, commands)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stdout, "bye")
			return
		case line, ok := <-commands:
			if !ok {
				return
			}
			if quit := runCommand(ctx, controller, userApp, rosterApp, term, userID, line); quit {
				return
			}
		}
	}
}

func readCommands(in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

func runCommand(ctx context.Context, controller *session.Controller, userApp *users.App, rosterApp *roster.App, term *console, userID, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "":
		return false
	case "start":
		err = term.reportStart(controller.StartHome(ctx))
	case "restart":
		err = term.reportStart(controller.Restart(ctx))
	case "list":
		if arg == "" {
			term.printf("usage: list <id>")
			return false
		}
		err = term.reportStart(controller.StartForList(ctx, arg))
	case "lists":
		err = printLists(ctx, term, userApp, rosterApp, userID)
	case "home":
		err = controller.Show(ctx, session.ScreenHome)
	case "timer":
		err = controller.Show(ctx, session.ScreenTimer)
	case "back":
		err = controller.Return(ctx)
	case "status":
		term.render(controller.State())
	case "help":
		term.help()
	case "quit", "exit":
		return true
	default:
		term.printf("unknown command %q", cmd)
	}

	if err != nil {
		term.printf("error: %v", err)
	}
	return false
}

func printLists(ctx context.Context, term *console, userApp *users.App, rosterApp *roster.App, userID string) error {
	profile, err := userApp.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	lists, err := rosterApp.ListByZone(ctx, profile.Zone)
	if err != nil {
		return err
	}
	if len(lists) == 0 {
		term.printf("no lists in %s", profile.Zone)
	}
	for _, list := range lists {
		term.printf("%s\t%s", list.ID, list.Name)
	}
	return nil
}
