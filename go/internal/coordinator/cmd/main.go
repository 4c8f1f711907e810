package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zaclabs/spawnsync/go/internal/alert"
	"github.com/zaclabs/spawnsync/go/internal/config"
	"github.com/zaclabs/spawnsync/go/internal/coordinator"
	"github.com/zaclabs/spawnsync/go/internal/countdown"
	"github.com/zaclabs/spawnsync/go/internal/gateway"
	"github.com/zaclabs/spawnsync/go/internal/identity"
	"github.com/zaclabs/spawnsync/go/internal/models"
	"github.com/zaclabs/spawnsync/go/internal/orders"
	"github.com/zaclabs/spawnsync/go/internal/presence"
	"github.com/zaclabs/spawnsync/go/internal/store"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open store")
	}
	defer st.Close()

	prefs, err := identity.OpenFilePrefs(cfg.PrefsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PrefsPath).Msg("could not open preferences")
	}

	userID := cfg.UserID
	if userID == "" {
		userID = uuid.New().String()
	}
	nickname := cfg.Nickname
	if nickname == "" {
		nickname = prefs.Get(identity.PrefNickname)
	}

	auth := identity.NewStaticAuth(identity.User{ID: userID, DisplayName: nickname}, cfg.Admin)
	sess, err := identity.SessionFromAuth(ctx, auth, nickname)
	if err != nil {
		log.Fatal().Err(err).Msg("could not establish session")
	}

	if sess.Nickname() == "" {
		if _, err := identity.EnsureNickname(ctx, sess, stdinPrompter{}, prefs, st); err != nil {
			log.Fatal().Err(err).Msg("no nickname, cannot continue")
		}
	}

	lang := cfg.Lang
	if lang == "" {
		lang = prefs.Get(identity.PrefLang)
	}

	log.Info().
		Str("store", cfg.StoreBackend).
		Str("user_id", sess.UserID).
		Str("nickname", sess.Nickname()).
		Bool("admin", sess.Admin).
		Str("lang", lang).
		Msg("starting spawnsync coordinator")

	clock := clockwork.NewRealClock()

	// The gateway, engine, dispatcher and coordinator form a cycle (renders
	// flow out, commands flow back in), so wire through late-bound pointers.
	var coord *coordinator.Coordinator
	var srv *gateway.Server

	var speaker alert.Speaker
	if s := alert.NewCommandSpeaker(); s != nil {
		speaker = s
	}
	dispatcher := alert.New(alert.LogVisual{}, speaker, func(name string) alert.Messages {
		return coord.AlertMessages(name)
	})
	dispatcher.SetEnabled(cfg.Notifications)

	engine := countdown.New(countdown.Config{
		Clock:    clock,
		Renderer: renderFunc(func(slot, text string) { srv.PublishDisplay(slot, text) }),
		Alerts: alertBridge{
			disp: dispatcher,
			fn:   func(timer string, kind gateway.AlertKind, msg string) { srv.PublishAlert(timer, kind, msg) },
		},
	})
	defer engine.Stop()

	orderSvc := orders.NewService(st, clock, nil)

	coord = coordinator.New(coordinator.Config{
		Store:   st,
		Clock:   clock,
		Engine:  engine,
		Alerts:  dispatcher,
		Orders:  orderSvc,
		Session: sess,
		Lang:    lang,
		OnOrder: func(o models.Order) { srv.PublishOrder(o) },
		OnRecord: func(kind models.TimerKind, rec models.TimerRecord) {
			srv.PublishRecord(string(kind), rec, coord.Attribution(rec))
		},
	})

	srv = gateway.NewServer(cfg.GatewayAddr, gateway.DefaultConnectionConfig(), coord)

	tracker := presence.New(st, clock, sess, func(r presence.Roster) {
		log.Info().Str("roster", r.String()).Msg("admin roster changed")
		srv.PublishRoster(r)
	})

	go func() {
		if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("coordinator stopped")
			cancel()
		}
	}()
	go func() {
		if err := tracker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("presence tracker stopped")
		}
	}()
	go func() {
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("gateway stopped")
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := tracker.Leave(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("could not deregister presence")
	}
	cancel()

	// Give services time to clean up
	time.Sleep(1 * time.Second)
	log.Info().Msg("spawnsync coordinator shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.StoreBackend == config.BackendMemory {
		return store.NewMemory(), nil
	}
	kvCfg := store.DefaultNATSKVConfig()
	kvCfg.URL = cfg.NATS.URL
	kvCfg.Bucket = cfg.NATS.Bucket
	kvCfg.EphemeralTTL = cfg.NATS.EphemeralTTL
	return store.NewNATSKV(ctx, kvCfg)
}

// stdinPrompter asks on the terminal, the coordinator's only interactive
// surface.
type stdinPrompter struct{}

func (stdinPrompter) Prompt(message string) (string, bool) {
	fmt.Fprintf(os.Stderr, "%s ", message)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", false
	}
	return scanner.Text(), true
}

// renderFunc adapts a closure to the countdown.Renderer interface.
type renderFunc func(slot, text string)

func (f renderFunc) Display(slot, text string) { f(slot, text) }

// alertBridge fans countdown alerts out to the local dispatcher and to
// connected clients.
type alertBridge struct {
	disp *alert.Dispatcher
	fn   func(timer string, kind gateway.AlertKind, msg string)
}

func (b alertBridge) Warn(slot, name string) {
	b.disp.Warn(slot, name)
	b.fn(slot, gateway.AlertWarning, name)
}

func (b alertBridge) Expired(slot, name string) {
	b.disp.Expired(slot, name)
	b.fn(slot, gateway.AlertSpawned, name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
