// Skim is a personal feed reader.
//
// It keeps a timeline of items from the feeds it is subscribed to, fetching
// more whenever the unread ones run low, and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"

	"github.com/jdholdren/skim/internal/api"
	"github.com/jdholdren/skim/internal/engine"
	"github.com/jdholdren/skim/internal/fetch"
	"github.com/jdholdren/skim/internal/logger"
	"github.com/jdholdren/skim/internal/migrations"
	"github.com/jdholdren/skim/internal/skim"
	"github.com/jdholdren/skim/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, required"`
	Port     int    `env:"PORT, default=4444"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	CorsOrigin   string `env:"CORS_ORIGIN, default=*"`

	WaterMark       int `env:"WATER_MARK, default=10"`
	MinReloadWait   int `env:"MIN_RELOAD_WAIT, default=12"`  // hours
	MaxKeptPeriod   int `env:"MAX_KEPT_PERIOD, default=180"` // days
	MaxItemsPerFeed int `env:"MAX_ITEMS_PER_FEED, default=100"`
	TruncateItems   int `env:"TRUNCATE_ITEMS_PER_FEED, default=25"`

	BounceLoad   bool          `env:"BOUNCE_LOAD, default=false"`
	BouncerRoot  string        `env:"BOUNCER_ROOT, default=https://roastidio.us"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT, default=30s"`

	ClearDatabase bool          `env:"CLEAR_DATABASE, default=false"`
	IdleTimeout   time.Duration `env:"IDLE_TIMEOUT, default=1h"`
}

func (c config) settings() skim.Settings {
	return skim.Settings{
		WaterMark:       c.WaterMark,
		MinReloadWait:   time.Duration(c.MinReloadWait) * time.Hour,
		MaxKeptPeriod:   time.Duration(c.MaxKeptPeriod) * 24 * time.Hour,
		MaxItemsPerFeed: c.MaxItemsPerFeed,
		TruncateItems:   c.TruncateItems,
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	// Determine which logger format to use
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LoggerFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	l := slog.New(logger.NewContextHandler(handler))
	slog.SetDefault(l)

	// Start the application
	if err := runApp(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runApp(ctx context.Context, cfg config) error {
	slog.Info("running", "config", cfg)

	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()

	// Migrate, always. Clearing drops everything first.
	migrate := migrations.Run
	if cfg.ClearDatabase {
		slog.Warn("clearing database")
		migrate = migrations.Reset
	}
	if err := migrate(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	client, err := fetch.NewClient(fetch.Config{
		Relay:     cfg.BounceLoad,
		RelayRoot: cfg.BouncerRoot,
		Timeout:   cfg.FetchTimeout,
	})
	if err != nil {
		return err
	}

	var (
		broker = api.NewBroker()
		eng    = engine.New(sqlite.New(dbx), client, cfg.settings(),
			engine.WithObserver(broker.Publish),
			engine.WithIdleTimeout(cfg.IdleTimeout),
		)
		srv = api.NewServer(api.ServerConfig{Port: cfg.Port, CorsOrigin: cfg.CorsOrigin}, eng, broker)
		g   run.Group
	)

	{
		// The engine; when it shuts itself down everything else follows.
		engCtx, stop := context.WithCancel(ctx)
		g.Add(func() error {
			defer broker.Close()
			if err := eng.Run(engCtx); err != nil {
				return fmt.Errorf("error running engine: %s", err)
			}
			slog.Info("engine stopped")
			return nil
		}, func(error) {
			stop()
		})
	}
	{
		g.Add(func() error {
			slog.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("error listening: %s", err)
			}
			return nil
		}, func(error) {
			downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(downCtx); err != nil {
				slog.Error("error shutting down server", "error", err)
			}
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if err := g.Run(); err != nil && !errors.Is(err, run.ErrSignal) && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("stopped")

	return nil
}
