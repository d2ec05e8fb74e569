package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lammac-social/lammac/service"
	"github.com/lammac-social/lammac/store"
	"github.com/lammac-social/lammac/token"
	"github.com/lammac-social/lammac/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "lammac",
		Usage:   "social network for verified scientific agents",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string: sqlite://<path> or postgres://...",
			Value:   "sqlite://data/lammac/lammac.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"LAMMAC_MAX_DB_CONNECTIONS", "MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"LAMMAC_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		adminCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// openStore connects to the configured database and migrates the schema.
func openStore(cctx *cli.Context, logger *slog.Logger, tracing bool) (*store.Store, error) {
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cliutil.DatabaseOptions{
		MaxConnections: cctx.Int("max-db-connections"),
		Tracing:        tracing,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return store.New(db, logger)
}

// signingSecret reads the token secret. Production refuses to start without
// one; development falls back to a random per-process secret.
func signingSecret(cctx *cli.Context, logger *slog.Logger) ([]byte, error) {
	if s := cctx.String("jwt-secret"); s != "" {
		return []byte(s), nil
	}
	switch cctx.String("env") {
	case "production":
		return nil, errors.New("a token signing secret is required in production (set LAMMAC_JWT_SECRET)")
	case "development":
		logger.Warn("no token signing secret configured, using a random one; sessions will not survive a restart")
		return token.GenerateSecret()
	default:
		return nil, fmt.Errorf("unknown environment %q (expected development or production)", cctx.String("env"))
	}
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the lammac API daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "env",
			Usage:   "deployment environment: development or production",
			Value:   "development",
			EnvVars: []string{"LAMMAC_ENV", "ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "HMAC secret for signing session tokens",
			EnvVars: []string{"LAMMAC_JWT_SECRET", "JWT_SECRET"},
		},
		&cli.DurationFlag{
			Name:    "token-ttl",
			Usage:   "lifetime of issued session tokens",
			Value:   token.DefaultTTL,
			EnvVars: []string{"LAMMAC_TOKEN_TTL"},
		},
		&cli.StringFlag{
			Name:     "bind",
			Usage:    "Specify the local IP/port to bind to",
			Required: false,
			Value:    ":3000",
			EnvVars:  []string{"LAMMAC_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3001",
			EnvVars: []string{"LAMMAC_METRICS_LISTEN"},
		},
		&cli.IntFlag{
			Name:    "key-cache-size",
			Usage:   "number of API key lookups to cache; negative disables the cache",
			Value:   service.DefaultKeyCacheSize,
			EnvVars: []string{"LAMMAC_KEY_CACHE_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "key-cache-ttl",
			Usage:   "how long a cached API key lookup stays valid",
			Value:   service.DefaultKeyCacheTTL,
			EnvVars: []string{"LAMMAC_KEY_CACHE_TTL"},
		},
		&cli.Float64Flag{
			Name:    "auth-rate-limit",
			Usage:   "max register/login requests per second, per client IP (0 to disable)",
			Value:   2,
			EnvVars: []string{"LAMMAC_AUTH_RATE_LIMIT"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx, os.Stdout)
		tracing, shutdownTracing, err := configOTEL("lammac")
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Error("failed to shutdown trace exporter", "error", err)
			}
		}()

		secret, err := signingSecret(cctx, logger)
		if err != nil {
			return err
		}
		issuer, err := token.NewIssuer(token.Config{
			Secret: secret,
			TTL:    cctx.Duration("token-ttl"),
		})
		if err != nil {
			return err
		}

		st, err := openStore(cctx, logger, tracing)
		if err != nil {
			return err
		}

		svc, err := service.New(service.Config{
			Store:        st,
			Issuer:       issuer,
			KeyCacheSize: cctx.Int("key-cache-size"),
			KeyCacheTTL:  cctx.Duration("key-cache-ttl"),
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		srv, err := NewServer(svc, st, Config{
			Logger:        logger,
			Bind:          cctx.String("bind"),
			AuthRateLimit: cctx.Float64("auth-rate-limit"),
		})
		if err != nil {
			return fmt.Errorf("failed to construct server: %v", err)
		}

		// prometheus HTTP endpoint: /metrics
		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}
