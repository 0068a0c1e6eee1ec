package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spectriclabs/gmrt-ingest/internal/api"
	"github.com/spectriclabs/gmrt-ingest/internal/cache"
	"github.com/spectriclabs/gmrt-ingest/internal/config"
)

// Flags holds the command line options.
type Flags struct {
	ConfigFile string
	Debug      bool
	Serve      bool
	Output     string
	Subbands   int
}

func Run() {
	flags, err := ParseCLI(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Error parsing flags: %v", err)
	}

	logger := SetupLogger(flags.Debug)
	defer logger.Sync()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		logger.Fatal("Error loading config file", zap.String("config_file", flags.ConfigFile), zap.Error(err))
	}
	if flags.Output != "" {
		cfg.Output = flags.Output
	}
	if flags.Subbands > 0 {
		cfg.NumSubbands = flags.Subbands
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sdsCache, err := SetupCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Error setting up cache", zap.String("cache_location", cfg.CacheLocation), zap.Error(err))
	}

	inputs, err := OpenInputs(ctx, cfg, sdsCache, logger)
	if err != nil {
		logger.Fatal("Error opening input files", zap.Strings("input_files", cfg.InputFiles), zap.Error(err))
	}
	defer inputs.Close()
	inputs.Meta.WriteSummary(os.Stdout)

	if flags.Serve {
		StartServer(ctx, cfg, inputs, sdsCache, logger)
		return
	}

	summary, err := WriteOutput(ctx, cfg, inputs, logger)
	if err != nil {
		logger.Fatal("Error dedispersing", zap.String("output", cfg.Output), zap.Error(err))
	}
	logger.Info(
		"Finished",
		zap.String("output", cfg.Output),
		zap.Int64("points", summary.Points),
		zap.Int64("padded_batches", summary.PaddedBatches),
		zap.Float64("mean", summary.Mean),
		zap.Float64("stddev", summary.StdDev),
	)
}

// ParseCLI parses `args` into Flags.
//
// * config - location of the YAML configuration file
// * debug - whether or not to enable debug logging
// * serve - serve blocks over HTTP instead of writing output
// * output - dedispersed output file, overrides the config file
// * subbands - number of subbands, overrides the config file
func ParseCLI(args []string) (*Flags, error) {
	flags := &Flags{}
	fs := pflag.NewFlagSet("gmrtingest", pflag.ContinueOnError)
	fs.StringVarP(&flags.ConfigFile, "config", "c", "./gmrt_config.yml", "Location of the configuration file")
	fs.BoolVarP(&flags.Debug, "debug", "d", false, "Whether or not to enable debug logging")
	fs.BoolVarP(&flags.Serve, "serve", "s", false, "Serve blocks over HTTP instead of writing output")
	fs.StringVarP(&flags.Output, "output", "o", "", "Dedispersed output file")
	fs.IntVarP(&flags.Subbands, "subbands", "n", 0, "Number of subbands (0 for a single series)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// SetupLogger sets up the zap.Logger structured logger.
func SetupLogger(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	logger, logErr := zap.Config{
		Encoding:    "json",
		Level:       zap.NewAtomicLevelAt(level),
		OutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:  "message",
			LevelKey:    "level",
			EncodeLevel: zapcore.CapitalLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.ISO8601TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}.Build()
	if logErr != nil {
		log.Fatalf("Couldn't setup logger: %v", logErr)
	}

	return logger
}

// SetupCache creates the cache directory and starts the monitor that
// keeps the downloaded minio objects under the configured size.
func SetupCache(ctx context.Context, cfg *config.Configuration, logger *zap.Logger) (*cache.Cache, error) {
	sdsCache := &cache.Cache{Location: cfg.CacheLocation, Logger: logger}
	minioPath := filepath.Join(cfg.CacheLocation, "miniocache")
	if err := os.MkdirAll(minioPath, 0755); err != nil {
		return nil, err
	}
	go sdsCache.CheckCache(ctx, minioPath, cfg.CheckCacheEvery, cfg.CacheMaxBytes)
	return sdsCache, nil
}

func SetupServer(a *api.API) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Setup Middleware
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/ingest/fs", a.GetFileLocations)
	e.GET("/ingest/files", a.GetFiles)
	e.GET("/ingest/onoff", a.GetOnOff)
	e.GET("/ingest/block/:index", a.GetBlock)
	e.GET("/ingest/block/:index/channel/:channel", a.GetChannel)

	// Add Prometheus as middleware for metrics gathering
	p := prometheus.NewPrometheus("gmrt_ingest", nil)
	p.Use(e)

	return e
}

// StartServer serves the opened inputs until `ctx` is cancelled, then
// shuts down with a timeout of 10 seconds.
func StartServer(ctx context.Context, cfg *config.Configuration, inputs *Inputs, sdsCache *cache.Cache, logger *zap.Logger) {
	e := SetupServer(api.NewAPI(cfg, inputs.Meta, inputs.SessionFunc(cfg, sdsCache, logger), logger))

	address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.Info("Starting server", zap.String("address", address))
	go func() {
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Error shutting down server", zap.Error(err))
	}
}
