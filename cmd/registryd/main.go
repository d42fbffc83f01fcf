// Command registryd serves the agent registry over HTTP.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"agentregistry/internal/adapters/httpapi"
	"agentregistry/internal/blob"
	"agentregistry/internal/config"
	"agentregistry/internal/core"
	"agentregistry/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "registryd",
		Usage: "add 'service' tag to logs",
	},
	&cli.StringFlag{
		Name:  "trace-file",
		Usage: "append JSON trace spans for every call to this file",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
	&cli.Int64Flag{
		Name:  "max-image-bytes",
		Value: httpapi.DefaultMaxImageBytes,
		Usage: "largest accepted image upload",
	},
}

func main() {
	app := &cli.App{
		Name:    "registryd",
		Usage:   "Serve the permissioned agent registry",
		Version: Version,
		Flags:   flags,
		Action:  run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := logging.Setup(logging.Options{
		Debug:   cCtx.Bool("log-debug"),
		JSON:    cCtx.Bool("log-json"),
		Service: cCtx.String("log-service"),
		Version: Version,
		UID:     cCtx.Bool("log-uid"),
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "err", err)
		return err
	}
	ctx := cCtx.Context

	engine := core.NewDefaultRulesEngine()
	store, closer, err := core.OpenPersistentStore(ctx, cfg.Storage(), engine)
	if err != nil {
		logger.Error("Failed to open store", "driver", cfg.StorageDriver, "err", err)
		return err
	}
	defer closer.Close()

	blobs, err := blob.Open(ctx, cfg.Blob())
	if err != nil {
		logger.Error("Failed to open image store", "driver", cfg.BlobDriver, "err", err)
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithLimits(cfg.Limits()),
		core.WithBlobStore(blobs),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(core.NewLogAuditRecorder(logger.With("component", "audit"))),
		core.WithEventSink(core.EventSinkFunc(func(_ context.Context, events []core.Event) {
			for _, ev := range events {
				logger.Info("Event", "type", ev.Type, "principal", ev.Principal.Hex())
			}
		})),
	}
	if path := cCtx.String("trace-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			logger.Error("Failed to open trace file", "path", path, "err", err)
			return err
		}
		defer f.Close()
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}
	svc := core.NewService(store, opts...)

	server := httpapi.New(&httpapi.Config{
		ListenAddr:               cCtx.String("listen-addr"),
		EnablePprof:              cCtx.Bool("pprof"),
		Log:                      logger,
		Gatherer:                 reg,
		MaxImageBytes:            cCtx.Int64("max-image-bytes"),
		DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, svc)

	logger.Info("Starting registry",
		"storage", cfg.StorageDriver,
		"blobs", blobs.Driver(),
		"maxStringLength", cfg.MaxStringLength,
		"maxArrayLength", cfg.MaxArrayLength,
	)
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	return nil
}
