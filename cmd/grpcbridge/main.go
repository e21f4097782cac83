// Command grpcbridge runs the bridge module behind a frame protocol on
// stdin and stdout, for a host process that cannot speak gRPC itself.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grpcbridge/bridge"
	"grpcbridge/config"
	"grpcbridge/logging"
	"grpcbridge/metrics"
	"grpcbridge/telemetry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const usage = `grpcbridge: serve bridge commands over stdin/stdout

Commands arrive as frames on stdin. Replies and call events are written as
frames to stdout. Logs go to stderr.

FLAGS:
  -config <file>   YAML or TOML config (default: built-in defaults)
  -host <host:port>  Override the configured host
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("grpcbridge", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	configPath := fs.String("config", "", "")
	host := fs.String("host", "", "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, usage)
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *host != "" {
		cfg.Host = *host
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	m := metrics.New()
	module := bridge.NewModule(logger,
		bridge.WithMiddlewares(cfg.Middlewares(logger, m, telemetry.Tracer())...))
	defer module.Close()
	module.SetHost(cfg.Host)
	module.SetInsecure(cfg.Insecure)
	module.SetCompression(cfg.Compression != "", cfg.Compression)
	module.SetResponseSizeLimit(cfg.ResponseSizeLimit)
	module.SetKeepAlive(cfg.KeepAlive.Enabled, cfg.KeepAlive.Time, cfg.KeepAlive.Timeout)
	module.SetUILogEnabled(cfg.Logging.UILog)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// end of input stops the metrics server too
		defer cancel()
		return bridge.ServeFrames(ctx, module, os.Stdin, os.Stdout)
	})
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m)}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	err = g.Wait()
	logger.Info("bridge stopped", zap.Error(err))
	return err
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
