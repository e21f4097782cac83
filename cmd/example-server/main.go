// Command example-server serves example.Examples with the echo
// implementation, optionally registered in etcd.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grpcbridge/config"
	"grpcbridge/logging"
	"grpcbridge/metrics"
	"grpcbridge/middleware"
	"grpcbridge/server"

	"go.uber.org/zap"
)

const usage = `example-server: serve example.Examples

FLAGS:
  -addr <addr>        Listen address (default: :50051)
  -advertise <addr>   Address registered in etcd (default: the listen address;
                      required with discovery when listening on all interfaces)
  -config <file>      YAML or TOML config; discovery.endpoints enables etcd
  -repeat <n>         Responses per GetExampleMessages call (default: 3)
  -delay <duration>   Wait before each response
`

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("example-server", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	addr := fs.String("addr", ":50051", "")
	advertise := fs.String("advertise", "", "")
	configPath := fs.String("config", "", "")
	repeat := fs.Int("repeat", 3, "")
	delay := fs.Duration("delay", 0, "")
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

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg, _, closer, err := cfg.OpenDiscovery(logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		return err
	}
	advertiseAddr, err := resolveAdvertise(*advertise, lis.Addr(), reg != nil)
	if err != nil {
		lis.Close()
		return err
	}

	m := metrics.NewServer()
	svr := server.NewServer(logger)
	svr.Use(middleware.MetricsMiddleware(m))
	svr.Use(middleware.LoggingMiddleware(logger))
	svr.RegisterExamples(&server.Echo{Repeat: *repeat, Delay: *delay})

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("shutting down")
		if err := svr.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
		if metricsSrv != nil {
			metricsSrv.Close()
		}
	}()

	return svr.Serve(lis, advertiseAddr, reg)
}

// resolveAdvertise returns the address other processes should dial. A
// wildcard listen address such as ":50051" is not dialable from elsewhere,
// so with discovery enabled it needs an explicit -advertise.
func resolveAdvertise(flagValue string, listen net.Addr, discovery bool) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	addr := listen.String()
	if !discovery {
		return addr, nil
	}
	if tcp, ok := listen.(*net.TCPAddr); ok && (tcp.IP == nil || tcp.IP.IsUnspecified()) {
		return "", fmt.Errorf("-advertise is required with discovery when listening on %s", addr)
	}
	return addr, nil
}
