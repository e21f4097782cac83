// Command example sends one ExampleRequest and prints the result line the
// example screen would show.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"grpcbridge/bridge"
	"grpcbridge/call"
	"grpcbridge/client"
	"grpcbridge/config"
	"grpcbridge/logging"
	"grpcbridge/message"
	"grpcbridge/presenter"
	"grpcbridge/telemetry"
	"grpcbridge/transport"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

const usage = `example: call example.Examples and print the result

FLAGS:
  -config <file>       YAML or TOML config (default: built-in defaults)
  -host <host:port>    Override the configured host
  -insecure            Use plaintext instead of TLS
  -message <text>      Request message (default: Hello World)
  -stream              Call GetExampleMessages instead of SendExampleMessage
  -via-bridge          Route the call through the bridge module
  -timeout <duration>  Give up after this long (default: no limit)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("example", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	configPath := fs.String("config", "", "")
	host := fs.String("host", "", "")
	insecure := fs.Bool("insecure", false, "")
	text := fs.String("message", "Hello World", "")
	stream := fs.Bool("stream", false, "")
	viaBridge := fs.Bool("via-bridge", false, "")
	timeout := fs.Duration("timeout", 0, "")
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
	if *insecure {
		cfg.Insecure = true
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
	defer shutdown(context.Background())

	t, closeTransport, err := newTransport(cfg, logger, *viaBridge)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeTransport(); err != nil {
			logger.Warn("close transport", zap.Error(err))
		}
	}()

	// ^C cancels the call the way leaving the screen would
	sig := call.NewSignal()
	go func() {
		<-ctx.Done()
		sig.Cancel()
	}()
	opts := []client.CallOption{client.WithSignal(sig)}
	if *timeout > 0 {
		opts = append(opts, client.WithTimeout(*timeout))
	}

	screen := presenter.New(func(v presenter.View) { fmt.Println(v.Text()) })
	examples := client.NewExamplesClient(t)
	req := &message.ExampleRequest{Message: *text}

	// finished closes after the bound continuation has posted its update
	finished := make(chan struct{})
	if *stream {
		sc := examples.GetExampleMessages(context.Background(), req, opts...)
		for resp := range sc.Responses() {
			screen.Post(presenter.SetResult(resp.Message))
			screen.Drain()
		}
		sc.Then(func(_ metadata.MD, err error) {
			if err != nil {
				screen.Post(presenter.SetError(err))
			}
			close(finished)
		})
	} else {
		uc := examples.SendExampleMessage(context.Background(), req, opts...)
		presenter.BindResult(screen, uc.Pending, func(resp *message.ExampleResponse) string { return resp.Message })
		uc.Then(func(*message.ExampleResponse, error) { close(finished) })
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	go func() {
		<-finished
		cancelRun()
	}()
	_ = screen.Run(runCtx)

	if err := screen.View().Err; err != nil {
		return err
	}
	return nil
}

// newTransport returns a direct gRPC transport or, with viaBridge, a bridge
// module configured the same way.
func newTransport(cfg *config.Config, logger *zap.Logger, viaBridge bool) (transport.Transport, func() error, error) {
	reg, bal, closer, err := cfg.OpenDiscovery(logger)
	if err != nil {
		return nil, nil, err
	}
	mws := cfg.Middlewares(logger, nil, telemetry.Tracer())

	if viaBridge {
		if reg != nil {
			return nil, nil, errors.Join(errors.New("the bridge does not use discovery"), closer.Close())
		}
		m := bridge.NewModule(logger, bridge.WithMiddlewares(mws...))
		m.SetHost(cfg.Host)
		m.SetInsecure(cfg.Insecure)
		m.SetCompression(cfg.Compression != "", cfg.Compression)
		m.SetResponseSizeLimit(cfg.ResponseSizeLimit)
		m.SetKeepAlive(cfg.KeepAlive.Enabled, cfg.KeepAlive.Time, cfg.KeepAlive.Timeout)
		m.SetUILogEnabled(cfg.Logging.UILog)
		if err := m.InitChannel(); err != nil {
			return nil, nil, err
		}
		return bridge.NewTransport(m), m.Close, nil
	}

	opts := cfg.TransportOptions()
	opts.Registry, opts.Balancer = reg, bal
	opts.Middlewares = mws
	opts.Logger = logger
	t, err := transport.NewGRPCTransport(opts)
	if err != nil {
		return nil, nil, multierr.Append(err, closer.Close())
	}
	return t, func() error { return multierr.Append(t.Close(), closer.Close()) }, nil
}
