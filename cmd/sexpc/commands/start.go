package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/sexpc/internal/logger"
	"github.com/marmos91/sexpc/pkg/config"
	"github.com/marmos91/sexpc/pkg/deferred"
	"github.com/marmos91/sexpc/pkg/epc"
	"github.com/marmos91/sexpc/pkg/metrics"
	"github.com/marmos91/sexpc/pkg/sexp"
)

var (
	startPort      int
	announcePort   bool
	enableBuiltins bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an EPC server",
	Long: `Start an EPC server on loopback.

The server announces its listening port on the first line of stdout, so
it can be launched as a peer process by another EPC endpoint. With port 0
(the default) the OS assigns an ephemeral port.

The built-in demo methods (echo, add, sleep) are registered unless
--builtins=false is given.

Examples:
  # Start on an ephemeral port
  sexpc start

  # Start on a fixed port with debug logging
  SEXPC_LOGGING_LEVEL=DEBUG sexpc start --port 9789`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&startPort, "port", 0, "TCP port to listen on (0 = ephemeral)")
	startCmd.Flags().BoolVar(&announcePort, "announce-port", true, "print the bound port on the first stdout line")
	startCmd.Flags().BoolVar(&enableBuiltins, "builtins", true, "register the built-in demo methods")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if startPort != 0 {
		cfg.Server.Port = startPort
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var rec *metrics.Metrics
	if cfg.Metrics.Enabled {
		rec = metrics.New()
		go func() {
			if err := rec.Serve(ctx, cfg.Metrics); err != nil {
				logger.Error("Metrics server failed", logger.KeyError, err)
			}
		}()
	}

	srv := epc.NewServer(cfg.Server, func(m *epc.Manager) {
		if enableBuiltins {
			registerBuiltins(m)
		}
	})
	srv.SetMetrics(rec)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	// Wait for the listener before announcing; if the bind failed the
	// ready channel never closes and the error surfaces instead.
	select {
	case <-srv.ListenerReady:
	case err := <-serverDone:
		return fmt.Errorf("server error: %w", err)
	}

	if announcePort {
		// The first stdout line is the port announcement; peer launchers
		// parse it to find us.
		fmt.Println(srv.Port())
	} else {
		logger.Info("Serving", logger.KeyPort, srv.Port())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("Server stopped")
	return nil
}

// registerBuiltins installs the demo method set.
func registerBuiltins(m *epc.Manager) {
	m.Define("echo", func(args sexp.List) (any, error) {
		if len(args) == 0 {
			return sexp.Nil, nil
		}
		return args[0], nil
	}, "(X)", "return X unchanged")

	m.Define("add", func(args sexp.List) (any, error) {
		var sum int64
		for _, a := range args {
			n, err := sexp.AsInt(a)
			if err != nil {
				return nil, errors.New("add wants integers")
			}
			sum += int64(n)
		}
		return sum, nil
	}, "(&rest NUMBERS)", "sum the integer arguments")

	m.Define("sleep", func(args sexp.List) (any, error) {
		ms := sexp.Int(100)
		if len(args) > 0 {
			if n, err := sexp.AsInt(args[0]); err == nil {
				ms = n
			}
		}
		d := deferred.New()
		time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			d.Callback(int64(ms))
		})
		return d, nil
	}, "(MS)", "resolve with MS after MS milliseconds")
}
