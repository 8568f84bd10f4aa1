package cli

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/remote"
)

// serverFlags holds all flags for the server command.
type serverFlags struct {
	port           int
	host           string
	printURL       bool
	logLevel       string
	logFormat      string
	requestTimeout time.Duration
}

func newServerCmd() *cobra.Command {
	f := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the remote interception server",
		Long: `Run the remote interception server.

Remote interceptors connect to the server and register the base path they
serve. Every other HTTP request is forwarded to the interceptor with the
longest registered base path containing it, and answered with its reply.
Requests no interceptor is registered for get 503 Service Unavailable.

Prometheus metrics are served at ` + remote.MetricsPath + `.`,
		Example: `  # Start on the default port
  interceptd server

  # Auto-assign a port and print the URL
  interceptd server --port 0 --print-url

  # JSON logs for CI parsing
  interceptd server --log-format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, f)
		},
	}

	cmd.Flags().IntVarP(&f.port, "port", "p", 4380, "HTTP server port (0 = OS auto-assign)")
	cmd.Flags().StringVar(&f.host, "host", "127.0.0.1", "Bind address")
	cmd.Flags().BoolVar(&f.printURL, "print-url", false, "Print the server URL to stdout on startup")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	cmd.Flags().DurationVar(&f.requestTimeout, "request-timeout", remote.DefaultRequestTimeout, "How long to wait for an interceptor reply")
	return cmd
}

func runServer(cmd *cobra.Command, f *serverFlags) error {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(f.logLevel),
		Format: logging.ParseFormat(f.logFormat),
		Output: cmd.ErrOrStderr(),
	})

	ln, err := net.Listen("tcp", net.JoinHostPort(f.host, strconv.Itoa(f.port)))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("port %d is already in use, try --port 0 for auto-assign", f.port)
		}
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := remote.NewServer(
		remote.WithServerLogger(log.With("component", "server")),
		remote.WithRequestTimeout(f.requestTimeout),
	)

	// Print URL if requested (to stdout for programmatic consumption)
	if f.printURL {
		fmt.Fprintf(cmd.OutOrStdout(), "http://%s\n", ln.Addr().String())
	}

	err = srv.Serve(cmd.Context(), ln)
	log.Info("server stopped")
	return err
}
