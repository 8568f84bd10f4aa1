package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/interceptd/pkg/config"
)

// runFlags holds all flags for the run command.
type runFlags struct {
	configPath string
	serverURL  string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a remote interceptor from a config file",
		Long: `Run a remote interceptor from a config file.

The interceptor connects to its server, registers its base path and answers
forwarded requests from the declared handlers until SIGTERM/SIGINT. On exit,
handlers whose call counts are out of bounds are reported and the command
fails.`,
		Example: `  # Connect to the server named by the config
  interceptd run --config interceptor.yaml

  # Override the server URL
  interceptd run --config interceptor.yaml --server-url http://localhost:4380`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInterceptor(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to interceptor config file (YAML or JSON) [required]")
	cmd.Flags().StringVar(&f.serverURL, "server-url", "", "Remote server URL (defaults to the config's serverURL, then the base URL's origin)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runInterceptor(cmd *cobra.Command, f *runFlags) error {
	file, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if file.Interceptor.Type != "remote" {
		return fmt.Errorf("%s: only remote interceptors can be run, set interceptor.type to remote", f.configPath)
	}
	if f.serverURL != "" {
		file.Interceptor.ServerURL = f.serverURL
	}

	log := file.Logger(cmd.ErrOrStderr())
	i, err := file.NewInterceptor(log)
	if err != nil {
		return fmt.Errorf("failed to create interceptor: %w", err)
	}

	ctx := cmd.Context()
	if err := i.Start(ctx); err != nil {
		return err
	}
	log.Info("interceptor running",
		"config", f.configPath,
		"base_url", i.BaseURL(),
		"handlers", len(file.Handlers),
	)

	<-ctx.Done()

	// Counts must be read before Stop clears the handlers.
	timesErr := i.CheckTimes()
	_ = i.Stop()
	return timesErr
}
