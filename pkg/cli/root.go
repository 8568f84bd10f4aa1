// Package cli provides the interceptd CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// NewRootCommand builds the interceptd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "interceptd",
		Short: "interceptd intercepts HTTP requests and answers them from declared handlers",
		Long: `interceptd runs the remote side of HTTP interception.

'interceptd server' accepts HTTP requests and forwards each one to the remote
interceptor registered for its path. 'interceptd run' starts a remote
interceptor from a configuration file and connects it to a server.`,
		SilenceUsage:  true,
		SilenceErrors: true, // We handle errors in Execute()
	}

	root.PersistentFlags().Bool("json", false, "Output command results in JSON format")

	root.AddCommand(
		newServerCmd(),
		newRunCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command until it completes or SIGINT/SIGTERM is
// received. This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
