package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/interceptd/pkg/cli/internal/output"
	"github.com/getmockd/interceptd/pkg/config"
)

// ValidateOutput is the JSON output of the validate command.
type ValidateOutput struct {
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
	Type     string `json:"type,omitempty"`
	BaseURL  string `json:"baseURL,omitempty"`
	Handlers int    `json:"handlers"`
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an interceptor config file",
		Long: `Validate an interceptor config file without connecting anywhere.

This command checks:
  - JSON/YAML syntax
  - Interceptor type, base URL and unhandled strategy
  - Handler methods, path patterns, restrictions, responses, delays and counts`,
		Example: `  interceptd validate --config interceptor.yaml
  interceptd validate --config interceptor.json --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := config.Load(configPath)
			if jsonOutput(cmd) {
				out := ValidateOutput{Valid: err == nil}
				if err != nil {
					out.Error = err.Error()
				} else {
					out.Type = file.Interceptor.Type
					out.BaseURL = file.Interceptor.BaseURL
					out.Handlers = len(file.Handlers)
				}
				if encErr := output.JSON(cmd.OutOrStdout(), out); encErr != nil {
					return encErr
				}
				return err
			}
			if err != nil {
				return err
			}

			typ := file.Interceptor.Type
			if typ == "" {
				typ = "local"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
			w := output.Table(cmd.OutOrStdout())
			fmt.Fprintf(w, "  type:\t%s\n", typ)
			if file.Interceptor.BaseURL != "" {
				fmt.Fprintf(w, "  base URL:\t%s\n", file.Interceptor.BaseURL)
			}
			fmt.Fprintf(w, "  handlers:\t%d\n", len(file.Handlers))
			for _, h := range file.Handlers {
				fmt.Fprintf(w, "    %s\t%s\n", h.Method, h.Path)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to interceptor config file (YAML or JSON) [required]")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
