// Package cli implements the cube command-line interface.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"duck-cube/internal/config"
	"duck-cube/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		reportError(rootCmd, os.Stdout, os.Stderr, err)
		return 1
	}
	return 0
}

func reportError(rootCmd *cobra.Command, stdout, stderr io.Writer, err error) {
	output, _ := rootCmd.PersistentFlags().GetString("output")
	if output != "json" {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return
	}
	errObj := map[string]interface{}{"error": err.Error()}
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		errObj["kind"] = "validation"
	case errors.As(err, &notFound):
		errObj["kind"] = "not_found"
	case errors.As(err, &conflict):
		errObj["kind"] = "conflict"
	}
	_ = printJSON(stdout, errObj)
}

func newRootCmd() *cobra.Command {
	var (
		output  string
		tenant  string
		envFile string
	)

	rootCmd := &cobra.Command{
		Use:           "cube",
		Short:         "Count-distinct cube query engine",
		Long:          "Registers cube schemas and evaluates count-distinct queries over DuckDB or SQLite fact data.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			// Apply precedence: flag > env > default
			if !cmd.Flags().Changed("tenant") {
				if v := os.Getenv("CUBE_TENANT"); v != "" {
					tenant = v
				}
			}
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("CUBE_OUTPUT"); v != "" {
					output = v
				}
			}
			return validateOutputFormat(output)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&tenant, "tenant", "t", "default", "Tenant owning the cube schemas")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before configuration")

	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newExplainCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cube version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
