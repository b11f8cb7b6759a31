package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"duck-cube/internal/domain"
	"duck-cube/internal/engine"
	"duck-cube/internal/service/cubes"
)

func newValidateCmd() *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "validate <definition.yaml>",
		Short: "Check a cube definition offline, and optionally a request against it",
		Long: `Parses and compiles a cube definition without touching any database.
When the definition lists every member explicitly, a request given with
--request or the axis flags is resolved against it as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read cube definition: %w", err)
			}
			def, _, err := cubes.ParseDefinition(string(text))
			if err != nil {
				return err
			}
			b, err := def.Compile()
			if err != nil {
				return domain.ErrValidation("%s", err.Error())
			}
			c, err := b.Build()
			if err != nil {
				return domain.ErrValidation("%s", err.Error())
			}

			summary := map[string]interface{}{
				"name":        c.Name,
				"hierarchies": len(c.Hierarchies()),
				"levels":      len(c.Levels()),
				"measures":    len(def.Measures),
			}

			if rf.file != "" || rf.rows != "" || rf.columns != "" {
				if !def.HasExplicitMembers() {
					return domain.ErrValidation("request check needs a definition with explicit members")
				}
				req, err := rf.request(cmd, cmd.InOrStdin())
				if err != nil {
					return err
				}
				logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
				p, err := engine.New(c, nil, logger).Explain(cmd.Context(), req)
				if err != nil {
					return err
				}
				summary["plan"] = p
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			rows := [][2]string{
				{"Cube", c.Name},
				{"Hierarchies", itoa(len(c.Hierarchies()))},
				{"Levels", itoa(len(c.Levels()))},
				{"Measures", itoa(len(def.Measures))},
			}
			if p, ok := summary["plan"].(*engine.Plan); ok {
				rows = append(rows,
					[2]string{"Measure", p.Measure},
					[2]string{"Rows", p.Rows},
					[2]string{"Columns", p.Columns},
					[2]string{"Filters", p.Filters})
			}
			printKV(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	rf.register(cmd.Flags())
	return cmd
}
