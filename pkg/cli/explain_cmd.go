package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newExplainCmd() *cobra.Command {
	var (
		sf schemaFlags
		rf requestFlags
	)
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Resolve a query and print its measure and axis fragments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := sf.schemaName()
			if err != nil {
				return err
			}
			req, err := rf.request(cmd, cmd.InOrStdin())
			if err != nil {
				return err
			}
			s, err := openSession(cmd, &sf)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			p, err := s.app.Cubes.Explain(cmd.Context(), s.tenant, name, req)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), p)
			}
			printKV(cmd.OutOrStdout(), [][2]string{
				{"Measure", p.Measure},
				{"Level", p.Level},
				{"Rows", p.Rows},
				{"Columns", p.Columns},
				{"Filters", p.Filters},
				{"Scope", strings.Join(p.Scope, ", ")},
			})
			return nil
		},
	}
	sf.register(cmd.Flags())
	rf.register(cmd.Flags())
	return cmd
}
