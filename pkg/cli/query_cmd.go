package cli

import (
	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var (
		sf schemaFlags
		rf requestFlags
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Evaluate a count-distinct query against a cube schema",
		Example: `  cube query -s visits.yaml --init-sql clinical.sql --rows '[Cohort].[Cohort]' --filter '[Site].[Site].[London]'
  cube query -n visits -r request.json -o json`,
		Args: cobra.NoArgs,
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

			cs, err := s.app.Cubes.Query(cmd.Context(), s.tenant, name, req)
			if err != nil {
				return err
			}
			defer cs.Close() //nolint:errcheck
			return printGrid(cmd.OutOrStdout(), getOutputFormat(cmd), cs)
		},
	}
	sf.register(cmd.Flags())
	rf.register(cmd.Flags())
	return cmd
}
