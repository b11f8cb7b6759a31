package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"duck-cube/internal/domain"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage registered cube schemas",
	}
	cmd.AddCommand(newSchemaRegisterCmd())
	cmd.AddCommand(newSchemaListCmd())
	cmd.AddCommand(newSchemaDeleteCmd())
	return cmd
}

type schemaJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSchemaJSON(sc domain.CubeSchema) schemaJSON {
	return schemaJSON{ID: sc.ID, Name: sc.Name, Version: sc.Version, CreatedBy: sc.CreatedBy, UpdatedAt: sc.UpdatedAt}
}

func newSchemaRegisterCmd() *cobra.Command {
	var sf schemaFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a cube definition, or update it when it changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sf.file == "" {
				return fmt.Errorf("--schema is required")
			}
			name, _ := sf.schemaName()
			s, err := openSession(cmd, &sf)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			sc, err := s.app.Cubes.GetSchema(cmd.Context(), s.tenant, name)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), toSchemaJSON(*sc))
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Schema %s at version %d\n", sc.Name, sc.Version)
			return err
		},
	}
	sf.register(cmd.Flags())
	return cmd
}

func newSchemaListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tenant's cube schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, &schemaFlags{})
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			list, err := s.app.Cubes.ListSchemas(cmd.Context(), s.tenant)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				out := make([]schemaJSON, len(list))
				for i, sc := range list {
					out[i] = toSchemaJSON(sc)
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAutoFormatHeaders(false)
			table.SetHeader([]string{"Name", "Version", "Updated", "ID"})
			for _, sc := range list {
				table.Append([]string{sc.Name, strconv.FormatInt(sc.Version, 10), sc.UpdatedAt.Format(time.RFC3339), sc.ID})
			}
			table.Render()
			return nil
		},
	}
	return cmd
}

func newSchemaDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a cube schema and drop its cached results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			s, err := openSession(cmd, &schemaFlags{})
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			if err := s.app.Cubes.DeleteSchema(cmd.Context(), s.tenant, name); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": name})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted schema %s\n", name)
			return err
		},
	}
}
