package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"duck-cube/internal/cellset"
	"duck-cube/internal/cube"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// gridJSON is the JSON form of a cell set. Cells are row-major; an axis
// that was not requested is omitted.
type gridJSON struct {
	Columns []string  `json:"columns,omitempty"`
	Rows    []string  `json:"rows,omitempty"`
	Cells   [][]int64 `json:"cells"`
}

func axisNames(a cellset.Axis) []string {
	if a.Synthetic() {
		return nil
	}
	out := make([]string, 0, a.Len())
	for _, m := range a.Members() {
		out = append(out, m.UniqueName())
	}
	return out
}

func toGridJSON(cs *cellset.CellSet) (gridJSON, error) {
	g := gridJSON{
		Columns: axisNames(cs.ColumnAxis()),
		Rows:    axisNames(cs.RowAxis()),
		Cells:   make([][]int64, cs.RowAxis().Len()),
	}
	for r := range g.Cells {
		g.Cells[r] = make([]int64, cs.ColumnAxis().Len())
		for c := range g.Cells[r] {
			cell, err := cs.CellAt(r, c)
			if err != nil {
				return gridJSON{}, err
			}
			g.Cells[r][c] = cell.Value
		}
	}
	return g, nil
}

func printGrid(w io.Writer, format string, cs *cellset.CellSet) error {
	if format == "json" {
		g, err := toGridJSON(cs)
		if err != nil {
			return err
		}
		return printJSON(w, g)
	}

	cols, rows := cs.ColumnAxis(), cs.RowAxis()
	header := []string{""}
	if cols.Synthetic() {
		header = append(header, "Count")
	} else {
		for _, m := range cols.Members() {
			header = append(header, memberLabel(m))
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeader(header)
	for r := 0; r < rows.Len(); r++ {
		label := "Count"
		if !rows.Synthetic() {
			label = memberLabel(rows.Positions()[r].Member())
		}
		line := []string{label}
		for c := 0; c < cols.Len(); c++ {
			cell, err := cs.CellAt(r, c)
			if err != nil {
				return err
			}
			line = append(line, cell.String())
		}
		table.Append(line)
	}
	table.Render()
	_, err := fmt.Fprintf(w, "(%d row%s)\n", rows.Len(), plural(rows.Len()))
	return err
}

func memberLabel(m *cube.Member) string {
	if m == nil {
		return ""
	}
	return m.Name
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func printKV(w io.Writer, rows [][2]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Key", "Value"})
	for _, r := range rows {
		table.Append([]string{r[0], r[1]})
	}
	table.Render()
}

func itoa(n int) string { return strconv.Itoa(n) }
