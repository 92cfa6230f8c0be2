package export

import "fmt"

// Grid is a timetable laid out as periods (rows) by weekdays (columns).
type Grid struct {
	Title   string
	Columns []string
	Rows    []string
	// Cells is indexed [row][column]; empty strings are free periods.
	Cells [][]string
}

func (g Grid) validate() error {
	if len(g.Columns) == 0 || len(g.Rows) == 0 {
		return fmt.Errorf("grid requires rows and columns")
	}
	if len(g.Cells) != len(g.Rows) {
		return fmt.Errorf("grid has %d cell rows for %d row labels", len(g.Cells), len(g.Rows))
	}
	for i, row := range g.Cells {
		if len(row) != len(g.Columns) {
			return fmt.Errorf("grid row %d has %d cells, want %d", i, len(row), len(g.Columns))
		}
	}
	return nil
}
