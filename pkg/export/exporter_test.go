package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGrid() Grid {
	return Grid{
		Title:   "Division A",
		Columns: []string{"Mon", "Tue"},
		Rows:    []string{"P1", "P2"},
		Cells: [][]string{
			{"Math\nT1 / R1", ""},
			{"", "Physics lab\nT2 / Lab"},
		},
	}
}

func TestCSVRenderGrid(t *testing.T) {
	out, err := NewCSVExporter().RenderGrid(sampleGrid())
	require.NoError(t, err)
	assert.Equal(t, ",Mon,Tue\nP1,\"Math\nT1 / R1\",\nP2,,\"Physics lab\nT2 / Lab\"\n", string(out))
}

func TestCSVRenderDataset(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"slot", "subject"},
		Rows:    []map[string]string{{"slot": "0", "subject": "math"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "slot,subject\n0,math\n", string(out))

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFRenderGrid(t *testing.T) {
	out, err := NewPDFExporter().RenderGrid(sampleGrid())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestGridRejectsRaggedCells(t *testing.T) {
	grid := sampleGrid()
	grid.Cells[1] = []string{"only one"}
	_, err := NewPDFExporter().RenderGrid(grid)
	assert.Error(t, err)
	_, err = NewCSVExporter().RenderGrid(grid)
	assert.Error(t, err)
}
