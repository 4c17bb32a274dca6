package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Course", "Student", "Coursework"},
		Rows: []map[string]string{
			{"Course": "Biology", "Student": "Ana Lima", "Coursework": "Lab, part 1"},
			{"Course": "Biology", "Student": "José Ñúñez", "Coursework": "Essay"},
		},
		Widths: []float64{1, 1, 2},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)

	text := strings.TrimPrefix(string(out), "\ufeff")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Course,Student,Coursework", lines[0])
	assert.Equal(t, `Biology,Ana Lima,"Lab, part 1"`, lines[1])
}

func TestExportersRequireHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
	_, err = NewPDFExporter().Render(Dataset{}, "")
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	data := sampleDataset()
	for i := 0; i < 80; i++ {
		data.Rows = append(data.Rows, map[string]string{"Course": "Chemistry", "Student": "Student", "Coursework": strings.Repeat("long title ", 20)})
	}

	out, err := NewPDFExporter().Render(data, "Pending submissions")

	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestColumnWidths(t *testing.T) {
	widths := columnWidths(sampleDataset())
	assert.InDelta(t, pageWidthLandscape/2, widths[2], 0.001)

	even := columnWidths(Dataset{Headers: []string{"a", "b"}})
	assert.InDelta(t, pageWidthLandscape/2, even[0], 0.001)
}
