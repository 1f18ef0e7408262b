package astropix

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHitsCSV(t *testing.T) {
	readout := NewReadout(AstroPix4, sampleReadout(t, 0), 5, 77)
	hits := readout.Hits()
	require.Len(t, hits, 2)

	var buf bytes.Buffer
	err := WriteHitsCSV(&buf, AstroPix4, hits, []string{"readout_id", "timestamp", "row", "column", "tot_us"})
	require.NoError(t, err)
	want := "readout_id,timestamp,row,column,tot_us\n" +
		"5,77,1,9,31.05\n" +
		"5,77,1,10,43.4\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteHitsCSVAllColumns(t *testing.T) {
	hits := NewReadout(AstroPix4, sampleReadout(t, 0), 0, 0).Hits()
	var buf bytes.Buffer
	require.NoError(t, WriteHitsCSV(&buf, AstroPix4, hits, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, HitColumns(AstroPix4), records[0])
	assert.Equal(t, hits[1].Record(), records[2])
	assert.Equal(t, "1", records[2][0])
}

func TestWriteHitsCSVUnknownColumn(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHitsCSV(&buf, AstroPix3, nil, []string{"row"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no column")
	assert.Empty(t, buf.String())
}

func TestApxToCSV(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "run.apx")
	writeSampleFile(t, input, 0, 2, 3)

	output, rows, err := ApxToCSV(input, "", []string{"readout_id", "column"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run.csv"), output)
	assert.Equal(t, 5, rows)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"readout_id,column", "0,9", "0,10", "1,9", "2,9", "2,10"}, lines)

	_, _, err = ApxToCSV(input, filepath.Join(dir, "bad.csv"), []string{"nope"})
	assert.Error(t, err)
}
