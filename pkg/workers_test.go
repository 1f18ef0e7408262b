package astropix

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertFiles(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	logPath := writeLog(t, "run.log", sampleLog(sampleReadouts[0], sampleReadouts[2], sampleReadouts[3]))
	rawPath := writeRawDump(t, dir, sampleReadout(t, 2), sampleReadout(t, 3))
	apxPath := filepath.Join(dir, "sample.apx")
	writeSampleFile(t, apxPath, 0)

	config := DefaultConfiguration()
	config.NumWorkers = 2
	config.BlockSize = 40
	config.OutputDir = outDir
	config.Formats = []string{FormatApx, FormatCSV}

	results, err := CollectResults(ConvertFiles(context.Background(), []string{logPath, rawPath, apxPath}, config))
	require.NoError(t, err)
	require.Len(t, results, 3)

	log := results[0]
	assert.Equal(t, filepath.Join(outDir, "run.apx"), log.Outputs[FormatApx])
	assert.Equal(t, filepath.Join(outDir, "run.csv"), log.Outputs[FormatCSV])
	assert.Equal(t, 3, log.Readouts)
	assert.Equal(t, 5, log.Hits)
	assert.Equal(t, AstroPix4, log.Schema)

	raw := results[1]
	assert.Equal(t, filepath.Join(outDir, "dump.apx"), raw.Outputs[FormatApx])
	assert.Equal(t, 2, raw.Readouts)
	assert.Equal(t, 3, raw.Hits)
	assert.Equal(t, FramerStats{Chunks: 2, Hits: 3, CarriedFragments: 1}, raw.Framer)

	apx := results[2]
	assert.Equal(t, apxPath, apx.Outputs[FormatApx])
	assert.Equal(t, "test-run", apx.RunID)
	assert.Equal(t, 2, apx.Hits)
	for _, out := range apx.Outputs {
		_, err := os.Stat(out)
		assert.NoError(t, err)
	}

	records := apx.RunRecords()
	require.Len(t, records, 2)
	assert.Equal(t, RunRecord{
		RunID: "test-run", Source: apxPath, Output: apxPath, Format: FormatApx,
		SchemaUID: 4000, SchemaName: "AstroPix4", Readouts: 1, Hits: 2,
	}, records[0])
	assert.Equal(t, "test-run/csv", records[1].RunID)
	assert.Equal(t, filepath.Join(outDir, "sample.csv"), records[1].Output)
}

func TestConvertFilesErrors(t *testing.T) {
	config := DefaultConfiguration()
	config.OutputDir = t.TempDir()
	missing := filepath.Join(t.TempDir(), "missing.log")
	good := writeLog(t, "good.log", sampleLog(sampleReadouts[0]))

	results, err := CollectResults(ConvertFiles(context.Background(), []string{missing, good}, config))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.log")
	require.Len(t, results, 1)
	assert.Equal(t, good, results[0].Job.Input)
	assert.Equal(t, 2, results[0].Hits)

	failed := ConvertFile(context.Background(), ConversionJob{Input: missing}, config)
	assert.Nil(t, failed.RunRecords())

	config.Schema = "AstroPix9"
	assert.Error(t, ConvertFile(context.Background(), ConversionJob{Input: good}, config).Err)
}

func TestConvertFilesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inputs := make([]string, 50)
	for i := range inputs {
		inputs[i] = filepath.Join(t.TempDir(), "missing.log")
	}
	n := 0
	for range ConvertFiles(ctx, inputs, DefaultConfiguration()) {
		n++
	}
	assert.Less(t, n, len(inputs))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "run.apx"), outputPath(filepath.Join("data", "run.log.xz"), "out", FileExtension))
	assert.Equal(t, filepath.Join("data", "run.csv"), outputPath(filepath.Join("data", "run.apx"), "", CSVExtension))
}
