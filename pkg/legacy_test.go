package astropix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLogHeader = `Voltagecard: {'thpmos': 0.9, 'cardConf2': 0, 'vcasc2': 1.1, 'vinj': 0.3}
Digital: {'interrupt_pushpull': 1, 'clkmux': 0}
Biasblock: {'DisHiDR': 0, 'q01': 0, 'qon0': 0}
iDAC: {'blres': 0, 'vpdac': 10, 'vn1': 20}
vDAC: {'thpix': 1117, 'vcasc2': 625}
 Namespace(name='threshold_40mV', outdir='.', yaml='config_v4', threshold=40.0, vinj=300.0, dumpinterval=2, noise_scan=False, maxruns=None, chips=[0, 1])
`

func sampleLog(lines ...string) string {
	var sb strings.Builder
	sb.WriteString(sampleLogHeader)
	for i, line := range lines {
		fmt.Fprintf(&sb, "%d\tb'%s'\n", i, line)
	}
	return sb.String()
}

func TestParseLogHeader(t *testing.T) {
	header, err := ParseLogHeader(strings.NewReader(sampleLog(sampleReadouts[0])))
	require.NoError(t, err)

	threshold, ok := header.Float("threshold")
	require.True(t, ok)
	assert.Equal(t, 40., threshold)
	vinj, ok := header.Float("vinj")
	require.True(t, ok)
	assert.Equal(t, 300., vinj)
	dump, ok := header.Float("dumpinterval")
	require.True(t, ok)
	assert.Equal(t, 2., dump)
	_, ok = header.Float("name")
	assert.False(t, ok)

	options := header.Options()
	assert.Equal(t, "threshold_40mV", options["name"])
	assert.Equal(t, false, options["noise_scan"])
	assert.Nil(t, options["maxruns"])
	assert.Equal(t, []any{int64(0), int64(1)}, options["chips"])

	vdac, ok := header["vDAC"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1117), vdac["thpix"])
	assert.Len(t, header, 6)
}

func writeLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLogFile(t *testing.T) {
	path := writeLog(t, "threshold_40mV.log", sampleLog(sampleReadouts[0], sampleReadouts[1])+"garbage line\n")
	f, err := OpenLogFile(path)
	require.NoError(t, err)
	defer f.Close()

	threshold, _ := f.Header.Float("threshold")
	assert.Equal(t, 40., threshold)

	id, payload, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)
	assert.Equal(t, sampleReadouts[0], payload)

	id, _, err = f.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	// the malformed line is skipped
	_, _, err = f.Next()
	assert.Error(t, err)
}

func TestLogToApx(t *testing.T) {
	log := sampleLog(sampleReadouts[2], sampleReadouts[3], "bcbce0504")
	path := writeLog(t, "run.log", log)

	out, n, err := LogToApx(path, "", AstroPix4)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(path, ".log")+".apx", out)
	// the odd-length payload is dropped
	assert.Equal(t, 2, n)

	f, err := OpenFile(out, AstroPix4)
	require.NoError(t, err)
	defer f.Close()
	assert.NotEmpty(t, f.Header.Metadata["run_id"])
	assert.Equal(t, path, f.Header.Metadata["source"])
	options, ok := f.Header.Metadata["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 40., options["threshold"])

	var hits []Hit
	require.NoError(t, DecodeFile(f, func(_ *Readout, decoded []Hit) error {
		hits = append(hits, decoded...)
		return nil
	}))
	assert.Equal(t, []string{sampleHit1, sampleHit1, sampleHit2}, hitHex(hits))
}

func TestDecodeLog(t *testing.T) {
	log := sampleLog(sampleReadouts[0], sampleReadouts[2], sampleReadouts[3], sampleReadouts[4])
	decoder := NewLogDecoder(AstroPix4)
	var hits []Hit
	err := DecodeLog(context.Background(), strings.NewReader(log), decoder, func(decoded []Hit) error {
		hits = append(hits, decoded...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{sampleHit1, sampleHit2, sampleHit1, sampleHit1, sampleHit2, sampleHit2}, hitHex(hits))

	// header lines come first, data starts on line 7
	lines := make([]int, len(hits))
	for i, h := range hits {
		lines[i] = h.Line
	}
	assert.Equal(t, []int{7, 7, 8, 9, 9, 10}, lines)
	assert.Equal(t, 10, decoder.Lines())

	stats := decoder.TakeStats()
	assert.Equal(t, 6, stats.SkippedChunks)
	assert.Equal(t, 6, stats.Hits)
	assert.Equal(t, 1, stats.CarriedFragments)
	assert.Zero(t, decoder.TakeStats().Hits)
	assert.Equal(t, Done, decoder.State().Phase)
}

func TestLogDecoderSkipRows(t *testing.T) {
	decoder := NewLogDecoder(AstroPix4)
	decoder.SkipRows = 7
	var hits []Hit
	for _, line := range strings.Split(sampleLog(sampleReadouts[0], sampleReadouts[1]), "\n") {
		hits = append(hits, decoder.DecodeLine(line)...)
	}
	// the first data line is inside the skipped banner
	assert.Equal(t, []string{sampleHit1, sampleHit2}, hitHex(hits))
	assert.Equal(t, 8, hits[0].Line)
}

func TestDecodeLogCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DecodeLog(ctx, strings.NewReader(sampleLog(sampleReadouts[0])), NewLogDecoder(AstroPix4), func([]Hit) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
