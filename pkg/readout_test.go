package astropix

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hitHex(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = hex.EncodeToString(h.Encode())
	}
	return out
}

func TestNewReadoutStripsPadding(t *testing.T) {
	data := sampleReadout(t, 0)
	readout := NewReadout(AstroPix4, data, 7, 1234)
	assert.Len(t, readout.Data, 26)
	assert.Equal(t, uint32(7), readout.ID)
	assert.Equal(t, uint64(1234), readout.Timestamp)
	data[2] = 0
	assert.Equal(t, byte(0xe0), readout.Data[2], "readout data must be a copy")
	assert.False(t, readout.Decoded())
}

func TestReadoutDecode(t *testing.T) {
	readout := NewReadout(AstroPix4, sampleReadout(t, 0), 3, 42)
	hits := readout.Hits()
	require.Len(t, hits, 2)
	assert.Equal(t, []string{sampleHit1, sampleHit2}, hitHex(hits))
	for i, h := range hits {
		assert.Equal(t, uint32(3), h.ReadoutID)
		assert.Equal(t, uint64(42), h.Timestamp)
		assert.Equal(t, i, h.DecodeOrder)
	}
	assert.True(t, readout.Decoded())

	want := DecodingStatus{
		PaddingBytes: 14,
		IdleBytes:    10,
		HitBytes:     16,
		Framer:       FramerStats{Chunks: 1, Hits: 2},
	}
	if diff := cmp.Diff(want, readout.Status()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	// decoding is done once
	again := readout.Decode([]byte{0xe0})
	assert.Equal(t, hits, again)
}

func TestReadoutStatusUnrecognized(t *testing.T) {
	readout := NewReadout(AstroPix4, sampleReadout(t, 4), 0, 0)
	assert.Equal(t, []string{sampleHit2}, hitHex(readout.Hits()))
	status := readout.Status()
	assert.Equal(t, 18, status.PaddingBytes)
	assert.Equal(t, 8, status.IdleBytes)
	assert.Equal(t, 8, status.HitBytes)
	assert.Equal(t, 6, status.UnrecognizedBytes)
	assert.Equal(t, 1, status.Framer.OverwrittenHeaders)
	assert.Contains(t, status.String(), "unrecognized=6")
}

func TestReadoutKeepsPaddingBytesInsideHits(t *testing.T) {
	inner, trailing := paddedHits(t)
	readout := NewReadout(AstroPix4, mustHex(t, "bcbc"+inner+"bcbcffff"), 0, 0)
	assert.Equal(t, []string{inner}, hitHex(readout.Hits()))
	want := DecodingStatus{
		PaddingBytes: 2,
		IdleBytes:    4,
		HitBytes:     8,
		Framer:       FramerStats{Chunks: 1, Hits: 1},
	}
	if diff := cmp.Diff(want, readout.Status()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	readout = NewReadout(AstroPix4, mustHex(t, "bcbc"+inner+"bcbc"+trailing+"bcbcffffffff"), 1, 0)
	assert.Equal(t, []string{inner, trailing}, hitHex(readout.Hits()))
	assert.Equal(t, 4, readout.Status().PaddingBytes)
	assert.Equal(t, 6, readout.Status().IdleBytes)
	assert.Zero(t, readout.Status().UnrecognizedBytes)
}

func TestReadoutCarry(t *testing.T) {
	first := NewReadout(AstroPix4, sampleReadout(t, 2), 0, 0)
	assert.Equal(t, []string{sampleHit1}, hitHex(first.Hits()))
	assert.Equal(t, 6, first.Status().ExtraBytes)

	second := NewReadout(AstroPix4, sampleReadout(t, 3), 1, 0)
	hits := second.Decode(first.ExtraBytes())
	assert.Equal(t, []string{sampleHit1, sampleHit2}, hitHex(hits))
	assert.Equal(t, uint32(1), hits[0].ReadoutID)
	assert.Zero(t, second.Status().UnrecognizedBytes)
	assert.Empty(t, second.ExtraBytes())
}

func TestReadoutMarshal(t *testing.T) {
	readout := NewReadout(AstroPix4, sampleReadout(t, 0), 0x01020304, 0x1122334455667788)
	buf, err := readout.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xdc, 0xba, 0x04, 0x03, 0x02, 0x01}, buf[:7])
	assert.Equal(t, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, buf[7:15])
	assert.Equal(t, []byte{26, 0, 0, 0}, buf[15:19])
	assert.Len(t, buf, 19+26)

	twin, err := UnmarshalReadout(AstroPix4, buf)
	require.NoError(t, err)
	assert.True(t, twin.Equal(readout))

	var stream bytes.Buffer
	_, err = readout.WriteTo(&stream)
	require.NoError(t, err)
	_, err = readout.WriteTo(&stream)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		r, err := ReadReadout(&stream, AstroPix4)
		require.NoError(t, err)
		assert.True(t, r.Equal(readout))
	}
	_, err = ReadReadout(&stream, AstroPix4)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadReadoutOversizedLength(t *testing.T) {
	preamble := make([]byte, readoutPreambleSize)
	copy(preamble, readoutMarker)
	binary.LittleEndian.PutUint32(preamble[15:], 1<<30)
	stream := append(preamble, mustHex(t, sampleHit1)...)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := ReadReadout(bytes.NewReader(stream), AstroPix4)
	runtime.ReadMemStats(&after)

	var bad *ErrBadReadout
	require.True(t, errors.As(err, &bad), "got %v", err)
	assert.Contains(t, bad.Reason, "truncated data")
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestReadReadoutErrors(t *testing.T) {
	readout := NewReadout(AstroPix4, sampleReadout(t, 0), 1, 2)
	buf, err := readout.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated preamble", buf[:10]},
		{"truncated data", buf[:len(buf)-3]},
		{"bad marker", append([]byte{0xfe, 0xdc, 0xbb}, buf[3:]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadReadout(bytes.NewReader(tt.data), AstroPix4)
			var bad *ErrBadReadout
			assert.True(t, errors.As(err, &bad), "got %v", err)
		})
	}

	huge := bytes.Clone(buf[:readoutPreambleSize])
	binary.LittleEndian.PutUint32(huge[15:], 1<<30)
	_, err = UnmarshalReadout(AstroPix4, huge)
	assert.ErrorContains(t, err, "exceeds")

	_, err = UnmarshalReadout(AstroPix4, append(buf, 0x00))
	assert.ErrorContains(t, err, "trailing")
	_, err = UnmarshalReadout(AstroPix4, nil)
	assert.ErrorContains(t, err, "empty")
}
