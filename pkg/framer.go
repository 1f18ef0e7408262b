package astropix

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

const (
	// Segments longer than this are left to the header tiling: the
	// recovery filter would only find garbage in them.
	DefaultMaxSegment = 500
	DefaultBlockSize  = 1024
)

type FramerPhase int

const (
	Scanning FramerPhase = iota
	CarryPending
	Done
)

func (p FramerPhase) String() string {
	switch p {
	case Scanning:
		return "SCANNING"
	case CarryPending:
		return "CARRY_PENDING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

type FramerStats struct {
	Chunks                 int
	SkippedChunks          int
	Hits                   int
	OverwrittenHeaders     int
	UnrecoverableFragments int
	DiscardedBytes         int
	CarriedFragments       int
}

func (s *FramerStats) add(other FramerStats) {
	s.Chunks += other.Chunks
	s.SkippedChunks += other.SkippedChunks
	s.Hits += other.Hits
	s.OverwrittenHeaders += other.OverwrittenHeaders
	s.UnrecoverableFragments += other.UnrecoverableFragments
	s.DiscardedBytes += other.DiscardedBytes
	s.CarriedFragments += other.CarriedFragments
}

// FramerState is threaded through successive Frame calls of one stream.
// Independent streams own independent states.
type FramerState struct {
	Phase FramerPhase
	Carry []byte
	// Source of the last framed chunk, flushed hits are attributed to it.
	Source int
	Stats  FramerStats
}

// RawHit is a hit-sized buffer located by the framer.
type RawHit struct {
	Data   []byte
	Order  int
	Source int
}

type Framer struct {
	Schema     *HitSchema
	MaxSegment int
}

func NewFramer(schema *HitSchema) Framer {
	return Framer{Schema: schema, MaxSegment: DefaultMaxSegment}
}

// Frame locates the hits of one chunk. The chunk is never modified.
func (f Framer) Frame(state FramerState, chunk []byte, source int) ([]RawHit, FramerState) {
	return f.frame(state, chunk, source, false)
}

// Flush frames the pending carry at the end of the stream.
func (f Framer) Flush(state FramerState) ([]RawHit, FramerState) {
	if len(state.Carry) == 0 {
		state.Phase = Done
		return nil, state
	}
	hits, state := f.frame(state, nil, state.Source, true)
	state.Stats.Chunks--
	state.Phase = Done
	return hits, state
}

func (f Framer) frame(state FramerState, chunk []byte, source int, final bool) ([]RawHit, FramerState) {
	state.Stats.Chunks++
	state.Source = source
	content := chunk
	if len(state.Carry) > 0 {
		content = append(append([]byte{}, state.Carry...), chunk...)
	}
	content = stripPadding(content, f.Schema)
	state.Carry = nil

	var buffers [][]byte
	var fragment []byte
	if f.Schema.IdleRun != nil {
		segments := bytes.Split(content, f.Schema.IdleRun)
		last := segments[len(segments)-1]
		if !final && len(last) > 0 && len(last) < f.carryThreshold() {
			fragment = last
			segments = segments[:len(segments)-1]
		}
		for _, segment := range segments {
			if len(segment) == 0 {
				continue
			}
			buffers = append(buffers, f.frameSegment(segment, &state.Stats)...)
		}
	} else {
		buffers, fragment = f.frameHeaders(content, final, &state.Stats)
	}

	if fragment != nil {
		state.Carry = bytes.Clone(fragment)
		state.Phase = CarryPending
		state.Stats.CarriedFragments++
	} else {
		state.Phase = Scanning
	}

	hits := make([]RawHit, len(buffers))
	for i, buf := range buffers {
		hits[i] = RawHit{Data: buf, Order: i, Source: source}
	}
	state.Stats.Hits += len(hits)
	return hits, state
}

func (f Framer) carryThreshold() int {
	return f.Schema.CarryHits * f.Schema.Size
}

// frameSegment handles one idle-delimited segment.
func (f Framer) frameSegment(segment []byte, stats *FramerStats) [][]byte {
	size := f.Schema.Size
	valid := f.validOffsets(segment, stats)
	if tiles(valid, size, len(segment)) {
		stats.DiscardedBytes += valid[0]
		if valid[0] > 0 {
			stats.UnrecoverableFragments++
		}
		buffers := make([][]byte, len(valid))
		for i, offset := range valid {
			buffers[i] = segment[offset : offset+size]
		}
		return buffers
	}
	return f.filter(segment, stats)
}

// frameHeaders handles streams without idle filler, where only the header
// pattern separates hits.
func (f Framer) frameHeaders(content []byte, final bool, stats *FramerStats) ([][]byte, []byte) {
	size := f.Schema.Size
	valid := f.validOffsets(content, stats)
	if len(valid) == 0 {
		f.discard(content, stats)
		return nil, nil
	}
	var fragment []byte
	if tail := content[valid[len(valid)-1]:]; !final && len(tail) < f.carryThreshold() {
		fragment = tail
		valid = valid[:len(valid)-1]
	}
	var buffers [][]byte
	end := 0
	if len(valid) > 0 {
		end = valid[0]
		f.discard(content[:valid[0]], stats)
	}
	for _, offset := range valid {
		if offset > end {
			f.discard(content[end:offset], stats)
		}
		if offset+size > len(content) {
			f.discard(content[offset:], stats)
			end = len(content)
			continue
		}
		buffers = append(buffers, content[offset:offset+size])
		end = offset + size
	}
	if fragment != nil {
		f.discard(content[end:len(content)-len(fragment)], stats)
	} else if end < len(content) {
		f.discard(content[end:], stats)
	}
	return buffers, fragment
}

// validOffsets returns the header offsets, dropping every header that is
// followed by another one closer than a hit size: the later hit overwrote
// it during transmission.
func (f Framer) validOffsets(data []byte, stats *FramerStats) []int {
	offsets := headerOffsets(data, f.Schema.Header)
	valid := offsets[:0]
	for i, offset := range offsets {
		if i+1 < len(offsets) && offsets[i+1]-offset < f.Schema.Size {
			stats.OverwrittenHeaders++
			continue
		}
		valid = append(valid, offset)
	}
	return valid
}

// filter recovers hits from a segment that the header offsets do not tile,
// working right to left.
func (f Framer) filter(segment []byte, stats *FramerStats) [][]byte {
	size := f.Schema.Size
	header := f.Schema.Header
	n := len(segment)
	if n < size || (f.MaxSegment > 0 && n > f.MaxSegment) {
		f.discard(segment, stats)
		return nil
	}
	switch {
	case n == size && bytes.HasPrefix(segment, header):
		return [][]byte{segment}
	case bytes.HasPrefix(segment[n-size:], header):
		prefix := f.filter(segment[:n-size], stats)
		return append(prefix, segment[n-size:])
	case segment[n-1] == f.Schema.IdleByte:
		return f.filter(segment[:n-1], stats)
	}
	f.discard(segment, stats)
	return nil
}

func (f Framer) discard(data []byte, stats *FramerStats) {
	if len(data) == 0 {
		return
	}
	stats.UnrecoverableFragments++
	stats.DiscardedBytes += len(data)
}

func tiles(offsets []int, size, length int) bool {
	if len(offsets) == 0 {
		return false
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i]-offsets[i-1] != size {
			return false
		}
	}
	return offsets[len(offsets)-1]+size == length
}

func headerOffsets(data, header []byte) []int {
	var offsets []int
	for start := 0; start < len(data); {
		i := bytes.Index(data[start:], header)
		if i < 0 {
			break
		}
		offsets = append(offsets, start+i)
		start += i + 1
	}
	return offsets
}

// stripPadding removes the runs of two or more padding bytes found between
// segments: at either end of the data or next to an idle byte. A run that
// starts inside the span of a header is hit content and is kept, unless it
// ends the data.
func stripPadding(data []byte, schema *HitSchema) []byte {
	headers := headerOffsets(data, schema.Header)
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != schema.PaddingByte {
			out = append(out, data[i])
			i++
			continue
		}
		j := i
		for j < len(data) && data[j] == schema.PaddingByte {
			j++
		}
		if j-i >= 2 && (j == len(data) || (atBoundary(data, i, j, schema.IdleByte) && !insideHit(headers, i, schema.Size))) {
			i = j
			continue
		}
		out = append(out, data[i:j]...)
		i = j
	}
	return out
}

// atBoundary expects end < len(data).
func atBoundary(data []byte, start, end int, idle byte) bool {
	return start == 0 || data[start-1] == idle || data[end] == idle
}

func insideHit(headers []int, i, size int) bool {
	for _, h := range headers {
		if h < i && i < h+size {
			return true
		}
	}
	return false
}

// FrameText frames one line of a legacy text log. Banner and
// configuration lines are skipped.
func (f Framer) FrameText(state FramerState, line string, lineNo int) ([]RawHit, FramerState) {
	payload, ok := legacyPayload(line)
	if !ok {
		state.Stats.SkippedChunks++
		return nil, state
	}
	data, ok := decodeHexPayload(payload)
	if !ok {
		state.Stats.SkippedChunks++
		return nil, state
	}
	return f.Frame(state, data, lineNo)
}

// legacyPayload extracts the hex text of a data line. Both the
// "<id>\tb'<hex>'" lines and the "... INFO: b'<hex>'" lines of the quad
// chip logs are data lines.
func legacyPayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if i := strings.Index(line, "INFO:"); i >= 0 {
		line = strings.TrimSpace(line[i+len("INFO:"):])
	}
	if line == "" {
		return "", false
	}
	switch {
	case line[0] >= '0' && line[0] <= '9':
		i := strings.LastIndexByte(line, '\t')
		if i < 0 {
			return "", false
		}
		line = line[i+1:]
	case strings.HasPrefix(line, "b'"):
	default:
		return "", false
	}
	line = strings.TrimPrefix(line, "b'")
	line = strings.TrimSuffix(line, "'")
	return line, true
}

// decodeHexPayload decodes hex text, dropping a dangling last digit.
func decodeHexPayload(payload string) ([]byte, bool) {
	if len(payload)%2 == 1 {
		payload = payload[:len(payload)-1]
	}
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return data, true
}

// FrameReader frames a raw binary stream read in fixed-size blocks. fn is
// called once per block with the hits found in it, and once more with the
// hits recovered from the final carry.
func (f Framer) FrameReader(ctx context.Context, r io.Reader, blockSize int, fn func([]RawHit) error) (FramerState, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	var state FramerState
	block := make([]byte, blockSize)
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		nRead, err := io.ReadFull(r, block)
		if nRead > 0 {
			var hits []RawHit
			hits, state = f.Frame(state, block[:nRead], n)
			if err := fn(hits); err != nil {
				return state, err
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return state, err
		}
	}
	hits, state := f.Flush(state)
	if len(hits) > 0 {
		if err := fn(hits); err != nil {
			return state, err
		}
	}
	return state, nil
}
