package astropix

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

var readoutMarker = []byte{0xfe, 0xdc, 0xba}

// marker, readout id, timestamp, data length
const readoutPreambleSize = 3 + 4 + 8 + 4

// DecodingStatus classifies the bytes of a decoded readout.
type DecodingStatus struct {
	PaddingBytes      int
	IdleBytes         int
	HitBytes          int
	ExtraBytes        int
	UnrecognizedBytes int
	Framer            FramerStats
}

func (s DecodingStatus) String() string {
	return fmt.Sprintf("padding=%d idle=%d hit=%d extra=%d unrecognized=%d overwritten=%d",
		s.PaddingBytes, s.IdleBytes, s.HitBytes, s.ExtraBytes, s.UnrecognizedBytes, s.Framer.OverwrittenHeaders)
}

// Readout is one chunk of data from the acquisition board.
type Readout struct {
	Schema    *HitSchema
	ID        uint32
	Timestamp uint64
	Data      []byte

	padding int
	decoded bool
	hits    []Hit
	extra   []byte
	status  DecodingStatus
}

// NewReadout copies data and strips the trailing padding.
func NewReadout(schema *HitSchema, data []byte, id uint32, timestamp uint64) *Readout {
	end := len(data)
	for end > 0 && data[end-1] == schema.PaddingByte {
		end--
	}
	return &Readout{
		Schema:    schema,
		ID:        id,
		Timestamp: timestamp,
		Data:      bytes.Clone(data[:end]),
		padding:   len(data) - end,
	}
}

// LatchNs is the host timestamp attached to new readouts.
func LatchNs() uint64 {
	return uint64(time.Now().UnixNano())
}

// Decode frames and decodes the readout. extra holds the bytes carried
// over from the previous readout of the stream, if any. Only the first
// call decodes; later calls return the same hits.
func (r *Readout) Decode(extra []byte) []Hit {
	if r.decoded {
		return r.hits
	}
	framer := NewFramer(r.Schema)
	state := FramerState{Carry: extra}
	if len(extra) > 0 {
		state.Phase = CarryPending
	}
	raw, state := framer.Frame(state, r.Data, int(r.ID))

	hits := make([]Hit, 0, len(raw))
	malformed := 0
	for _, rh := range raw {
		hit, err := DecodeHit(rh.Data, r.Schema)
		if err != nil {
			malformed += len(rh.Data)
			continue
		}
		hit.ReadoutID = r.ID
		hit.Timestamp = r.Timestamp
		hit.DecodeOrder = rh.Order
		hit.Line = rh.Source
		hits = append(hits, hit)
	}

	r.hits = hits
	r.extra = state.Carry
	content := append(bytes.Clone(extra), r.Data...)
	stripped := len(content) - len(stripPadding(content, r.Schema))
	total := len(content)
	r.status = DecodingStatus{
		PaddingBytes:      r.padding + stripped,
		HitBytes:          len(hits) * r.Schema.Size,
		ExtraBytes:        len(r.extra),
		UnrecognizedBytes: state.Stats.DiscardedBytes + malformed,
		Framer:            state.Stats,
	}
	r.status.IdleBytes = total - stripped - r.status.HitBytes - r.status.ExtraBytes - r.status.UnrecognizedBytes
	r.decoded = true
	return r.hits
}

// Hits decodes the readout on its own, without carry.
func (r *Readout) Hits() []Hit {
	return r.Decode(nil)
}

func (r *Readout) Decoded() bool {
	return r.decoded
}

// ExtraBytes is the unterminated fragment at the end of the readout, to be
// passed to the Decode call of the next readout.
func (r *Readout) ExtraBytes() []byte {
	return r.extra
}

func (r *Readout) Status() DecodingStatus {
	return r.status
}

// Equal compares identifiers, timestamps and raw data.
func (r *Readout) Equal(other *Readout) bool {
	return r.ID == other.ID && r.Timestamp == other.Timestamp && bytes.Equal(r.Data, other.Data)
}

func (r *Readout) String() string {
	return fmt.Sprintf("%sReadout(id=%d, timestamp=%d, %d bytes)", r.Schema.Name, r.ID, r.Timestamp, len(r.Data))
}

func (r *Readout) MarshalBinary() ([]byte, error) {
	if uint64(len(r.Data)) > uint64(^uint32(0)) {
		return nil, &ErrBadReadout{Reason: fmt.Sprintf("%d bytes do not fit the length field", len(r.Data))}
	}
	buf := make([]byte, readoutPreambleSize, readoutPreambleSize+len(r.Data))
	copy(buf, readoutMarker)
	binary.LittleEndian.PutUint32(buf[3:], r.ID)
	binary.LittleEndian.PutUint64(buf[7:], r.Timestamp)
	binary.LittleEndian.PutUint32(buf[15:], uint32(len(r.Data)))
	return append(buf, r.Data...), nil
}

func (r *Readout) WriteTo(w io.Writer) (int64, error) {
	buf, err := r.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadReadout reads the next serialized readout. It returns io.EOF when
// the stream ends cleanly before a new readout.
func ReadReadout(rd io.Reader, schema *HitSchema) (*Readout, error) {
	preamble := make([]byte, readoutPreambleSize)
	n, err := io.ReadFull(rd, preamble)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ErrBadReadout{Reason: fmt.Sprintf("truncated preamble (%d bytes)", n)}
		}
		return nil, err
	}
	if !bytes.Equal(preamble[:3], readoutMarker) {
		return nil, &ErrBadReadout{Reason: fmt.Sprintf("marker %x, expected %x", preamble[:3], readoutMarker)}
	}
	// the buffer grows with the bytes actually read, a corrupted length
	// cannot force a large allocation
	length := binary.LittleEndian.Uint32(preamble[15:])
	var data bytes.Buffer
	if _, err := io.CopyN(&data, rd, int64(length)); err != nil {
		return nil, &ErrBadReadout{Reason: fmt.Sprintf("truncated data: %v", err)}
	}
	return &Readout{
		Schema:    schema,
		ID:        binary.LittleEndian.Uint32(preamble[3:]),
		Timestamp: binary.LittleEndian.Uint64(preamble[7:]),
		Data:      data.Bytes(),
	}, nil
}

// UnmarshalReadout rebuilds one readout from a datagram.
func UnmarshalReadout(schema *HitSchema, data []byte) (*Readout, error) {
	if len(data) >= readoutPreambleSize {
		length := binary.LittleEndian.Uint32(data[15:])
		if int64(length) > int64(len(data)-readoutPreambleSize) {
			return nil, &ErrBadReadout{Reason: fmt.Sprintf("length field %d exceeds the %d data bytes", length, len(data)-readoutPreambleSize)}
		}
	}
	rd := bytes.NewReader(data)
	readout, err := ReadReadout(rd, schema)
	if errors.Is(err, io.EOF) {
		return nil, &ErrBadReadout{Reason: "empty datagram"}
	}
	if err != nil {
		return nil, err
	}
	if rd.Len() != 0 {
		return nil, &ErrBadReadout{Reason: fmt.Sprintf("%d trailing bytes", rd.Len())}
	}
	return readout, nil
}
