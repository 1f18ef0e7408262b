package astropix

import (
	"fmt"
	"strconv"
	"strings"
)

// Hit is one decoded detector packet. Declared fields are converted once,
// when the hit is built; derived values are computed at the same time.
type Hit struct {
	Schema      *HitSchema
	ReadoutID   uint32
	Timestamp   uint64
	DecodeOrder int
	Line        int

	values  []uint64
	derived []float64
}

// DecodeHit builds a hit from one raw buffer as found on the wire.
func DecodeHit(buf []byte, schema *HitSchema) (Hit, error) {
	if len(buf) != schema.Size {
		return Hit{}, &ErrMalformedHit{Schema: schema.Name, Length: len(buf), Expected: schema.Size}
	}
	data := buf
	if schema.ReverseBits {
		data = ReverseBits(buf)
	}
	values := make([]uint64, len(schema.slots))
	for i, slot := range schema.slots {
		values[i] = extractBits(data, slot.offset, slot.width)
	}
	hit := Hit{Schema: schema, values: values}
	if schema.derive != nil {
		hit.derived = schema.derive(values)
	}
	return hit, nil
}

// NewHit builds a hit from field values, missing fields are zero.
func NewHit(schema *HitSchema, fields map[string]uint64) (Hit, error) {
	values := make([]uint64, len(schema.Fields))
	for name, value := range fields {
		i, ok := schema.index[name]
		if !ok {
			return Hit{}, fmt.Errorf("schema %s has no field %q", schema.Name, name)
		}
		if value >= 1<<uint(schema.Fields[i].Width) {
			return Hit{}, fmt.Errorf("value %d overflows %d-bit field %q", value, schema.Fields[i].Width, name)
		}
		values[i] = value
	}
	hit := Hit{Schema: schema, values: values}
	if schema.derive != nil {
		hit.derived = schema.derive(values)
	}
	return hit, nil
}

// Encode is the exact inverse of DecodeHit.
func (h Hit) Encode() []byte {
	buf := make([]byte, h.Schema.Size)
	for i, slot := range h.Schema.slots {
		insertBits(buf, slot.offset, slot.width, h.values[i])
	}
	if h.Schema.ReverseBits {
		return ReverseBits(buf)
	}
	return buf
}

func (h Hit) Value(name string) (uint64, bool) {
	i, ok := h.Schema.index[name]
	if !ok {
		return 0, false
	}
	return h.values[i], true
}

func (h Hit) Derived(name string) (float64, bool) {
	i, ok := h.Schema.dindex[name]
	if !ok {
		return 0, false
	}
	return h.derived[i], true
}

// Get looks up declared fields first, then derived ones.
func (h Hit) Get(name string) (float64, bool) {
	if v, ok := h.Value(name); ok {
		return float64(v), true
	}
	return h.Derived(name)
}

// Uint returns a declared field, zero when the schema lacks it.
func (h Hit) Uint(name string) uint64 {
	v, _ := h.Value(name)
	return v
}

// Equal compares schema and declared fields.
func (h Hit) Equal(other Hit) bool {
	if h.Schema != other.Schema || len(h.values) != len(other.values) {
		return false
	}
	for i := range h.values {
		if h.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

// HitColumns is the tabular header for hits of the given schema.
func HitColumns(schema *HitSchema) []string {
	return append([]string{"dec_ord", "readout_id", "timestamp"}, schema.Columns()...)
}

// Record formats the hit in the HitColumns order.
func (h Hit) Record() []string {
	record := make([]string, 0, 3+len(h.values)+len(h.derived))
	record = append(record,
		strconv.Itoa(h.DecodeOrder),
		strconv.FormatUint(uint64(h.ReadoutID), 10),
		strconv.FormatUint(h.Timestamp, 10))
	for _, v := range h.values {
		record = append(record, strconv.FormatUint(v, 10))
	}
	for _, v := range h.derived {
		record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return record
}

func (h Hit) String() string {
	cols := h.Schema.Columns()
	record := h.Record()[3:]
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + "=" + record[i]
	}
	return fmt.Sprintf("%s(%s)", h.Schema.Name, strings.Join(parts, ", "))
}
