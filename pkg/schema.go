package astropix

import (
	"fmt"
	"strings"
)

const (
	IdleByte    = 0xbc
	PaddingByte = 0xff

	// AstroPix4 timestamps
	ClockCyclesPerUs = 20
	ClockRollover    = 1 << 17
)

// HitSchema describes the binary layout of one chip version. A published
// UID never changes layout: a new layout gets a new UID.
type HitSchema struct {
	UID         uint32
	Name        string
	Fields      []Field
	Size        int
	Header      []byte
	IdleByte    byte
	IdleRun     []byte
	PaddingByte byte
	ReverseBits bool
	// CarryHits is the split-carry threshold in units of Size.
	CarryHits int
	// Derived lists the names of the values computed by derive.
	Derived []string
	// Banner rows at the top of a legacy log written with this chip.
	SkipRows int

	slots  []fieldSlot
	index  map[string]int
	dindex map[string]int
	derive func(values []uint64) []float64
}

// Columns returns declared then derived field names.
func (s *HitSchema) Columns() []string {
	cols := make([]string, 0, len(s.Fields)+len(s.Derived))
	for _, f := range s.Fields {
		cols = append(cols, f.Name)
	}
	return append(cols, s.Derived...)
}

func (s *HitSchema) String() string {
	return fmt.Sprintf("%s(uid=%d, size=%d)", s.Name, s.UID, s.Size)
}

func newSchema(s HitSchema, derive func([]uint64) []float64) *HitSchema {
	slots, nbits := layoutSlots(s.Fields)
	if nbits%8 != 0 {
		panic(fmt.Sprintf("schema %s: %d bits is not a whole number of bytes", s.Name, nbits))
	}
	s.Size = nbits / 8
	s.slots = slots
	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.index[f.Name] = i
	}
	s.dindex = make(map[string]int, len(s.Derived))
	for i, name := range s.Derived {
		s.dindex[name] = i
	}
	s.derive = derive
	if s.CarryHits == 0 {
		s.CarryHits = 1
	}
	return &s
}

var AstroPix3 = newSchema(HitSchema{
	UID:  3000,
	Name: "AstroPix3",
	Fields: []Field{
		{"chip_id", 5}, {"payload", 3}, {"column", 1}, {"reserved1", 1},
		{"location", 6}, {"timestamp", 8}, {"reserved2", 4},
		{"tot_msb", 4}, {"tot_lsb", 8},
	},
	Header:      []byte{0x20},
	IdleByte:    IdleByte,
	IdleRun:     []byte{IdleByte, IdleByte},
	PaddingByte: PaddingByte,
	ReverseBits: true,
	Derived:     []string{"tot", "tot_us"},
	SkipRows:    6,
}, func(v []uint64) []float64 {
	tot := v[7]<<8 | v[8]
	return []float64{float64(tot), float64(tot) / 200.}
})

var AstroPix4 = newSchema(HitSchema{
	UID:  4000,
	Name: "AstroPix4",
	Fields: []Field{
		{"chip_id", 5}, {"payload", 3}, {"row", 5}, {"column", 5},
		{"ts_neg1", 1}, {"ts_coarse1", 14}, {"ts_fine1", 3}, {"ts_tdc1", 5},
		{"ts_neg2", 1}, {"ts_coarse2", 14}, {"ts_fine2", 3}, {"ts_tdc2", 5},
	},
	Header:      []byte{0xe0},
	IdleByte:    IdleByte,
	IdleRun:     []byte{IdleByte, IdleByte},
	PaddingByte: PaddingByte,
	ReverseBits: true,
	Derived:     []string{"ts_dec1", "ts_dec2", "tot_us"},
	SkipRows:    7,
}, func(v []uint64) []float64 {
	dec1 := composeTimestamp(v[5], v[6])
	dec2 := composeTimestamp(v[9], v[10])
	if dec2 < dec1 {
		dec2 += ClockRollover
	}
	totUs := float64(dec2-dec1) / ClockCyclesPerUs
	return []float64{float64(dec1), float64(dec2), totUs}
})

// AstroPix3Quad is the A-STEP frame of the quad-chip board: a length
// byte, the layer, an AstroPix3 hit and the FPGA timestamp.
var AstroPix3Quad = newSchema(HitSchema{
	UID:  3100,
	Name: "AstroPix3Quad",
	Fields: []Field{
		{"astep_header", 8}, {"layer", 8},
		{"chip_id", 5}, {"payload", 3}, {"column", 1}, {"reserved1", 1},
		{"location", 6}, {"timestamp", 8}, {"reserved2", 4},
		{"tot_msb", 4}, {"tot_lsb", 8}, {"fpga_timestamp", 32},
	},
	Header:      []byte{0x0a, 0x01},
	IdleByte:    IdleByte,
	PaddingByte: PaddingByte,
	CarryHits:   2,
	Derived:     []string{"tot_total", "tot_us"},
	SkipRows:    121,
}, func(v []uint64) []float64 {
	tot := v[9]<<8 | v[10]
	return []float64{float64(tot), float64(tot) * 10. / 1000.}
})

// composeTimestamp merges coarse and fine Gray counters into clock cycles.
func composeTimestamp(coarse, fine uint64) uint64 {
	return GrayToDecimal(coarse<<3 + fine)
}

var schemas = []*HitSchema{AstroPix3, AstroPix4, AstroPix3Quad}

func Schemas() []*HitSchema {
	return schemas
}

func SchemaByUID(uid uint32) (*HitSchema, error) {
	for _, s := range schemas {
		if s.UID == uid {
			return s, nil
		}
	}
	return nil, &ErrUnknownSchema{Name: fmt.Sprintf("uid %d", uid)}
}

// SchemaByName accepts the schema name or the short chip aliases used in
// configuration files (v3, v4, quad).
func SchemaByName(name string) (*HitSchema, error) {
	switch strings.ToLower(name) {
	case "v3", "astropix3":
		return AstroPix3, nil
	case "v4", "astropix4":
		return AstroPix4, nil
	case "quad", "astropix3quad":
		return AstroPix3Quad, nil
	}
	return nil, &ErrUnknownSchema{Name: name}
}
