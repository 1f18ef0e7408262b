package astropix

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// HalfHit is a row or a column measurement waiting to be matched.
type HalfHit struct {
	Layer         int
	ChipID        int
	Payload       int
	Location      int
	IsColumn      bool
	Timestamp     int
	ToT           int
	ToTus         float64
	FPGATimestamp int64
}

// MatchedHit is a reconstructed (row, column) pixel hit.
type MatchedHit struct {
	Layer            int
	ChipID           int
	Row              int
	Col              int
	RowTimestamp     int
	ColTimestamp     int
	RowToT           int
	ColToT           int
	RowToTus         float64
	ColToTus         float64
	RowFPGATimestamp int64
	ColFPGATimestamp int64
}

// Window is an interval over the (row - column) difference of a quantity.
// Each bound is open or closed on its own.
type Window struct {
	Min          int
	Max          int
	MinInclusive bool
	MaxInclusive bool
}

func ClosedWindow(min, max int) Window {
	return Window{Min: min, Max: max, MinInclusive: true, MaxInclusive: true}
}

func OpenWindow(min, max int) Window {
	return Window{Min: min, Max: max}
}

func (w Window) Contains(d int) bool {
	if d < w.Min || (d == w.Min && !w.MinInclusive) {
		return false
	}
	if d > w.Max || (d == w.Max && !w.MaxInclusive) {
		return false
	}
	return true
}

func (w Window) String() string {
	open, close := "(", ")"
	if w.MinInclusive {
		open = "["
	}
	if w.MaxInclusive {
		close = "]"
	}
	return fmt.Sprintf("%s%d, %d%s", open, w.Min, w.Max, close)
}

// MatchPolicy holds the timestamp and ToT windows a (row, column) pair
// must satisfy.
type MatchPolicy struct {
	Timestamp Window
	ToT       Window
}

// DefaultMatchPolicy is the library default: timestamp difference in
// [0, 1] and ToT difference in the open interval (6, 15).
func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{Timestamp: ClosedWindow(0, 1), ToT: OpenWindow(6, 15)}
}

// InclusiveMatchPolicy closes both windows, as the rowcolmatch command
// does with its --mints/--maxts/--mintot/--maxtot bounds.
func InclusiveMatchPolicy(minTs, maxTs, minToT, maxToT int) MatchPolicy {
	return MatchPolicy{Timestamp: ClosedWindow(minTs, maxTs), ToT: ClosedWindow(minToT, maxToT)}
}

func (p MatchPolicy) accepts(row, col HalfHit) bool {
	return p.Timestamp.Contains(row.Timestamp-col.Timestamp) && p.ToT.Contains(row.ToT-col.ToT)
}

// Match pairs every row hit of one (layer, chip) group with the first
// cluster of column hits following it. Row hits met before the first
// column are skipped, the scan stops at the first row hit after it.
func Match(group []HalfHit, policy MatchPolicy) []MatchedHit {
	var out []MatchedHit
	for i, row := range group {
		if row.IsColumn {
			continue
		}
		foundCol := false
		for j := i + 1; j < len(group) && (!foundCol || group[j].IsColumn); j++ {
			col := group[j]
			if !col.IsColumn {
				continue
			}
			foundCol = true
			if policy.accepts(row, col) {
				out = append(out, newMatchedHit(row, col))
			}
		}
	}
	return out
}

func newMatchedHit(row, col HalfHit) MatchedHit {
	return MatchedHit{
		Layer:            row.Layer,
		ChipID:           row.ChipID,
		Row:              row.Location,
		Col:              col.Location,
		RowTimestamp:     row.Timestamp,
		ColTimestamp:     col.Timestamp,
		RowToT:           row.ToT,
		ColToT:           col.ToT,
		RowToTus:         row.ToTus,
		ColToTus:         col.ToTus,
		RowFPGATimestamp: row.FPGATimestamp,
		ColFPGATimestamp: col.FPGATimestamp,
	}
}

type GroupKey struct {
	Layer  int
	ChipID int
}

// GroupHalfHits splits hits by (layer, chip), keeping readout order.
func GroupHalfHits(hits []HalfHit) map[GroupKey][]HalfHit {
	groups := make(map[GroupKey][]HalfHit)
	for _, h := range hits {
		key := GroupKey{h.Layer, h.ChipID}
		groups[key] = append(groups[key], h)
	}
	return groups
}

type GroupStats struct {
	Key      GroupKey
	HalfHits int
	Matches  int
}

// MatchedFraction is the fraction of half hits that ended up in a match.
func (s GroupStats) MatchedFraction() float64 {
	if s.HalfHits == 0 {
		return 0
	}
	return 2. * float64(s.Matches) / float64(s.HalfHits)
}

// MatchGroups runs Match over layers [0, layers) and chips [0, chips).
// Groups outside that range are ignored.
func MatchGroups(hits []HalfHit, layers, chips int, policy MatchPolicy) ([]MatchedHit, []GroupStats) {
	groups := GroupHalfHits(hits)
	var matches []MatchedHit
	var stats []GroupStats
	for layer := 0; layer < layers; layer++ {
		for chip := 0; chip < chips; chip++ {
			key := GroupKey{layer, chip}
			group := groups[key]
			m := Match(group, policy)
			matches = append(matches, m...)
			stats = append(stats, GroupStats{Key: key, HalfHits: len(group), Matches: len(m)})
		}
	}
	return matches, stats
}

// ValidHalfHit drops the corrupted half hits: payload must be 4 and the
// location inside the 35x35 matrix.
func ValidHalfHit(h HalfHit) bool {
	return h.Payload == 4 && h.Location < 35
}

// HalfHitFromHit converts an AstroPix3 or quad-chip hit.
func HalfHitFromHit(hit Hit) (HalfHit, error) {
	if _, ok := hit.Value("location"); !ok {
		return HalfHit{}, fmt.Errorf("%s hits carry no row/column half hit", hit.Schema.Name)
	}
	tot := int(hit.Uint("tot_msb")<<8 | hit.Uint("tot_lsb"))
	totUs, ok := hit.Derived("tot_us")
	if !ok {
		totUs = float64(tot) / 100.
	}
	return HalfHit{
		Layer:         int(hit.Uint("layer")),
		ChipID:        int(hit.Uint("chip_id")),
		Payload:       int(hit.Uint("payload")),
		Location:      int(hit.Uint("location")),
		IsColumn:      hit.Uint("column") == 1,
		Timestamp:     int(hit.Uint("timestamp")),
		ToT:           tot,
		ToTus:         totUs,
		FPGATimestamp: int64(hit.Uint("fpga_timestamp")),
	}, nil
}

var halfHitColumns = []string{"layer", "chipID", "payload", "location", "isCol", "timestamp", "tot_total", "tot_us", "fpga_ts"}

var matchedHitColumns = []string{
	"layer", "chipID", "row", "col", "row_timestamp", "col_timestamp",
	"row_tot", "col_tot", "row_tot_us", "col_tot_us", "row_fpga_ts", "col_fpga_ts",
}

// ReadHalfHitsCSV reads decoded half hits. Columns are looked up by name
// in the header line; without named columns the nine half hit columns
// are expected in order.
func ReadHalfHitsCSV(r io.Reader) ([]HalfHit, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading csv header: %w", err)
	}
	index := make([]int, len(halfHitColumns))
	for i, name := range halfHitColumns {
		index[i] = slices.Index(header, name)
	}
	if slices.Contains(index, -1) {
		for i := range index {
			index[i] = i
		}
	}

	var hits []HalfHit
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return hits, nil
		}
		if err != nil {
			return hits, fmt.Errorf("error reading csv line %d: %w", line, err)
		}
		h, err := parseHalfHit(record, index)
		if err != nil {
			return hits, fmt.Errorf("line %d: %w", line, err)
		}
		hits = append(hits, h)
	}
}

func parseHalfHit(record []string, index []int) (HalfHit, error) {
	field := func(i int) (string, error) {
		if index[i] >= len(record) {
			return "", fmt.Errorf("missing column %s", halfHitColumns[i])
		}
		return strings.TrimSpace(record[index[i]]), nil
	}
	// integer columns, in halfHitColumns order without tot_us
	var ints [8]int64
	var totUs float64
	slot := 0
	for i, name := range halfHitColumns {
		text, err := field(i)
		if err != nil {
			return HalfHit{}, err
		}
		if name == "tot_us" {
			if totUs, err = strconv.ParseFloat(text, 64); err != nil {
				return HalfHit{}, fmt.Errorf("column %s: %w", name, err)
			}
			continue
		}
		if ints[slot], err = parseCSVInt(text); err != nil {
			return HalfHit{}, fmt.Errorf("column %s: %w", name, err)
		}
		slot++
	}
	return HalfHit{
		Layer:         int(ints[0]),
		ChipID:        int(ints[1]),
		Payload:       int(ints[2]),
		Location:      int(ints[3]),
		IsColumn:      ints[4] == 1,
		Timestamp:     int(ints[5]),
		ToT:           int(ints[6]),
		ToTus:         totUs,
		FPGATimestamp: ints[7],
	}, nil
}

// parseCSVInt also accepts integers written as floats by pandas ("4.0").
func parseCSVInt(text string) (int64, error) {
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// WriteMatchedCSV writes matched hits with the rowcolmatch header.
func WriteMatchedCSV(w io.Writer, hits []MatchedHit) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(matchedHitColumns); err != nil {
		return err
	}
	for _, h := range hits {
		record := []string{
			strconv.Itoa(h.Layer),
			strconv.Itoa(h.ChipID),
			strconv.Itoa(h.Row),
			strconv.Itoa(h.Col),
			strconv.Itoa(h.RowTimestamp),
			strconv.Itoa(h.ColTimestamp),
			strconv.Itoa(h.RowToT),
			strconv.Itoa(h.ColToT),
			strconv.FormatFloat(h.RowToTus, 'g', -1, 64),
			strconv.FormatFloat(h.ColToTus, 'g', -1, 64),
			strconv.FormatInt(h.RowFPGATimestamp, 10),
			strconv.FormatInt(h.ColFPGATimestamp, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// MatchedCSVPath is the output path rowcolmatch derives from its input.
func MatchedCSVPath(input string) string {
	return strings.TrimSuffix(input, ".csv") + "_matched.csv"
}
