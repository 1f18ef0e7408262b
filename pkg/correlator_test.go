package astropix

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(location, ts, tot int) HalfHit {
	return HalfHit{Payload: 4, Location: location, Timestamp: ts, ToT: tot}
}

func col(location, ts, tot int) HalfHit {
	return HalfHit{Payload: 4, Location: location, IsColumn: true, Timestamp: ts, ToT: tot}
}

func TestWindow(t *testing.T) {
	closed := ClosedWindow(0, 1)
	assert.True(t, closed.Contains(0))
	assert.True(t, closed.Contains(1))
	assert.False(t, closed.Contains(2))
	assert.False(t, closed.Contains(-1))

	open := OpenWindow(6, 15)
	assert.False(t, open.Contains(6))
	assert.True(t, open.Contains(7))
	assert.True(t, open.Contains(14))
	assert.False(t, open.Contains(15))

	assert.Equal(t, "[0, 1]", closed.String())
	assert.Equal(t, "(6, 15)", open.String())
}

func TestMatch(t *testing.T) {
	group := []HalfHit{
		col(3, 10, 0), // before the first row, never matched
		row(5, 100, 20),
		col(7, 100, 10),
		col(8, 99, 12),
		col(9, 100, 14), // ToT difference 6, outside the open window
		row(6, 200, 30),
		col(1, 199, 20),
		row(2, 300, 40), // no column after it
	}
	got := Match(group, DefaultMatchPolicy())
	want := []MatchedHit{
		{Row: 5, Col: 7, RowTimestamp: 100, ColTimestamp: 100, RowToT: 20, ColToT: 10},
		{Row: 5, Col: 8, RowTimestamp: 100, ColTimestamp: 99, RowToT: 20, ColToT: 12},
		{Row: 6, Col: 1, RowTimestamp: 200, ColTimestamp: 199, RowToT: 30, ColToT: 20},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("matches mismatch (-want +got):\n%s", diff)
	}

	// the inclusive policy accepts the ToT bound
	got = Match(group, InclusiveMatchPolicy(0, 1, 6, 15))
	assert.Len(t, got, 4)
}

func TestMatchWindowAndCluster(t *testing.T) {
	// differences are row minus column
	got := Match([]HalfHit{row(1, 100, 27), col(2, 100, 20), col(3, 105, 20)}, DefaultMatchPolicy())
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Col)

	got = Match([]HalfHit{row(1, 50, 30), col(2, 50, 20), col(3, 49, 40), col(4, 49, 22)}, DefaultMatchPolicy())
	require.Len(t, got, 2)
	for _, m := range got {
		assert.Equal(t, 1, m.Row)
	}
	assert.Equal(t, []int{2, 4}, []int{got[0].Col, got[1].Col})
}

func TestMatchStopsAtNextRow(t *testing.T) {
	group := []HalfHit{
		row(1, 10, 20),
		row(2, 10, 20),
		col(3, 10, 10),
		col(4, 10, 10),
		row(5, 10, 20),
		col(6, 10, 10),
	}
	got := Match(group, DefaultMatchPolicy())
	pairs := make([][2]int, len(got))
	for i, m := range got {
		pairs[i] = [2]int{m.Row, m.Col}
	}
	// the first row sees the same column cluster as the second one
	assert.Equal(t, [][2]int{{1, 3}, {1, 4}, {2, 3}, {2, 4}, {5, 6}}, pairs)
}

func TestMatchGroups(t *testing.T) {
	hits := []HalfHit{
		{Layer: 0, ChipID: 1, Payload: 4, Location: 5, Timestamp: 10, ToT: 20},
		{Layer: 1, ChipID: 0, Payload: 4, Location: 2, Timestamp: 10, ToT: 20},
		{Layer: 0, ChipID: 1, Payload: 4, Location: 9, IsColumn: true, Timestamp: 10, ToT: 10},
		{Layer: 5, ChipID: 0, Payload: 4, Location: 9, IsColumn: true, Timestamp: 10, ToT: 10},
	}
	matches, stats := MatchGroups(hits, 2, 2, DefaultMatchPolicy())
	require.Len(t, matches, 1)
	assert.Equal(t, 0, matches[0].Layer)
	assert.Equal(t, 1, matches[0].ChipID)
	require.Len(t, stats, 4)
	assert.Equal(t, GroupStats{Key: GroupKey{0, 1}, HalfHits: 2, Matches: 1}, stats[1])
	assert.Equal(t, 1., stats[1].MatchedFraction())
	assert.Equal(t, GroupStats{Key: GroupKey{1, 0}, HalfHits: 1}, stats[2])
	assert.Zero(t, stats[0].MatchedFraction())
}

func TestValidHalfHit(t *testing.T) {
	assert.True(t, ValidHalfHit(HalfHit{Payload: 4, Location: 34}))
	assert.False(t, ValidHalfHit(HalfHit{Payload: 4, Location: 35}))
	assert.False(t, ValidHalfHit(HalfHit{Payload: 7, Location: 3}))
}

func TestHalfHitFromHit(t *testing.T) {
	hit, err := NewHit(AstroPix3Quad, map[string]uint64{
		"astep_header": 0x0a, "layer": 1, "chip_id": 3, "payload": 4, "column": 1,
		"location": 12, "timestamp": 77, "tot_msb": 1, "tot_lsb": 4, "fpga_timestamp": 5000,
	})
	require.NoError(t, err)
	half, err := HalfHitFromHit(hit)
	require.NoError(t, err)
	want := HalfHit{Layer: 1, ChipID: 3, Payload: 4, Location: 12, IsColumn: true, Timestamp: 77, ToT: 260, ToTus: 2.6, FPGATimestamp: 5000}
	if diff := cmp.Diff(want, half); diff != "" {
		t.Errorf("half hit mismatch (-want +got):\n%s", diff)
	}

	ap4, err := NewHit(AstroPix4, nil)
	require.NoError(t, err)
	_, err = HalfHitFromHit(ap4)
	assert.Error(t, err)
}

func TestHalfHitsCSV(t *testing.T) {
	input := `dec_ord,readout,layer,chipID,payload,location,isCol,timestamp,tot_msb,tot_lsb,tot_total,tot_us,fpga_ts
0,0,0,1,4,5,0,100,0,20,20,0.2,1000
1,0,0,1,4,7,1,100,0,10,10,0.1,1001
2,0,0,1,4.0,8,1,99,0,12,12,0.12,1002
`
	hits, err := ReadHalfHitsCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, HalfHit{ChipID: 1, Payload: 4, Location: 8, IsColumn: true, Timestamp: 99, ToT: 12, ToTus: 0.12, FPGATimestamp: 1002}, hits[2])

	matches, _ := MatchGroups(hits, 1, 2, DefaultMatchPolicy())
	var out bytes.Buffer
	require.NoError(t, WriteMatchedCSV(&out, matches))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"layer,chipID,row,col,row_timestamp,col_timestamp,row_tot,col_tot,row_tot_us,col_tot_us,row_fpga_ts,col_fpga_ts",
		"0,1,5,7,100,100,20,10,0.2,0.1,1000,1001",
		"0,1,5,8,100,99,20,12,0.2,0.12,1000,1002",
	}, lines)
}

func TestHalfHitsCSVPositional(t *testing.T) {
	input := "a,b,c,d,e,f,g,h,i\n1,2,4,10,1,55,300,3,123\n"
	hits, err := ReadHalfHitsCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, HalfHit{Layer: 1, ChipID: 2, Payload: 4, Location: 10, IsColumn: true, Timestamp: 55, ToT: 300, ToTus: 3, FPGATimestamp: 123}, hits[0])

	_, err = ReadHalfHitsCSV(strings.NewReader("a,b,c,d,e,f,g,h,i\n1,2,x,10,1,55,300,3,123\n"))
	assert.ErrorContains(t, err, "line 2")

	hits, err = ReadHalfHitsCSV(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMatchedCSVPath(t *testing.T) {
	assert.Equal(t, "run_decoded_matched.csv", MatchedCSVPath("run_decoded.csv"))
}
