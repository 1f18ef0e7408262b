package astropix

import (
	"fmt"
	"image/color"
	"path/filepath"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/exp/slices"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	matrixSize = 64
	totBins    = 100
	totMaxUs   = 50.
)

type ChipKey struct {
	Layer  int
	ChipID int
}

func (k ChipKey) String() string {
	return fmt.Sprintf("layer%d_chip%d", k.Layer, k.ChipID)
}

// ChipStats accumulates the hits of one chip.
type ChipStats struct {
	mu        sync.Mutex
	Hits      int
	ToT       *Histogram
	RowCounts [matrixSize]int
	ColCounts [matrixSize]int
	// Pixel occupancy, only for chips reporting row and column together.
	HitMap [matrixSize][matrixSize]int
}

func newChipStats() *ChipStats {
	return &ChipStats{ToT: NewHistogram(0, totMaxUs, totBins)}
}

func (c *ChipStats) fill(hit Hit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Hits++
	if tot, ok := hit.Derived("tot_us"); ok {
		c.ToT.Fill(tot)
	}
	if row, ok := hit.Value("row"); ok {
		col := hit.Uint("column")
		if row < matrixSize && col < matrixSize {
			c.RowCounts[row]++
			c.ColCounts[col]++
			c.HitMap[row][col]++
		}
		return
	}
	location := hit.Uint("location")
	if location >= matrixSize {
		return
	}
	if hit.Uint("column") == 1 {
		c.ColCounts[location]++
	} else {
		c.RowCounts[location]++
	}
}

// ChipSnapshot is a copy of ChipStats safe to read while filling goes on.
type ChipSnapshot struct {
	Key       ChipKey
	Hits      int
	ToT       *Histogram
	RowCounts [matrixSize]int
	ColCounts [matrixSize]int
}

// MonitorStats collects per-chip statistics from concurrent decoders.
type MonitorStats struct {
	chips  *xsync.MapOf[ChipKey, *ChipStats]
	hits   *xsync.Counter
	mu     sync.Mutex
	framer FramerStats
	start  time.Time
	now    func() time.Time
}

func NewMonitorStats() *MonitorStats {
	return &MonitorStats{
		chips: xsync.NewMapOf[ChipKey, *ChipStats](),
		hits:  xsync.NewCounter(),
		now:   time.Now,
	}
}

func (m *MonitorStats) Fill(hits []Hit) {
	if len(hits) == 0 {
		return
	}
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = m.now()
	}
	m.mu.Unlock()
	for _, hit := range hits {
		key := ChipKey{Layer: int(hit.Uint("layer")), ChipID: int(hit.Uint("chip_id"))}
		chip, _ := m.chips.LoadOrCompute(key, newChipStats)
		chip.fill(hit)
		m.hits.Inc()
	}
}

// AddFramer accumulates the framing counters of a decoded stream.
func (m *MonitorStats) AddFramer(stats FramerStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framer.add(stats)
}

func (m *MonitorStats) Framer() FramerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framer
}

func (m *MonitorStats) Hits() int {
	return int(m.hits.Value())
}

// Rate is the number of hits per second since the first one.
func (m *MonitorStats) Rate() float64 {
	m.mu.Lock()
	start := m.start
	m.mu.Unlock()
	if start.IsZero() {
		return 0
	}
	elapsed := m.now().Sub(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.Hits()) / elapsed
}

// Chips returns a snapshot of every chip, sorted by layer and chip.
func (m *MonitorStats) Chips() []ChipSnapshot {
	var out []ChipSnapshot
	m.chips.Range(func(key ChipKey, chip *ChipStats) bool {
		chip.mu.Lock()
		out = append(out, ChipSnapshot{
			Key:       key,
			Hits:      chip.Hits,
			ToT:       chip.ToT.Clone(),
			RowCounts: chip.RowCounts,
			ColCounts: chip.ColCounts,
		})
		chip.mu.Unlock()
		return true
	})
	slices.SortFunc(out, func(a, b ChipSnapshot) int {
		if a.Key.Layer != b.Key.Layer {
			return a.Key.Layer - b.Key.Layer
		}
		return a.Key.ChipID - b.Key.ChipID
	})
	return out
}

// Summary logs one line per chip.
func (m *MonitorStats) Summary(l Logger) {
	l.Info(fmt.Sprintf("%d hits, %.1f Hz", m.Hits(), m.Rate()), "monitor")
	for _, chip := range m.Chips() {
		l.Info(fmt.Sprintf("Layer %d, Chip %d: %d hits, mean ToT %.2f us", chip.Key.Layer, chip.Key.ChipID, chip.Hits, chip.ToT.Mean()), "monitor")
	}
	framer := m.Framer()
	if framer.UnrecoverableFragments > 0 {
		l.Info(fmt.Sprintf("%d unrecoverable fragments, %d bytes discarded", framer.UnrecoverableFragments, framer.DiscardedBytes), "monitor")
	}
}

// SavePlots writes a ToT histogram and a row/column occupancy plot per
// chip into dir and returns the files written.
func (m *MonitorStats) SavePlots(dir string) ([]string, error) {
	var files []string
	for _, chip := range m.Chips() {
		totFile := filepath.Join(dir, fmt.Sprintf("%s_tot.png", chip.Key))
		if err := saveToTPlot(chip, totFile); err != nil {
			return files, fmt.Errorf("%s: %w", chip.Key, err)
		}
		files = append(files, totFile)

		occupancyFile := filepath.Join(dir, fmt.Sprintf("%s_occupancy.png", chip.Key))
		if err := saveOccupancyPlot(chip, occupancyFile); err != nil {
			return files, fmt.Errorf("%s: %w", chip.Key, err)
		}
		files = append(files, occupancyFile)
	}
	return files, nil
}

func saveToTPlot(chip ChipSnapshot, filename string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Layer %d, Chip %d - ToT", chip.Key.Layer, chip.Key.ChipID)
	p.X.Label.Text = "ToT (us)"
	p.Y.Label.Text = "Hits"

	centers := chip.ToT.Centers()
	xys := make(plotter.XYs, len(centers))
	for i, c := range centers {
		xys[i] = plotter.XY{X: c, Y: chip.ToT.Counts[i]}
	}
	hist, err := plotter.NewHistogram(xys, len(centers))
	if err != nil {
		return err
	}
	p.Add(hist)
	return p.Save(6*vg.Inch, 4*vg.Inch, filename)
}

func saveOccupancyPlot(chip ChipSnapshot, filename string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Layer %d, Chip %d - Occupancy", chip.Key.Layer, chip.Key.ChipID)
	p.X.Label.Text = "Strip"
	p.Y.Label.Text = "Hits"

	rows := make(plotter.XYs, matrixSize)
	cols := make(plotter.XYs, matrixSize)
	for i := 0; i < matrixSize; i++ {
		rows[i] = plotter.XY{X: float64(i), Y: float64(chip.RowCounts[i])}
		cols[i] = plotter.XY{X: float64(i), Y: float64(chip.ColCounts[i])}
	}
	rowLine, err := plotter.NewLine(rows)
	if err != nil {
		return err
	}
	rowLine.Width = vg.Points(1)
	rowLine.Color = color.RGBA{R: 200, A: 255}
	colLine, err := plotter.NewLine(cols)
	if err != nil {
		return err
	}
	colLine.Width = vg.Points(1)
	colLine.Color = color.RGBA{B: 200, A: 255}
	p.Add(rowLine, colLine)
	p.Legend.Add("rows", rowLine)
	p.Legend.Add("columns", colLine)
	return p.Save(6*vg.Inch, 4*vg.Inch, filename)
}
