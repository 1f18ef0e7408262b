package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	astropix "github.com/AstroPix/astropix-analysis/pkg"
)

const usage = `Usage: rowcolmatch <file.csv> [options]

Options:
  -q, --quiet           Suppress output
  -l, --layers <int>    Number of layers (default: 3)
  -c, --chips <int>     Number of chips per layer (default: 4)
  --mints <int>         Min TS difference (default: 0)
  --maxts <int>         Max TS difference (default: 1)
  --mintot <int>        Min ToT difference (default: 6)
  --maxtot <int>        Max ToT difference (default: 15)
  --exclusive-tot       Exclude the ToT bounds themselves
`

type options struct {
	filename     string
	quiet        bool
	layers       int
	chips        int
	minTs        int
	maxTs        int
	minToT       int
	maxToT       int
	exclusiveToT bool
}

func parseArgs(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("rowcolmatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.quiet, "q", false, "")
	fs.BoolVar(&opts.quiet, "quiet", false, "")
	fs.IntVar(&opts.layers, "l", 3, "")
	fs.IntVar(&opts.layers, "layers", 3, "")
	fs.IntVar(&opts.chips, "c", 4, "")
	fs.IntVar(&opts.chips, "chips", 4, "")
	fs.IntVar(&opts.minTs, "mints", 0, "")
	fs.IntVar(&opts.maxTs, "maxts", 1, "")
	fs.IntVar(&opts.minToT, "mintot", 6, "")
	fs.IntVar(&opts.maxToT, "maxtot", 15, "")
	fs.BoolVar(&opts.exclusiveToT, "exclusive-tot", false, "")

	// options may come before or after the file name
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return opts, err
		}
		args = fs.Args()
		if len(args) > 0 {
			opts.filename = args[0]
			args = args[1:]
		}
	}
	if opts.filename == "" {
		return opts, fmt.Errorf("no input file")
	}
	return opts, nil
}

func formatPercent(pct float64) string {
	return strconv.FormatFloat(pct, 'g', 6, 64)
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: rowcolmatch <file.csv>")
		return 1
	}
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprint(stdout, usage)
		return 1
	}

	file, err := os.Open(opts.filename)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening file: %v\n", err)
		return 1
	}
	data, err := astropix.ReadHalfHitsCSV(file)
	file.Close()
	if err != nil {
		fmt.Fprintf(stderr, "Error reading %s: %v\n", opts.filename, err)
		return 1
	}

	var valid []astropix.HalfHit
	for _, h := range data {
		if astropix.ValidHalfHit(h) {
			valid = append(valid, h)
		}
	}
	if !opts.quiet {
		pct := 0.
		if len(data) > 0 {
			pct = 100. * float64(len(valid)) / float64(len(data))
		}
		fmt.Fprintf(stdout, "%d decoded halfhits read, %d valid (%s%%)\n", len(data), len(valid), formatPercent(pct))
	}

	policy := astropix.InclusiveMatchPolicy(opts.minTs, opts.maxTs, opts.minToT, opts.maxToT)
	if opts.exclusiveToT {
		policy.ToT = astropix.OpenWindow(opts.minToT, opts.maxToT)
	}
	matches, stats := astropix.MatchGroups(valid, opts.layers, opts.chips, policy)
	if !opts.quiet {
		for _, s := range stats {
			fmt.Fprintf(stdout, "Layer %d, Chip %d: %d halfhits found, %d hits matched (%s%%)\n",
				s.Key.Layer, s.Key.ChipID, s.HalfHits, s.Matches, formatPercent(100.*s.MatchedFraction()))
		}
	}

	outName := astropix.MatchedCSVPath(opts.filename)
	out, err := os.Create(outName)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating %s: %v\n", outName, err)
		return 1
	}
	if err := astropix.WriteMatchedCSV(out, matches); err != nil {
		out.Close()
		fmt.Fprintf(stderr, "Error writing %s: %v\n", outName, err)
		return 1
	}
	if err := out.Close(); err != nil {
		fmt.Fprintf(stderr, "Error writing %s: %v\n", outName, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
