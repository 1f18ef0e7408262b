package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	astropix "github.com/AstroPix/astropix-analysis/pkg"
)

var logger astropix.SlogLogger

func init() {
	logger = astropix.NewSlogLogger(slog.LevelDebug)
}

type measurement struct {
	Level    int
	Duration time.Duration
	Size     int64
}

func main() {
	var config benchmarkConfig
	flag.StringVar(&config.Output, "o", "", "Output HDF5 file (temporary by default)")
	flag.IntVar(&config.MinLevel, "min", 0, "Lowest deflate level")
	flag.IntVar(&config.MaxLevel, "max", 9, "Highest deflate level")
	flag.IntVar(&config.Repeats, "repeats", 3, "Conversions per level")
	flag.BoolVar(&config.KeepFiles, "keep", false, "Keep the last output file")
	verbose := flag.Bool("v", false, "Print the benchmark settings")
	flag.Parse()
	config.Input = flag.Arg(0)
	if err := config.validate(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	astropix.SetLogger(logger)

	if config.Output == "" {
		dir, err := os.MkdirTemp("", "measureAlgos")
		if err != nil {
			logger.Error(fmt.Errorf("Error creating temporary directory: %w", err).Error())
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		config.Output = filepath.Join(dir, "benchmark.h5")
	}
	if *verbose {
		printBenchmarkConfig(config, logger)
	}

	start := time.Now()
	results, err := measure(config)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	for _, m := range results {
		fmt.Printf("(hdf5, comp %d) Time: %d ms, size %d bytes\n", m.Level, m.Duration.Milliseconds(), m.Size)
	}
	if !config.KeepFiles {
		os.Remove(config.Output)
	}
	fmt.Printf("Total time: %d ms\n", time.Since(start).Milliseconds())
}

// measure converts the input once per level and repetition.
func measure(config benchmarkConfig) ([]measurement, error) {
	var results []measurement
	for level := config.MinLevel; level <= config.MaxLevel; level++ {
		for i := 0; i < config.Repeats; i++ {
			start := time.Now()
			out, err := astropix.ApxToHDF5(config.Input, config.Output, level)
			if err != nil {
				return results, fmt.Errorf("compression level %d: %w", level, err)
			}
			duration := time.Since(start)
			info, err := os.Stat(out)
			if err != nil {
				return results, fmt.Errorf("Error getting file info: %w", err)
			}
			results = append(results, measurement{Level: level, Duration: duration, Size: info.Size()})
		}
	}
	return results, nil
}
