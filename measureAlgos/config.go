package main

import (
	"fmt"

	astropix "github.com/AstroPix/astropix-analysis/pkg"
)

type benchmarkConfig struct {
	Input     string
	Output    string
	MinLevel  int
	MaxLevel  int
	Repeats   int
	KeepFiles bool
}

func (c benchmarkConfig) validate() error {
	if c.Input == "" {
		return fmt.Errorf("no input file")
	}
	if c.MinLevel < 0 || c.MaxLevel > 9 || c.MinLevel > c.MaxLevel {
		return fmt.Errorf("invalid compression range %d-%d", c.MinLevel, c.MaxLevel)
	}
	if c.Repeats < 1 {
		return fmt.Errorf("repeats must be positive, got %d", c.Repeats)
	}
	return nil
}

func printBenchmarkConfig(config benchmarkConfig, logger astropix.Logger) {
	logger.Info(fmt.Sprintf("File in: %s", config.Input), "config")
	logger.Info(fmt.Sprintf("File out: %s", config.Output), "config")
	logger.Info(fmt.Sprintf("Compression levels: %d-%d", config.MinLevel, config.MaxLevel), "config")
	logger.Info(fmt.Sprintf("Repeats: %d", config.Repeats), "config")
	logger.Info(fmt.Sprintf("Keep files: %t", config.KeepFiles), "config")
}
