package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	astropix "github.com/AstroPix/astropix-analysis/pkg"
)

var configuration astropix.Configuration

var logger astropix.SlogLogger

func init() {
	logger = astropix.NewSlogLogger(slog.LevelDebug)
}

func main() {
	os.Exit(run())
}

func run() int {
	configFilename := flag.String("config", "", "Configuration file path")
	outputDir := flag.String("o", "", "Output directory, next to the inputs by default")
	flag.Parse()

	var err error
	configuration, err = astropix.LoadConfiguration(*configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		return 1
	}
	configuration.Inputs = append(configuration.Inputs, flag.Args()...)
	if *outputDir != "" {
		configuration.OutputDir = *outputDir
	}
	astropix.SetLogger(logger)

	if configuration.Verbosity > 0 {
		message := fmt.Sprintf("Reading configuration file: %s", *configFilename)
		logger.Info(message, "main")
		astropix.PrintConfiguration(configuration, logger)
	}

	inputs, err := astropix.ExpandInputs(configuration.Inputs)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	if len(inputs) == 0 {
		logger.Error("No input files")
		return 1
	}
	if configuration.OutputDir != "" {
		if err := os.MkdirAll(configuration.OutputDir, 0o755); err != nil {
			logger.Error(fmt.Errorf("Error creating output directory: %w", err).Error())
			return 1
		}
	}

	var catalog *astropix.Catalog
	if !configuration.NoDB {
		catalog, err = astropix.OpenCatalog(configuration)
		if err != nil {
			message := fmt.Errorf("Error connection to database: %w", err)
			logger.Error(message.Error())
			return 1
		}
		defer catalog.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	results, convErr := astropix.CollectResults(astropix.ConvertFiles(ctx, inputs, configuration))
	for _, result := range results {
		logger.Info(fmt.Sprintf("%s: %d readouts, %d hits, %d unrecoverable fragments",
			result.Job.Input, result.Readouts, result.Hits, result.Framer.UnrecoverableFragments), "main")
		if catalog == nil {
			continue
		}
		for _, record := range result.RunRecords() {
			if err := catalog.RegisterRun(ctx, record); err != nil {
				logger.Error(err.Error())
				convErr = err
			}
		}
	}
	duration := time.Since(start)
	logger.Info(fmt.Sprintf("Converted %d/%d files in %d ms", len(results), len(inputs), duration.Milliseconds()), "main")
	if convErr != nil {
		return 1
	}
	return 0
}
