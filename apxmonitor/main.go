package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	astropix "github.com/AstroPix/astropix-analysis/pkg"
)

var logger astropix.SlogLogger

func init() {
	logger = astropix.NewSlogLogger(slog.LevelInfo)
}

func main() {
	os.Exit(run())
}

func run() int {
	configFilename := flag.String("config", "", "Configuration file path")
	schemaName := flag.String("schema", "", "Chip version (v3, v4, quad)")
	interval := flag.Duration("interval", 0, "Poll interval (configuration value by default)")
	plotDir := flag.String("plots", "", "Directory for the plot snapshots")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: apxmonitor [options] <run.log>")
		return 1
	}

	configuration, err := astropix.LoadConfiguration(*configFilename)
	if err != nil {
		logger.Error(fmt.Errorf("Error reading configuration file: %w", err).Error())
		return 1
	}
	if *schemaName != "" {
		configuration.Schema = *schemaName
	}
	if *interval > 0 {
		configuration.PollInterval = astropix.Duration(*interval)
	}
	if *plotDir != "" {
		configuration.PlotDir = *plotDir
	}
	astropix.SetLogger(logger)
	if configuration.Verbosity > 0 {
		astropix.PrintConfiguration(configuration, logger)
	}

	schema, err := configuration.HitSchema()
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	decoder := astropix.NewLogDecoder(schema)
	decoder.SkipRows = configuration.LogSkipRows(schema)
	decoder.Framer.MaxSegment = configuration.MaxSegment
	stats := astropix.NewMonitorStats()
	poller := astropix.NewLivePoller(flag.Arg(0), decoder, stats)
	poller.Interval = time.Duration(configuration.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(fmt.Sprintf("Monitoring %s every %s", poller.Path, poller.Interval), "main")
	err = poller.Run(ctx, func(hits []astropix.Hit) error {
		stats.AddFramer(decoder.TakeStats())
		stats.Summary(logger)
		if configuration.PlotDir == "" {
			return nil
		}
		files, err := stats.SavePlots(configuration.PlotDir)
		if err != nil {
			logger.Error(fmt.Errorf("Error saving plots: %w", err).Error())
		} else if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("%d plots written to %s", len(files), configuration.PlotDir), "main")
		}
		return nil
	})
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	stats.Summary(logger)
	return 0
}
