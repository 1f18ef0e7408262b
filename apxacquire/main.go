package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	astropix "github.com/AstroPix/astropix-analysis/pkg"
	"github.com/google/uuid"
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
	portName := flag.String("port", "", "Serial port of the readout board")
	schemaName := flag.String("schema", "", "Chip version (v3, v4, quad)")
	duration := flag.Duration("duration", 0, "Stop after this long, run until interrupted by default")
	multicast := flag.Bool("multicast", false, "Also publish every readout on the multicast group")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: apxacquire [options] <output.apx>")
		return 1
	}

	configuration, err := astropix.LoadConfiguration(*configFilename)
	if err != nil {
		logger.Error(fmt.Errorf("Error reading configuration file: %w", err).Error())
		return 1
	}
	if *portName != "" {
		configuration.SerialPort = *portName
	}
	if *schemaName != "" {
		configuration.Schema = *schemaName
	}
	astropix.SetLogger(logger)

	schema, err := configuration.HitSchema()
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	if configuration.SerialPort == "" {
		logger.Error("No serial port configured")
		return 1
	}
	port, err := astropix.OpenSerialPort(configuration.SerialPort, configuration.BaudRate)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	source, err := astropix.NewSerialSource(port, schema, configuration.BlockSize)
	if err != nil {
		port.Close()
		logger.Error(err.Error())
		return 1
	}
	defer source.Close()

	var sender *astropix.MulticastSender
	if *multicast {
		sender, err = astropix.NewMulticastSender(configuration.MulticastGroup, configuration.MulticastPort, configuration.MulticastTTL)
		if err != nil {
			logger.Error(err.Error())
			return 1
		}
		defer sender.Close()
	}

	metadata := map[string]any{
		"run_id":    uuid.NewString(),
		"source":    configuration.SerialPort,
		"baud_rate": configuration.BaudRate,
		"start":     time.Now().UTC().Format(time.RFC3339),
	}
	output, err := astropix.CreateFile(flag.Arg(0), astropix.NewFileHeader(schema, metadata))
	if err != nil {
		logger.Error(err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info(fmt.Sprintf("Acquiring from %s into %s", configuration.SerialPort, output.Filename), "main")
	err = source.Acquire(ctx, output, func(readout *astropix.Readout) error {
		if sender == nil {
			return nil
		}
		return sender.Send(readout)
	})
	err = errors.Join(err, output.Close())
	logger.Info(fmt.Sprintf("%d readouts written to %s", output.NumReadouts, output.Filename), "main")
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	return 0
}
