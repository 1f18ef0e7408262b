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

const usage = `Usage: apxudp <command> [options]

Commands:
  send <file.apx>      publish the readouts of a file
  receive <file.apx>   write the readouts received to a file
  replay <file.pcap>   decode the readouts of a packet capture
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
	astropix.SetLogger(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "send":
		err = send(ctx, args[1:])
	case "receive":
		err = receive(ctx, args[1:])
	case "replay":
		err = replay(ctx, args[1:])
	default:
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err.Error())
		return 1
	}
	return 0
}

func commonFlags(fs *flag.FlagSet) (*string, *int, *string) {
	configFile := fs.String("config", "", "Configuration file path")
	group := fs.String("group", "", "Multicast group (configuration value by default)")
	port := fs.Int("port", 0, "UDP port (configuration value by default)")
	return configFile, port, group
}

// endpoint fills the group and port left out on the command line.
func endpoint(config astropix.Configuration, group *string, port *int) {
	if *group == "" {
		*group = config.MulticastGroup
	}
	if *port == 0 {
		*port = config.MulticastPort
	}
}

func loadConfiguration(configFile string) (astropix.Configuration, error) {
	config, err := astropix.LoadConfiguration(configFile)
	if err != nil {
		return config, fmt.Errorf("Error reading configuration file: %w", err)
	}
	return config, nil
}

func send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	configFile, port, group := commonFlags(fs)
	sleep := fs.Duration("sleep", 0, "Pause between datagrams")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("send needs one .apx file")
	}
	config, err := loadConfiguration(*configFile)
	if err != nil {
		return err
	}
	endpoint(config, group, port)
	input, err := astropix.OpenFileAuto(fs.Arg(0))
	if err != nil {
		return err
	}
	defer input.Close()

	sender, err := astropix.NewMulticastSender(*group, *port, config.MulticastTTL)
	if err != nil {
		return err
	}
	defer sender.Close()
	logger.Info(fmt.Sprintf("Sending %s to %s", input.Filename, sender.Addr), "send")
	err = sender.SendFile(ctx, input, *sleep)
	logger.Info(fmt.Sprintf("%d readouts sent", sender.Sent), "send")
	return err
}

func receive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	configFile, port, group := commonFlags(fs)
	schemaName := fs.String("schema", "", "Chip version (v3, v4, quad)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("receive needs one output file")
	}
	config, err := loadConfiguration(*configFile)
	if err != nil {
		return err
	}
	endpoint(config, group, port)
	if *schemaName != "" {
		config.Schema = *schemaName
	}
	schema, err := config.HitSchema()
	if err != nil {
		return err
	}

	metadata := map[string]any{"run_id": uuid.NewString(), "source": fmt.Sprintf("udp://%s:%d", *group, *port)}
	output, err := astropix.CreateFile(fs.Arg(0), astropix.NewFileHeader(schema, metadata))
	if err != nil {
		return err
	}
	receiver, err := astropix.NewMulticastReceiver(schema, *group, *port)
	if err != nil {
		return errors.Join(err, output.Close())
	}
	defer receiver.Close()

	logger.Info(fmt.Sprintf("Listening on %s, writing to %s", receiver.Addr, output.Filename), "receive")
	stats := astropix.NewMonitorStats()
	lastReport := time.Now()
	err = receiver.Receive(ctx, func(readout *astropix.Readout, hits []astropix.Hit) error {
		stats.Fill(hits)
		if time.Since(lastReport) > 10*time.Second {
			lastReport = time.Now()
			logger.Info(fmt.Sprintf("%d readouts received, %d lost, %d hits", receiver.Received, receiver.Lost, stats.Hits()), "receive")
		}
		return output.WriteReadout(readout)
	})
	logger.Info(fmt.Sprintf("%d readouts received, %d lost, %d invalid", receiver.Received, receiver.Lost, receiver.Invalid), "receive")
	return errors.Join(err, output.Close())
}

func replay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configFile, port, _ := commonFlags(fs)
	schemaName := fs.String("schema", "", "Chip version (v3, v4, quad)")
	csvOut := fs.String("csv", "", "Write the decoded hits to this CSV file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("replay needs one capture file")
	}
	config, err := loadConfiguration(*configFile)
	if err != nil {
		return err
	}
	if *schemaName != "" {
		config.Schema = *schemaName
	}
	schema, err := config.HitSchema()
	if err != nil {
		return err
	}

	var writer *astropix.HitCSVWriter
	if *csvOut != "" {
		out, err := os.Create(*csvOut)
		if err != nil {
			return err
		}
		defer out.Close()
		if writer, err = astropix.NewHitCSVWriter(out, schema, config.Columns); err != nil {
			return err
		}
	}
	hits := 0
	stats, err := astropix.ReplayPcap(ctx, fs.Arg(0), *port, schema, func(_ *astropix.Readout, decoded []astropix.Hit) error {
		hits += len(decoded)
		if writer == nil {
			return nil
		}
		return writer.Write(decoded)
	})
	if writer != nil {
		err = errors.Join(err, writer.Flush())
	}
	logger.Info(fmt.Sprintf("%d packets, %d readouts, %d skipped, %d hits", stats.Packets, stats.Readouts, stats.Skipped, hits), "replay")
	return err
}
