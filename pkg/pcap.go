package astropix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapStats counts what a capture replay went through.
type PcapStats struct {
	Packets  int
	Readouts int
	Skipped  int
}

// ReplayPcap reads the UDP datagrams of a capture and decodes those sent
// to port as readouts. A zero port accepts every UDP datagram. Gaps and
// carried fragments are handled as in a live multicast stream.
func ReplayPcap(ctx context.Context, path string, port int, schema *HitSchema, fn func(*Readout, []Hit) error) (PcapStats, error) {
	var stats PcapStats
	file, err := os.Open(path)
	if err != nil {
		return stats, &ErrOpenFile{Filename: path, Err: err}
	}
	defer file.Close()

	reader, err := pcapgo.NewReader(file)
	if err != nil {
		return stats, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	receiver := &MulticastReceiver{Schema: schema}
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, _, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			logger.Info(fmt.Sprintf("PCAP file reading complete: %d packets, %d readouts", stats.Packets, stats.Readouts), "pcap")
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("error reading %s: %w", path, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			stats.Skipped++
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			stats.Skipped++
			continue
		}
		readout, hits, err := receiver.handleDatagram(udp.Payload)
		if err != nil {
			logger.Info(fmt.Sprintf("packet %d: %v", stats.Packets, err), "pcap")
			stats.Skipped++
			continue
		}
		stats.Readouts++
		if err := fn(readout, hits); err != nil {
			return stats, err
		}
	}
}
