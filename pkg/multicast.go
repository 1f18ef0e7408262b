package astropix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	DefaultMulticastGroup = "224.1.1.1"
	DefaultMulticastPort  = 5007
	DefaultMulticastTTL   = 2

	maxDatagramSize = 65535
	receivePoll     = 500 * time.Millisecond
)

func multicastAddr(group string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(group, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("error resolving multicast address %s:%d: %w", group, port, err)
	}
	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast address", group)
	}
	return addr, nil
}

// MulticastSender publishes readouts, one per datagram, in their binary
// form.
type MulticastSender struct {
	Addr *net.UDPAddr
	Sent int

	conn *net.UDPConn
}

func NewMulticastSender(group string, port int, ttl int) (*MulticastSender, error) {
	addr, err := multicastAddr(group, port)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("error opening udp socket: %w", err)
	}
	if err := ipv4.NewPacketConn(conn).SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error setting multicast ttl: %w", err)
	}
	return &MulticastSender{Addr: addr, conn: conn}, nil
}

func (s *MulticastSender) Send(readout *Readout) error {
	data, err := readout.MarshalBinary()
	if err != nil {
		return err
	}
	if len(data) > maxDatagramSize {
		return fmt.Errorf("readout %d does not fit in a datagram (%d bytes)", readout.ID, len(data))
	}
	if _, err := s.conn.WriteToUDP(data, s.Addr); err != nil {
		return fmt.Errorf("error sending readout %d: %w", readout.ID, err)
	}
	s.Sent++
	return nil
}

// SendFile publishes every readout of an .apx file, sleeping between
// datagrams when sleep is positive.
func (s *MulticastSender) SendFile(ctx context.Context, f *FileReader, sleep time.Duration) error {
	for {
		readout, err := f.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Send(readout); err != nil {
			return err
		}
		if sleep > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *MulticastSender) Close() error {
	return s.conn.Close()
}

// MulticastReceiver listens to a multicast group and decodes the readouts
// it receives. Gaps in the readout ids are counted as lost readouts and
// drop the carried fragment.
type MulticastReceiver struct {
	Schema   *HitSchema
	Addr     *net.UDPAddr
	Received int
	Lost     int
	Invalid  int

	conn   *net.UDPConn
	lastID uint32
	seen   bool
	extra  []byte
}

func NewMulticastReceiver(schema *HitSchema, group string, port int) (*MulticastReceiver, error) {
	addr, err := multicastAddr(group, port)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("error joining %s: %w", addr, err)
	}
	if err := conn.SetReadBuffer(maxDatagramSize * 16); err != nil {
		logger.Info(fmt.Sprintf("could not enlarge the receive buffer: %v", err), "multicast")
	}
	return &MulticastReceiver{Schema: schema, Addr: addr, conn: conn}, nil
}

// handleDatagram decodes one datagram and updates the counters.
func (r *MulticastReceiver) handleDatagram(data []byte) (*Readout, []Hit, error) {
	readout, err := UnmarshalReadout(r.Schema, data)
	if err != nil {
		r.Invalid++
		return nil, nil, err
	}
	r.Received++
	if r.seen && readout.ID != r.lastID+1 {
		if readout.ID > r.lastID {
			r.Lost += int(readout.ID - r.lastID - 1)
		}
		r.extra = nil
	}
	r.seen = true
	r.lastID = readout.ID
	hits := readout.Decode(r.extra)
	r.extra = readout.ExtraBytes()
	return readout, hits, nil
}

// Receive blocks until ctx is done, calling fn for every valid readout.
// Datagrams that are not readouts are logged and dropped.
func (r *MulticastReceiver) Receive(ctx context.Context, fn func(*Readout, []Hit) error) error {
	buf := make([]byte, maxDatagramSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(receivePoll)); err != nil {
			return err
		}
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("error receiving from %s: %w", r.Addr, err)
		}
		readout, hits, err := r.handleDatagram(buf[:n])
		if err != nil {
			logger.Info(fmt.Sprintf("dropping datagram: %v", err), "multicast")
			continue
		}
		if err := fn(readout, hits); err != nil {
			return err
		}
	}
}

func (r *MulticastReceiver) Close() error {
	return r.conn.Close()
}
