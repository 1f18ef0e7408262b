package astropix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

const DefaultSerialReadTimeout = 100 * time.Millisecond

// SerialPort is the part of a serial port the acquisition uses.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenSerialPort opens the readout board port, 8N1.
func OpenSerialPort(portName string, baudRate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %s: %w", portName, err)
	}
	return port, nil
}

// SerialSource turns the byte stream of a serial port into readouts. Each
// read of up to BlockSize bytes is one readout.
type SerialSource struct {
	Port      SerialPort
	Schema    *HitSchema
	BlockSize int
	NextID    uint32
}

func NewSerialSource(port SerialPort, schema *HitSchema, blockSize int) (*SerialSource, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if err := port.SetReadTimeout(DefaultSerialReadTimeout); err != nil {
		return nil, fmt.Errorf("error setting serial read timeout: %w", err)
	}
	return &SerialSource{Port: port, Schema: schema, BlockSize: blockSize}, nil
}

// ReadReadout blocks until the port returns data. Reads that time out
// without data are retried until ctx is done.
func (s *SerialSource) ReadReadout(ctx context.Context) (*Readout, error) {
	buf := make([]byte, s.BlockSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.Port.Read(buf)
		if n > 0 {
			readout := NewReadout(s.Schema, buf[:n], s.NextID, LatchNs())
			if len(readout.Data) > 0 {
				s.NextID++
				return readout, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// Acquire writes readouts to w until ctx is done or the port fails.
func (s *SerialSource) Acquire(ctx context.Context, w *FileWriter, fn func(*Readout) error) error {
	for {
		readout, err := s.ReadReadout(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.WriteReadout(readout); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(readout); err != nil {
				return err
			}
		}
	}
}

func (s *SerialSource) Close() error {
	return s.Port.Close()
}
