package astropix

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	LogExtension = ".log"
	optionsKey   = "options"
)

// LogHeader holds the metadata lines at the top of a legacy .log file:
// one "Key: {...}" line per configuration block and the command-line
// options line.
type LogHeader map[string]any

// Options returns the command-line options of the run.
func (h LogHeader) Options() map[string]any {
	options, _ := h[optionsKey].(map[string]any)
	return options
}

// Float returns a numeric command-line option.
func (h LogHeader) Float(key string) (float64, bool) {
	switch v := h.Options()[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func isDataLine(line string) bool {
	return line != "" && line[0] >= '0' && line[0] <= '9'
}

// parseLogHeaderLine adds one metadata line to the header.
func (h LogHeader) parseLine(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}
	if strings.Contains(line, ": {") {
		key, data, _ := strings.Cut(line, ":")
		value, err := parsePyLiteral(data)
		if err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		h[strings.TrimSpace(key)] = value
		return nil
	}
	value, err := parsePyLiteral(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("options line: %w", err)
	}
	h[optionsKey] = value
	return nil
}

// ParseLogHeader reads the metadata lines at the top of a log, stopping
// at the first data line.
func ParseLogHeader(r io.Reader) (LogHeader, error) {
	header := LogHeader{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<24)
	for scanner.Scan() {
		line := scanner.Text()
		if isDataLine(line) {
			break
		}
		if err := header.parseLine(line); err != nil {
			return header, err
		}
	}
	return header, scanner.Err()
}

// LogFile is a read-only view over a legacy .log file.
type LogFile struct {
	Filename string
	Header   LogHeader
	LineNo   int

	in      io.ReadCloser
	reader  *bufio.Reader
	pending string
}

func OpenLogFile(path string) (*LogFile, error) {
	path, err := SanitizePath(path, LogExtension)
	if err != nil {
		return nil, err
	}
	in, err := openInput(path)
	if err != nil {
		return nil, err
	}
	l := &LogFile{Filename: path, Header: LogHeader{}, in: in, reader: bufio.NewReaderSize(in, 1<<16)}
	if err := l.readHeader(); err != nil {
		in.Close()
		return nil, err
	}
	return l, nil
}

func (l *LogFile) readHeader() error {
	for {
		line, err := l.readLine()
		if errors.Is(err, io.EOF) {
			if len(l.Header) > 0 {
				logger.Info(fmt.Sprintf("%s does not seem to contain readout data", l.Filename), "legacy")
			}
			return nil
		}
		if err != nil {
			return err
		}
		if isDataLine(line) {
			l.pending = line
			return nil
		}
		if err := l.Header.parseLine(line); err != nil {
			logger.Error(fmt.Errorf("%s line %d: %w", l.Filename, l.LineNo, err).Error())
		}
	}
}

func (l *LogFile) readLine() (string, error) {
	line, err := l.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	l.LineNo++
	return strings.TrimRight(line, "\r\n"), nil
}

// NextLine returns the next raw data line.
func (l *LogFile) NextLine() (string, error) {
	if l.pending != "" {
		line := l.pending
		l.pending = ""
		return line, nil
	}
	return l.readLine()
}

// Next returns the readout id and the hex payload of the next data line.
// Lines that cannot be parsed are skipped.
func (l *LogFile) Next() (uint32, string, error) {
	for {
		line, err := l.NextLine()
		if err != nil {
			return 0, "", err
		}
		id, payload, ok := strings.Cut(line, "\t")
		readoutID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
		if !ok || err != nil {
			logger.Info(fmt.Sprintf("skipping malformed line %d of %s", l.LineNo, l.Filename), "legacy")
			continue
		}
		payload = strings.TrimPrefix(strings.TrimSpace(payload), "b'")
		payload = strings.TrimSuffix(payload, "'")
		return uint32(readoutID), payload, nil
	}
}

func (l *LogFile) Close() error {
	return l.in.Close()
}

// LogToApx converts a legacy .log file into a .apx file. An empty output
// path replaces the input extension. It returns the output path and the
// number of readouts written.
func LogToApx(inputPath, outputPath string, schema *HitSchema) (string, int, error) {
	input, err := OpenLogFile(inputPath)
	if err != nil {
		return "", 0, err
	}
	defer input.Close()

	if outputPath == "" {
		outputPath = strings.TrimSuffix(strings.TrimSuffix(input.Filename, XZExtension), LogExtension) + FileExtension
	}
	logger.Info(fmt.Sprintf("Converting %s to %s", input.Filename, outputPath), "legacy")
	if len(input.Header) == 0 {
		logger.Info("No metadata found in the input .log file", "legacy")
	}
	metadata := map[string]any(input.Header)
	metadata["run_id"] = uuid.NewString()
	metadata["source"] = input.Filename

	output, err := CreateFile(outputPath, NewFileHeader(schema, metadata))
	if err != nil {
		return "", 0, err
	}
	for {
		readoutID, payload, err := input.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			output.Close()
			return "", 0, err
		}
		// Some readouts of high-rate runs lose their last nibble.
		data, err := hex.DecodeString(payload)
		if err != nil {
			logger.Info(fmt.Sprintf("skipping readout %d: %v", readoutID, err), "legacy")
			continue
		}
		if err := output.WriteReadout(NewReadout(schema, data, readoutID, 0)); err != nil {
			output.Close()
			return "", 0, err
		}
	}
	if err := output.Close(); err != nil {
		return "", 0, err
	}
	if output.NumReadouts == 0 {
		logger.Info("Input file appears to be empty", "legacy")
	}
	return outputPath, output.NumReadouts, nil
}

// LogDecoder decodes legacy log lines directly from their text, as they
// are written. Each hit keeps the line it was found on.
type LogDecoder struct {
	Framer   Framer
	SkipRows int

	state  FramerState
	lineNo int
}

func NewLogDecoder(schema *HitSchema) *LogDecoder {
	return &LogDecoder{Framer: NewFramer(schema)}
}

// DecodeLine frames and decodes one line of text.
func (d *LogDecoder) DecodeLine(line string) []Hit {
	d.lineNo++
	if d.lineNo <= d.SkipRows {
		return nil
	}
	var raw []RawHit
	raw, d.state = d.Framer.FrameText(d.state, line, d.lineNo)
	return d.decode(raw)
}

// Flush decodes what is left in the carry at the end of the log.
func (d *LogDecoder) Flush() []Hit {
	var raw []RawHit
	raw, d.state = d.Framer.Flush(d.state)
	return d.decode(raw)
}

func (d *LogDecoder) decode(raw []RawHit) []Hit {
	hits := make([]Hit, 0, len(raw))
	for _, rh := range raw {
		hit, err := DecodeHit(rh.Data, d.Framer.Schema)
		if err != nil {
			continue
		}
		hit.ReadoutID = uint32(rh.Source)
		hit.DecodeOrder = rh.Order
		hit.Line = rh.Source
		hits = append(hits, hit)
	}
	return hits
}

func (d *LogDecoder) State() FramerState {
	return d.state
}

// TakeStats returns the framing counters gathered since the last call.
func (d *LogDecoder) TakeStats() FramerStats {
	stats := d.state.Stats
	d.state.Stats = FramerStats{}
	return stats
}

func (d *LogDecoder) Lines() int {
	return d.lineNo
}

// DecodeLog decodes a whole text log, calling fn with the hits of every
// line that has any.
func DecodeLog(ctx context.Context, r io.Reader, decoder *LogDecoder, fn func([]Hit) error) error {
	reader := bufio.NewReaderSize(r, 1<<16)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if line != "" {
			if hits := decoder.DecodeLine(line); len(hits) > 0 {
				if err := fn(hits); err != nil {
					return err
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if hits := decoder.Flush(); len(hits) > 0 {
		return fn(hits)
	}
	return nil
}
