package astropix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

const DefaultPollInterval = 10 * time.Second

// LivePoller follows a log file while the acquisition is still writing
// it. Every poll decodes the complete lines appended since the last one;
// a trailing partial line waits for the next poll.
type LivePoller struct {
	Path     string
	Interval time.Duration
	Decoder  *LogDecoder
	Stats    *MonitorStats

	offset  int64
	partial []byte
}

func NewLivePoller(path string, decoder *LogDecoder, stats *MonitorStats) *LivePoller {
	return &LivePoller{Path: path, Interval: DefaultPollInterval, Decoder: decoder, Stats: stats}
}

// Offset is the position in the file up to which lines were consumed.
func (p *LivePoller) Offset() int64 {
	return p.offset - int64(len(p.partial))
}

// PollOnce decodes what was appended to the file and returns the hits.
func (p *LivePoller) PollOnce() ([]Hit, error) {
	file, err := os.Open(p.Path)
	if err != nil {
		return nil, &ErrOpenFile{Filename: p.Path, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < p.offset {
		logger.Info(fmt.Sprintf("%s was truncated, restarting from the beginning", p.Path), "live")
		p.offset = 0
		p.partial = nil
	}
	if _, err := file.Seek(p.offset, io.SeekStart); err != nil {
		return nil, err
	}
	appended, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	p.offset += int64(len(appended))

	data := append(p.partial, appended...)
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		p.partial = data
		return nil, nil
	}
	p.partial = bytes.Clone(data[end+1:])

	var hits []Hit
	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		hits = append(hits, p.Decoder.DecodeLine(string(line))...)
	}
	if p.Stats != nil {
		p.Stats.Fill(hits)
	}
	return hits, nil
}

// Run polls until ctx is done, calling fn after every poll.
func (p *LivePoller) Run(ctx context.Context, fn func([]Hit) error) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		hits, err := p.PollOnce()
		if err != nil {
			logger.Error(fmt.Errorf("error polling %s: %w", p.Path, err).Error())
		} else if fn != nil {
			if err := fn(hits); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
