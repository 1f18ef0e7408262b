package astropix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

const RawExtension = ".bin"

// RawToApx splits a raw binary dump of the readout stream into readouts
// of blockSize bytes and writes them to a .apx file. Hits split across
// two blocks are recovered through the carry when the file is decoded.
func RawToApx(inputPath, outputPath string, schema *HitSchema, blockSize int) (string, int, error) {
	inputPath, err := SanitizePath(inputPath, RawExtension)
	if err != nil {
		return "", 0, err
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	in, err := openInput(inputPath)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	if outputPath == "" {
		outputPath = strings.TrimSuffix(strings.TrimSuffix(inputPath, XZExtension), RawExtension) + FileExtension
	}
	logger.Info(fmt.Sprintf("Converting %s to %s", inputPath, outputPath), "raw")
	metadata := map[string]any{"run_id": uuid.NewString(), "source": inputPath, "block_size": blockSize}
	output, err := CreateFile(outputPath, NewFileHeader(schema, metadata))
	if err != nil {
		return "", 0, err
	}
	block := make([]byte, blockSize)
	for id := uint32(0); ; id++ {
		n, err := io.ReadFull(in, block)
		if n > 0 {
			if werr := output.WriteReadout(NewReadout(schema, block[:n], id, 0)); werr != nil {
				return "", 0, errors.Join(werr, output.Close())
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return "", 0, errors.Join(err, output.Close())
		}
	}
	if err := output.Close(); err != nil {
		return "", 0, err
	}
	return outputPath, output.NumReadouts, nil
}

// FrameRaw decodes a raw dump with the block framer alone, without writing
// readouts. Each hit carries the index of its block as readout id. The
// carry left at the end of the file is flushed.
func FrameRaw(ctx context.Context, inputPath string, framer Framer, blockSize int, fn func(Hit) error) (FramerStats, error) {
	inputPath, err := SanitizePath(inputPath, RawExtension)
	if err != nil {
		return FramerStats{}, err
	}
	in, err := openInput(inputPath)
	if err != nil {
		return FramerStats{}, err
	}
	defer in.Close()

	state, err := framer.FrameReader(ctx, in, blockSize, func(raw []RawHit) error {
		for _, rh := range raw {
			hit, err := DecodeHit(rh.Data, framer.Schema)
			if err != nil {
				continue
			}
			hit.ReadoutID = uint32(rh.Source)
			hit.DecodeOrder = rh.Order
			if err := fn(hit); err != nil {
				return err
			}
		}
		return nil
	})
	return state.Stats, err
}
