package astropix

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/exp/slices"
)

const CSVExtension = ".csv"

func trimApxExtension(path string) string {
	return strings.TrimSuffix(strings.TrimSuffix(path, XZExtension), FileExtension)
}

// selectColumns validates a column subset against the hit columns of a
// schema. An empty subset selects every column.
func selectColumns(schema *HitSchema, columns []string) ([]int, []string, error) {
	all := HitColumns(schema)
	if len(columns) == 0 {
		columns = all
	}
	index := make([]int, len(columns))
	for i, name := range columns {
		index[i] = slices.Index(all, name)
		if index[i] < 0 {
			return nil, nil, fmt.Errorf("schema %s has no column %q", schema.Name, name)
		}
	}
	return index, columns, nil
}

// HitCSVWriter writes hits as comma separated values, header first.
type HitCSVWriter struct {
	writer *csv.Writer
	index  []int
	Rows   int
}

func NewHitCSVWriter(w io.Writer, schema *HitSchema, columns []string) (*HitCSVWriter, error) {
	index, columns, err := selectColumns(schema, columns)
	if err != nil {
		return nil, err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return nil, err
	}
	return &HitCSVWriter{writer: writer, index: index}, nil
}

func (c *HitCSVWriter) Write(hits []Hit) error {
	for _, hit := range hits {
		record := hit.Record()
		row := make([]string, len(c.index))
		for i, j := range c.index {
			row[i] = record[j]
		}
		if err := c.writer.Write(row); err != nil {
			return err
		}
		c.Rows++
	}
	return nil
}

func (c *HitCSVWriter) Flush() error {
	c.writer.Flush()
	return c.writer.Error()
}

// WriteHitsCSV writes a header and one row per hit.
func WriteHitsCSV(w io.Writer, schema *HitSchema, hits []Hit, columns []string) error {
	writer, err := NewHitCSVWriter(w, schema, columns)
	if err != nil {
		return err
	}
	if err := writer.Write(hits); err != nil {
		return err
	}
	return writer.Flush()
}

// ApxToCSV decodes a .apx file into a CSV table of hits. An empty output
// path replaces the input extension.
func ApxToCSV(inputPath, outputPath string, columns []string) (string, int, error) {
	input, err := OpenFileAuto(inputPath)
	if err != nil {
		return "", 0, err
	}
	defer input.Close()
	if outputPath == "" {
		outputPath = trimApxExtension(input.Filename) + CSVExtension
	}
	logger.Info(fmt.Sprintf("Converting %s to %s", input.Filename, outputPath), "csv")
	out, err := os.Create(outputPath)
	if err != nil {
		return "", 0, &ErrOpenFile{Filename: outputPath, Err: err}
	}
	writer, err := NewHitCSVWriter(out, input.Schema, columns)
	if err != nil {
		out.Close()
		return "", 0, err
	}
	err = DecodeFile(input, func(_ *Readout, hits []Hit) error {
		return writer.Write(hits)
	})
	err = errors.Join(err, writer.Flush(), out.Close())
	if err != nil {
		return "", 0, err
	}
	return outputPath, writer.Rows, nil
}
