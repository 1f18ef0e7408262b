package astropix

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Output formats produced by ConvertFile.
const (
	FormatApx  = "apx"
	FormatCSV  = "csv"
	FormatHDF5 = "hdf5"
)

type ConversionJob struct {
	ID    int
	Input string
}

// ConversionResult describes one converted input. Err is set when the
// conversion failed; the outputs written before the failure are listed.
type ConversionResult struct {
	Job      ConversionJob
	RunID    string
	Schema   *HitSchema
	Outputs  map[string]string
	Readouts int
	Hits     int
	Framer   FramerStats
	Err      error
}

func outputPath(input, dir, extension string) string {
	base := filepath.Base(input)
	for _, ext := range []string{XZExtension, LogExtension, RawExtension, FileExtension} {
		base = strings.TrimSuffix(base, ext)
	}
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, base+extension)
}

func isLegacyLog(path string) bool {
	return strings.HasSuffix(strings.TrimSuffix(path, XZExtension), LogExtension)
}

func isRawDump(path string) bool {
	return strings.HasSuffix(strings.TrimSuffix(path, XZExtension), RawExtension)
}

// ConvertFile brings one input to .apx, if it is not already one, and
// exports it to the other configured formats. Raw dumps are counted from
// the block framer directly.
func ConvertFile(ctx context.Context, job ConversionJob, config Configuration) ConversionResult {
	result := ConversionResult{Job: job, Outputs: map[string]string{}}
	schema, err := config.HitSchema()
	if err != nil {
		result.Err = err
		return result
	}

	apx := job.Input
	raw := isRawDump(job.Input)
	switch {
	case isLegacyLog(job.Input):
		apx, _, err = LogToApx(job.Input, outputPath(job.Input, config.OutputDir, FileExtension), schema)
	case raw:
		apx, result.Readouts, err = RawToApx(job.Input, outputPath(job.Input, config.OutputDir, FileExtension), schema, config.BlockSize)
		if err == nil {
			err = countRawHits(ctx, job.Input, schema, config, &result)
		}
	}
	if err != nil {
		result.Err = fmt.Errorf("error converting %s: %w", job.Input, err)
		return result
	}
	result.Outputs[FormatApx] = apx

	header, err := ReadFileHeader(apx)
	if err != nil {
		result.Err = err
		return result
	}
	if result.Schema, err = SchemaByUID(header.SchemaUID); err != nil {
		result.Err = err
		return result
	}
	result.RunID, _ = header.Metadata["run_id"].(string)
	if result.RunID == "" {
		result.RunID = uuid.NewString()
	}

	if !raw {
		if err := countHits(apx, &result); err != nil {
			result.Err = err
			return result
		}
	}
	if slices.Contains(config.Formats, FormatCSV) {
		out, _, err := ApxToCSV(apx, outputPath(apx, config.OutputDir, CSVExtension), config.Columns)
		if err != nil {
			result.Err = err
			return result
		}
		result.Outputs[FormatCSV] = out
	}
	if slices.Contains(config.Formats, FormatHDF5) {
		out, err := ApxToHDF5(apx, outputPath(apx, config.OutputDir, ".h5"), config.CompressionLevel)
		if err != nil {
			result.Err = err
			return result
		}
		result.Outputs[FormatHDF5] = out
	}
	return result
}

func countHits(apx string, result *ConversionResult) error {
	input, err := OpenFileAuto(apx)
	if err != nil {
		return err
	}
	defer input.Close()
	return DecodeFile(input, func(readout *Readout, hits []Hit) error {
		result.Readouts++
		result.Hits += len(hits)
		result.Framer.add(readout.Status().Framer)
		return nil
	})
}

func countRawHits(ctx context.Context, path string, schema *HitSchema, config Configuration, result *ConversionResult) error {
	framer := NewFramer(schema)
	framer.MaxSegment = config.MaxSegment
	stats, err := FrameRaw(ctx, path, framer, config.BlockSize, func(Hit) error {
		result.Hits++
		return nil
	})
	result.Framer = stats
	return err
}

func worker(ctx context.Context, id int, config Configuration, jobs <-chan ConversionJob, results chan<- ConversionResult) {
	for job := range jobs {
		if config.Verbosity > 1 {
			logger.Info(fmt.Sprintf("Worker %d processing %s", id, job.Input), "workers")
		}
		results <- convertRecovering(ctx, job, config)
	}
}

func convertRecovering(ctx context.Context, job ConversionJob, config Configuration) (result ConversionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ConversionResult{Job: job, Err: fmt.Errorf("panic converting %s: %v", job.Input, r)}
		}
	}()
	return ConvertFile(ctx, job, config)
}

// ConvertFiles converts inputs with config.NumWorkers workers. Results
// arrive in completion order; the channel is closed when all are done or
// ctx is cancelled.
func ConvertFiles(ctx context.Context, inputs []string, config Configuration) <-chan ConversionResult {
	numWorkers := config.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	jobs := make(chan ConversionJob)
	results := make(chan ConversionResult, len(inputs))

	var wg sync.WaitGroup
	for w := 1; w <= numWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(ctx, id, config, jobs, results)
		}(w)
	}
	go func() {
		defer close(jobs)
		for i, input := range inputs {
			select {
			case jobs <- ConversionJob{ID: i, Input: input}:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// RunRecords turns a successful result into catalog entries, one per
// output format.
func (r ConversionResult) RunRecords() []RunRecord {
	if r.Err != nil || r.Schema == nil {
		return nil
	}
	formats := make([]string, 0, len(r.Outputs))
	for format := range r.Outputs {
		formats = append(formats, format)
	}
	slices.Sort(formats)
	records := make([]RunRecord, 0, len(formats))
	for _, format := range formats {
		runID := r.RunID
		if format != FormatApx {
			runID = r.RunID + "/" + format
		}
		records = append(records, RunRecord{
			RunID:      runID,
			Source:     r.Job.Input,
			Output:     r.Outputs[format],
			Format:     format,
			SchemaUID:  r.Schema.UID,
			SchemaName: r.Schema.Name,
			Readouts:   r.Readouts,
			Hits:       r.Hits,
		})
	}
	return records
}

// CollectResults drains results, logging failures, and returns the
// successful ones with the joined errors.
func CollectResults(results <-chan ConversionResult) ([]ConversionResult, error) {
	var ok []ConversionResult
	var errs []error
	for result := range results {
		if result.Err != nil {
			logger.Error(result.Err.Error())
			errs = append(errs, result.Err)
			continue
		}
		ok = append(ok, result)
	}
	slices.SortFunc(ok, func(a, b ConversionResult) int { return a.Job.ID - b.Job.ID })
	return ok, errors.Join(errs...)
}
