package astropix

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jmbenlloch/go-hdf5"
)

// HDF5Writer exports decoded readouts: /Run/metadata holds the file
// header, /RD/readouts one row per readout and /Hits/hits one row per hit.
type HDF5Writer struct {
	File           *hdf5.File
	Filename       string
	Schema         *HitSchema
	RunGroup       *hdf5.Group
	RDGroup        *hdf5.Group
	HitsGroup      *hdf5.Group
	MetadataTable  *hdf5.Dataset
	ReadoutTable   *hdf5.Dataset
	HitTable       *hdf5.Dataset
	ReadoutCounter int
	HitCounter     int

	readouts []ReadoutHDF5
	ap3      []AstroPix3HitHDF5
	ap4      []AstroPix4HitHDF5
	quad     []QuadHitHDF5
}

func hitDatatype(schema *HitSchema) interface{} {
	switch schema.UID {
	case AstroPix3.UID:
		return AstroPix3HitHDF5{}
	case AstroPix3Quad.UID:
		return QuadHitHDF5{}
	}
	return AstroPix4HitHDF5{}
}

func NewHDF5Writer(filename string, header FileHeader, compression int) (*HDF5Writer, error) {
	schema, err := SchemaByUID(header.SchemaUID)
	if err != nil {
		return nil, err
	}
	hdf5.SetStringLength(STRLEN)

	writer := &HDF5Writer{Filename: filename, Schema: schema}
	logger.Info(fmt.Sprintf("Creating file: %s", filename), "hdf5writer")
	if writer.File, err = openFile(filename); err != nil {
		return nil, err
	}
	fail := func(err error) (*HDF5Writer, error) {
		return nil, errors.Join(err, writer.Close())
	}
	if writer.RunGroup, err = createGroup(writer.File, "Run"); err != nil {
		return fail(err)
	}
	if writer.RDGroup, err = createGroup(writer.File, "RD"); err != nil {
		return fail(err)
	}
	if writer.HitsGroup, err = createGroup(writer.File, "Hits"); err != nil {
		return fail(err)
	}
	if writer.MetadataTable, err = createTable(writer.RunGroup, "metadata", MetadataHDF5{}, compression); err != nil {
		return fail(err)
	}
	if writer.ReadoutTable, err = createTable(writer.RDGroup, "readouts", ReadoutHDF5{}, compression); err != nil {
		return fail(err)
	}
	if writer.HitTable, err = createTable(writer.HitsGroup, "hits", hitDatatype(schema), compression); err != nil {
		return fail(err)
	}
	if err := writer.writeMetadata(header); err != nil {
		return fail(err)
	}
	return writer, nil
}

// metadataEntries flattens the header into sorted (key, value) rows.
func metadataEntries(header FileHeader) []MetadataHDF5 {
	keys := make([]string, 0, len(header.Metadata))
	for key := range header.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// The array MUST be allocated at creation, if not, HDF5 will panic
	entries := make([]MetadataHDF5, 0, len(keys)+2)
	entries = append(entries,
		MetadataHDF5{key: convertToHdf5String("schema_uid"), value: convertToHdf5Value(fmt.Sprint(header.SchemaUID))},
		MetadataHDF5{key: convertToHdf5String("schema"), value: convertToHdf5Value(header.Schema)},
	)
	for _, key := range keys {
		entries = append(entries, MetadataHDF5{
			key:   convertToHdf5String(key),
			value: convertToHdf5Value(fmt.Sprint(header.Metadata[key])),
		})
	}
	return entries
}

func (w *HDF5Writer) writeMetadata(header FileHeader) error {
	entries := metadataEntries(header)
	return writeArrayToTable(w.MetadataTable, &entries, 0)
}

// WriteReadout decodes the readout if needed and buffers its rows.
func (w *HDF5Writer) WriteReadout(readout *Readout, extra []byte) error {
	if readout.Schema.UID != w.Schema.UID {
		return &ErrSchemaMismatch{Filename: w.Filename, Expected: w.Schema.UID, Found: readout.Schema.UID}
	}
	hits := readout.Decode(extra)
	w.readouts = append(w.readouts, readoutRow(readout))
	w.appendHits(hits)
	if len(w.readouts) >= hitChunkSize || w.pendingHits() >= hitChunkSize {
		return w.Flush()
	}
	return nil
}

// WriteHits buffers hits that do not come from a readout, as in live or
// text-mode decoding.
func (w *HDF5Writer) WriteHits(hits []Hit) error {
	w.appendHits(hits)
	if w.pendingHits() >= hitChunkSize {
		return w.Flush()
	}
	return nil
}

func (w *HDF5Writer) appendHits(hits []Hit) {
	for _, hit := range hits {
		switch w.Schema.UID {
		case AstroPix3.UID:
			w.ap3 = append(w.ap3, astroPix3Row(hit))
		case AstroPix3Quad.UID:
			w.quad = append(w.quad, quadRow(hit))
		default:
			w.ap4 = append(w.ap4, astroPix4Row(hit))
		}
	}
}

func (w *HDF5Writer) pendingHits() int {
	return len(w.ap3) + len(w.ap4) + len(w.quad)
}

func (w *HDF5Writer) Flush() error {
	if err := writeArrayToTable(w.ReadoutTable, &w.readouts, w.ReadoutCounter); err != nil {
		return fmt.Errorf("error writing readouts to %s: %w", w.Filename, err)
	}
	w.ReadoutCounter += len(w.readouts)
	w.readouts = w.readouts[:0]

	var err error
	n := w.pendingHits()
	switch {
	case len(w.ap3) > 0:
		err = writeArrayToTable(w.HitTable, &w.ap3, w.HitCounter)
		w.ap3 = w.ap3[:0]
	case len(w.ap4) > 0:
		err = writeArrayToTable(w.HitTable, &w.ap4, w.HitCounter)
		w.ap4 = w.ap4[:0]
	case len(w.quad) > 0:
		err = writeArrayToTable(w.HitTable, &w.quad, w.HitCounter)
		w.quad = w.quad[:0]
	}
	if err != nil {
		return fmt.Errorf("error writing hits to %s: %w", w.Filename, err)
	}
	w.HitCounter += n
	return nil
}

func (w *HDF5Writer) Close() error {
	var errs []error
	if w.File != nil && w.HitTable != nil {
		if err := w.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.MetadataTable != nil {
		if err := w.MetadataTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing metadata table: %w", err))
		}
	}
	if w.ReadoutTable != nil {
		if err := w.ReadoutTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing readout table: %w", err))
		}
	}
	if w.HitTable != nil {
		if err := w.HitTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing hit table: %w", err))
		}
	}
	if w.RunGroup != nil {
		if err := w.RunGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing run group: %w", err))
		}
	}
	if w.RDGroup != nil {
		if err := w.RDGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing RD group: %w", err))
		}
	}
	if w.HitsGroup != nil {
		if err := w.HitsGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing hits group: %w", err))
		}
	}
	if w.File != nil {
		if err := w.File.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ApxToHDF5 exports a whole .apx file.
func ApxToHDF5(inputPath, outputPath string, compression int) (string, error) {
	input, err := OpenFileAuto(inputPath)
	if err != nil {
		return "", err
	}
	defer input.Close()
	if outputPath == "" {
		outputPath = trimApxExtension(input.Filename) + ".h5"
	}
	writer, err := NewHDF5Writer(outputPath, input.Header, compression)
	if err != nil {
		return "", err
	}
	err = DecodeFile(input, func(readout *Readout, _ []Hit) error {
		return writer.WriteReadout(readout, nil)
	})
	return outputPath, errors.Join(err, writer.Close())
}
