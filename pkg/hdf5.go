package astropix

import (
	"fmt"

	"github.com/jmbenlloch/go-hdf5"
)

const STRLEN = 20
const VALUELEN = 128

const hitChunkSize = 32768

type AstroPix3HitHDF5 struct {
	readout_id uint32
	dec_ord    int32
	timestamp  uint64
	chip_id    uint8
	payload    uint8
	column     uint8
	location   uint8
	ts         uint8
	tot        uint16
	tot_us     float64
}

type AstroPix4HitHDF5 struct {
	readout_id uint32
	dec_ord    int32
	timestamp  uint64
	chip_id    uint8
	payload    uint8
	row        uint8
	column     uint8
	ts_neg1    uint8
	ts_coarse1 uint16
	ts_fine1   uint8
	ts_tdc1    uint8
	ts_neg2    uint8
	ts_coarse2 uint16
	ts_fine2   uint8
	ts_tdc2    uint8
	ts_dec1    uint32
	ts_dec2    uint32
	tot_us     float64
}

type QuadHitHDF5 struct {
	readout_id     uint32
	dec_ord        int32
	timestamp      uint64
	layer          uint8
	chip_id        uint8
	payload        uint8
	column         uint8
	location       uint8
	ts             uint8
	tot_total      uint16
	tot_us         float64
	fpga_timestamp uint32
}

type ReadoutHDF5 struct {
	readout_id   uint32
	timestamp    uint64
	nbytes       uint32
	nhits        uint32
	padding      uint32
	idle         uint32
	extra        uint32
	unrecognized uint32
}

type MetadataHDF5 struct {
	key   [STRLEN]byte
	value [VALUELEN]byte
}

func convertToHdf5String(s string) [STRLEN]byte {
	var byteArray [STRLEN]byte
	copy(byteArray[:], s)
	return byteArray
}

func convertToHdf5Value(s string) [VALUELEN]byte {
	var byteArray [VALUELEN]byte
	copy(byteArray[:], s)
	return byteArray
}

func openFile(fname string) (*hdf5.File, error) {
	f, err := hdf5.CreateFile(fname, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, &ErrOpenFile{Filename: fname, Err: err}
	}
	return f, nil
}

func createGroup(file *hdf5.File, groupName string) (*hdf5.Group, error) {
	g, err := file.CreateGroup(groupName)
	if err != nil {
		return nil, &ErrCreateGroup{GroupName: groupName, Err: err}
	}
	return g, nil
}

func createTable(group *hdf5.Group, name string, datatype interface{}, compression int) (*hdf5.Dataset, error) {
	dims := []uint{0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDims := []uint{uint(unlimitedDims)}
	file_space, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer file_space.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	if err := plist.SetChunk([]uint{hitChunkSize}); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	if compression > 0 {
		if err := plist.SetDeflate(compression); err != nil {
			return nil, &ErrCreateTable{TableName: name, Err: err}
		}
	}

	dtype, err := hdf5.NewDatatypeFromValue(datatype)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}

	dset, err := group.CreateDatasetWith(name, dtype, file_space, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dset, nil
}

// writeArrayToTable appends data to a one dimensional table that already
// holds rows entries.
func writeArrayToTable[T any](dataset *hdf5.Dataset, data *[]T, rows int) error {
	length := uint(len(*data))
	if length == 0 {
		return nil
	}
	dims := []uint{length}
	dataspace, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("error creating memory dataspace: %w", err)
	}
	defer dataspace.Close()

	// extend
	rowsInFile := uint(rows)
	newsize := []uint{rowsInFile + length}
	if err := dataset.Resize(newsize); err != nil {
		return fmt.Errorf("error extending table to %d rows: %w", newsize[0], err)
	}
	filespace := dataset.Space()
	defer filespace.Close()

	start := []uint{rowsInFile}
	count := []uint{length}
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return fmt.Errorf("error selecting rows: %w", err)
	}

	if err := dataset.WriteSubset(data, dataspace, filespace); err != nil {
		return fmt.Errorf("error writing %d rows: %w", length, err)
	}
	return nil
}

func astroPix3Row(hit Hit) AstroPix3HitHDF5 {
	tot, _ := hit.Derived("tot")
	totUs, _ := hit.Derived("tot_us")
	return AstroPix3HitHDF5{
		readout_id: hit.ReadoutID,
		dec_ord:    int32(hit.DecodeOrder),
		timestamp:  hit.Timestamp,
		chip_id:    uint8(hit.Uint("chip_id")),
		payload:    uint8(hit.Uint("payload")),
		column:     uint8(hit.Uint("column")),
		location:   uint8(hit.Uint("location")),
		ts:         uint8(hit.Uint("timestamp")),
		tot:        uint16(tot),
		tot_us:     totUs,
	}
}

func astroPix4Row(hit Hit) AstroPix4HitHDF5 {
	dec1, _ := hit.Derived("ts_dec1")
	dec2, _ := hit.Derived("ts_dec2")
	totUs, _ := hit.Derived("tot_us")
	return AstroPix4HitHDF5{
		readout_id: hit.ReadoutID,
		dec_ord:    int32(hit.DecodeOrder),
		timestamp:  hit.Timestamp,
		chip_id:    uint8(hit.Uint("chip_id")),
		payload:    uint8(hit.Uint("payload")),
		row:        uint8(hit.Uint("row")),
		column:     uint8(hit.Uint("column")),
		ts_neg1:    uint8(hit.Uint("ts_neg1")),
		ts_coarse1: uint16(hit.Uint("ts_coarse1")),
		ts_fine1:   uint8(hit.Uint("ts_fine1")),
		ts_tdc1:    uint8(hit.Uint("ts_tdc1")),
		ts_neg2:    uint8(hit.Uint("ts_neg2")),
		ts_coarse2: uint16(hit.Uint("ts_coarse2")),
		ts_fine2:   uint8(hit.Uint("ts_fine2")),
		ts_tdc2:    uint8(hit.Uint("ts_tdc2")),
		ts_dec1:    uint32(dec1),
		ts_dec2:    uint32(dec2),
		tot_us:     totUs,
	}
}

func quadRow(hit Hit) QuadHitHDF5 {
	tot, _ := hit.Derived("tot_total")
	totUs, _ := hit.Derived("tot_us")
	return QuadHitHDF5{
		readout_id:     hit.ReadoutID,
		dec_ord:        int32(hit.DecodeOrder),
		timestamp:      hit.Timestamp,
		layer:          uint8(hit.Uint("layer")),
		chip_id:        uint8(hit.Uint("chip_id")),
		payload:        uint8(hit.Uint("payload")),
		column:         uint8(hit.Uint("column")),
		location:       uint8(hit.Uint("location")),
		ts:             uint8(hit.Uint("timestamp")),
		tot_total:      uint16(tot),
		tot_us:         totUs,
		fpga_timestamp: uint32(hit.Uint("fpga_timestamp")),
	}
}

func readoutRow(readout *Readout) ReadoutHDF5 {
	status := readout.Status()
	return ReadoutHDF5{
		readout_id:   readout.ID,
		timestamp:    readout.Timestamp,
		nbytes:       uint32(len(readout.Data)),
		nhits:        uint32(len(readout.Hits())),
		padding:      uint32(status.PaddingBytes),
		idle:         uint32(status.IdleBytes),
		extra:        uint32(status.ExtraBytes),
		unrecognized: uint32(status.UnrecognizedBytes),
	}
}
