package astropix

import "fmt"

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error { return e.Err }

// ErrCreateGroup represents an error when creating an HDF5 group.
type ErrCreateGroup struct {
	GroupName string
	Err       error
}

func (e *ErrCreateGroup) Error() string {
	return fmt.Sprintf("error creating group %q: %v", e.GroupName, e.Err)
}

func (e *ErrCreateGroup) Unwrap() error { return e.Err }

// ErrCreateTable represents an error when creating an HDF5 table.
type ErrCreateTable struct {
	TableName string
	Err       error
}

func (e *ErrCreateTable) Error() string {
	return fmt.Sprintf("error creating table %q: %v", e.TableName, e.Err)
}

func (e *ErrCreateTable) Unwrap() error { return e.Err }

// ErrMalformedHit is returned when a raw buffer does not have the size of
// the schema it is decoded with.
type ErrMalformedHit struct {
	Schema   string
	Length   int
	Expected int
}

func (e *ErrMalformedHit) Error() string {
	return fmt.Sprintf("malformed %s hit: %d bytes, expected %d", e.Schema, e.Length, e.Expected)
}

// ErrBadMagic is returned when a file does not start with MAGIC.
type ErrBadMagic struct {
	Filename string
	Magic    []byte
}

func (e *ErrBadMagic) Error() string {
	return fmt.Sprintf("bad magic number in %q: %q, expected %q", e.Filename, e.Magic, Magic)
}

// ErrCorruptedHeader is returned when the file header cannot be parsed.
type ErrCorruptedHeader struct {
	Filename string
	Err      error
}

func (e *ErrCorruptedHeader) Error() string {
	return fmt.Sprintf("corrupted header in %q: %v", e.Filename, e.Err)
}

func (e *ErrCorruptedHeader) Unwrap() error { return e.Err }

// ErrSchemaMismatch is returned when a file declares a schema other than
// the one requested by the reader.
type ErrSchemaMismatch struct {
	Filename string
	Expected uint32
	Found    uint32
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch in %q: file declares uid %d, reader expects %d", e.Filename, e.Found, e.Expected)
}

type ErrUnknownSchema struct {
	Name string
}

func (e *ErrUnknownSchema) Error() string {
	return fmt.Sprintf("unknown hit schema %s", e.Name)
}

// ErrBadReadout is returned when a serialized readout is truncated or
// does not start with the readout marker.
type ErrBadReadout struct {
	Reason string
}

func (e *ErrBadReadout) Error() string {
	return fmt.Sprintf("invalid readout: %s", e.Reason)
}
