package astropix

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

const (
	Magic         = "%APXDF"
	FileExtension = ".apx"
	// Files whose name ends with XZExtension are xz-compressed.
	XZExtension = ".xz"

	maxHeaderLength = 64 << 20
)

// FileHeader is the JSON document at the top of every .apx file.
type FileHeader struct {
	SchemaUID uint32         `json:"schema_uid"`
	Schema    string         `json:"schema,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewFileHeader(schema *HitSchema, metadata map[string]any) FileHeader {
	return FileHeader{SchemaUID: schema.UID, Schema: schema.Name, Metadata: metadata}
}

// ContentEqual compares the JSON serializations of two headers.
func (h FileHeader) ContentEqual(other FileHeader) bool {
	a, errA := json.Marshal(h)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func WriteHeader(w io.Writer, header FileHeader) error {
	content, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("error encoding file header: %w", err)
	}
	buf := make([]byte, 0, len(Magic)+4+len(content))
	buf = append(buf, Magic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(content)))
	buf = append(buf, content...)
	_, err = w.Write(buf)
	return err
}

// ReadHeader reads magic number and header, leaving r at the first readout.
func ReadHeader(r io.Reader, filename string) (FileHeader, error) {
	var header FileHeader
	magic := make([]byte, len(Magic))
	n, err := io.ReadFull(r, magic)
	if err != nil || string(magic) != Magic {
		return header, &ErrBadMagic{Filename: filename, Magic: magic[:n]}
	}
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return header, &ErrCorruptedHeader{Filename: filename, Err: fmt.Errorf("reading header length: %w", err)}
	}
	if length > maxHeaderLength {
		return header, &ErrCorruptedHeader{Filename: filename, Err: fmt.Errorf("header length %d", length)}
	}
	content := make([]byte, length)
	if _, err := io.ReadFull(r, content); err != nil {
		return header, &ErrCorruptedHeader{Filename: filename, Err: fmt.Errorf("reading header: %w", err)}
	}
	if err := json.Unmarshal(content, &header); err != nil {
		return header, &ErrCorruptedHeader{Filename: filename, Err: err}
	}
	return header, nil
}

// SanitizePath checks that path carries the given extension, optionally
// followed by the xz suffix.
func SanitizePath(path string, extension string) (string, error) {
	path = filepath.Clean(path)
	name := strings.TrimSuffix(path, XZExtension)
	if filepath.Ext(name) != extension {
		return path, fmt.Errorf("%q is not a %s file", path, extension)
	}
	return path, nil
}

func compressed(path string) bool {
	return strings.HasSuffix(path, XZExtension)
}

type readCloser struct {
	io.Reader
	file *os.File
}

func (r readCloser) Close() error {
	return r.file.Close()
}

// openInput opens a file for buffered reading, decompressing .xz files.
func openInput(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ErrOpenFile{Filename: path, Err: err}
	}
	var r io.Reader = file
	if compressed(path) {
		xzReader, err := xz.NewReader(bufio.NewReader(file))
		if err != nil {
			file.Close()
			return nil, &ErrOpenFile{Filename: path, Err: err}
		}
		r = xzReader
	}
	return readCloser{Reader: bufio.NewReader(r), file: file}, nil
}

type FileWriter struct {
	Filename    string
	Header      FileHeader
	NumReadouts int

	file *os.File
	xz   *xz.Writer
	buf  *bufio.Writer
}

// CreateFile creates a .apx file and writes its header right away, so
// that the file is valid even if no readout is ever written.
func CreateFile(path string, header FileHeader) (*FileWriter, error) {
	path, err := SanitizePath(path, FileExtension)
	if err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, &ErrOpenFile{Filename: path, Err: err}
	}
	w := &FileWriter{Filename: path, Header: header, file: file}
	var out io.Writer = file
	if compressed(path) {
		w.xz, err = xz.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, &ErrOpenFile{Filename: path, Err: err}
		}
		out = w.xz
	}
	w.buf = bufio.NewWriter(out)
	if err := WriteHeader(w.buf, header); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.buf.Flush(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) WriteReadout(readout *Readout) error {
	if readout.Schema.UID != w.Header.SchemaUID {
		return &ErrSchemaMismatch{Filename: w.Filename, Expected: w.Header.SchemaUID, Found: readout.Schema.UID}
	}
	if _, err := readout.WriteTo(w.buf); err != nil {
		return fmt.Errorf("error writing readout %d: %w", readout.ID, err)
	}
	w.NumReadouts++
	return nil
}

func (w *FileWriter) Close() error {
	var errs []error
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, err)
	}
	if w.xz != nil {
		if err := w.xz.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FileReader iterates forward over the readouts of a .apx file.
type FileReader struct {
	Filename    string
	Header      FileHeader
	Schema      *HitSchema
	NumReadouts int

	in   io.ReadCloser
	done bool
}

// OpenFile opens a .apx file for reading. The file must declare the uid of
// the schema the caller expects.
func OpenFile(path string, schema *HitSchema) (*FileReader, error) {
	path, err := SanitizePath(path, FileExtension)
	if err != nil {
		return nil, err
	}
	in, err := openInput(path)
	if err != nil {
		return nil, err
	}
	header, err := ReadHeader(in, path)
	if err != nil {
		in.Close()
		return nil, err
	}
	if header.SchemaUID != schema.UID {
		in.Close()
		return nil, &ErrSchemaMismatch{Filename: path, Expected: schema.UID, Found: header.SchemaUID}
	}
	return &FileReader{Filename: path, Header: header, Schema: schema, in: in}, nil
}

// OpenFileAuto opens a .apx file with the schema its header declares.
func OpenFileAuto(path string) (*FileReader, error) {
	header, err := ReadFileHeader(path)
	if err != nil {
		return nil, err
	}
	schema, err := SchemaByUID(header.SchemaUID)
	if err != nil {
		return nil, err
	}
	return OpenFile(path, schema)
}

// Next returns the next readout, or io.EOF once the stream is exhausted.
func (f *FileReader) Next() (*Readout, error) {
	if f.done {
		return nil, io.EOF
	}
	readout, err := ReadReadout(f.in, f.Schema)
	if err != nil {
		f.done = true
		if !errors.Is(err, io.EOF) {
			err = fmt.Errorf("error reading readout %d of %q: %w", f.NumReadouts, f.Filename, err)
		}
		return nil, err
	}
	f.NumReadouts++
	return readout, nil
}

func (f *FileReader) Close() error {
	return f.in.Close()
}

// ReadFileHeader reads the header of a .apx file without touching the
// readouts and without knowing their schema.
func ReadFileHeader(path string) (FileHeader, error) {
	path, err := SanitizePath(path, FileExtension)
	if err != nil {
		return FileHeader{}, err
	}
	in, err := openInput(path)
	if err != nil {
		return FileHeader{}, err
	}
	defer in.Close()
	return ReadHeader(in, path)
}

// DecodeFile decodes every readout of an open file in order, carrying the
// split fragments from one readout to the next.
func DecodeFile(f *FileReader, fn func(readout *Readout, hits []Hit) error) error {
	var extra []byte
	for {
		readout, err := f.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		hits := readout.Decode(extra)
		extra = readout.ExtraBytes()
		if err := fn(readout, hits); err != nil {
			return err
		}
	}
}
