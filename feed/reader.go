package feed

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/poiesic/attrcat/core"
)

// Format is a parsed feed layout.
type Format int

const (
	FormatJSONL Format = iota + 1
	FormatCSV
	FormatTSV
	FormatPSV
)

func (f Format) String() string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatCSV:
		return "csv"
	case FormatTSV:
		return "tsv"
	case FormatPSV:
		return "psv"
	default:
		return "unknown"
	}
}

func (f Format) delimiter() rune {
	switch f {
	case FormatTSV:
		return '\t'
	case FormatPSV:
		return '|'
	default:
		return ','
	}
}

// Compression is the outer encoding of a feed file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// DetectFormat derives the compression and format from a file name.
func DetectFormat(path string) (Compression, Format, error) {
	name := strings.ToLower(filepath.Base(path))
	compression := CompressionNone
	switch ext := filepath.Ext(name); ext {
	case ".gz":
		compression = CompressionGzip
		name = strings.TrimSuffix(name, ext)
	case ".zst", ".zstd":
		compression = CompressionZstd
		name = strings.TrimSuffix(name, ext)
	}

	switch filepath.Ext(name) {
	case ".jsonl", ".ndjson":
		return compression, FormatJSONL, nil
	case ".csv":
		return compression, FormatCSV, nil
	case ".tsv":
		return compression, FormatTSV, nil
	case ".psv":
		return compression, FormatPSV, nil
	}
	return compression, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// Reader yields the records of one feed file.
type Reader struct {
	feed    string
	format  Format
	closers []io.Closer

	// jsonl
	lines *bufio.Reader

	// delimited
	csv    *csv.Reader
	header []string

	line int
}

// Open opens the feed file at path. Records are attributed to feedID.
func Open(feedID, path string) (*Reader, error) {
	compression, format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{feed: feedID, format: format, closers: []io.Closer{f}}

	var src io.Reader = f
	switch compression {
	case CompressionGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("opening gzip feed %s: %w", path, err)
		}
		r.closers = append(r.closers, gz)
		src = gz
	case CompressionZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("opening zstd feed %s: %w", path, err)
		}
		rc := dec.IOReadCloser()
		r.closers = append(r.closers, rc)
		src = rc
	}

	if err := r.init(src); err != nil {
		r.Close()
		return nil, fmt.Errorf("reading feed %s: %w", path, err)
	}
	return r, nil
}

// NewReader reads an uncompressed feed of the given format from src.
func NewReader(feedID string, format Format, src io.Reader) (*Reader, error) {
	r := &Reader{feed: feedID, format: format}
	if err := r.init(src); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) init(src io.Reader) error {
	if r.format == FormatJSONL {
		r.lines = bufio.NewReaderSize(src, 64*1024)
		return nil
	}

	cr := csv.NewReader(bufio.NewReaderSize(src, 64*1024))
	cr.Comma = r.format.delimiter()
	cr.FieldsPerRecord = -1
	if r.format != FormatCSV {
		cr.LazyQuotes = true
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return ErrMissingHeader
	}
	if err != nil {
		return err
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	r.csv = cr
	r.header = header
	r.line = 1
	return nil
}

// Format returns the parsed layout.
func (r *Reader) Format() Format {
	return r.format
}

// Next returns the next record. It returns io.EOF after the last record and
// a *core.RecordError for a malformed row, after which reading may continue.
func (r *Reader) Next() (core.SourceRecord, error) {
	if r.format == FormatJSONL {
		return r.nextJSON()
	}
	return r.nextDelimited()
}

func (r *Reader) nextJSON() (core.SourceRecord, error) {
	for {
		raw, err := r.lines.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			return core.SourceRecord{}, err
		}
		r.line++

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if err != nil {
				return core.SourceRecord{}, err
			}
			continue
		}

		fields, perr := decodeObject(raw)
		if perr != nil {
			return core.SourceRecord{}, r.recordError(perr)
		}
		return core.SourceRecord{Feed: r.feed, Line: r.line, Fields: fields}, nil
	}
}

func decodeObject(raw []byte) (map[string]string, error) {
	if raw[0] != '{' {
		return nil, ErrNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case nil:
		case string:
			fields[k] = t
		case json.Number:
			fields[k] = t.String()
		case bool:
			fields[k] = fmt.Sprint(t)
		default:
			nested, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			fields[k] = string(nested)
		}
	}
	return fields, nil
}

func (r *Reader) nextDelimited() (core.SourceRecord, error) {
	row, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return core.SourceRecord{}, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.line = perr.StartLine
			return core.SourceRecord{}, r.recordError(perr.Err)
		}
		return core.SourceRecord{}, err
	}
	r.line, _ = r.csv.FieldPos(0)

	if len(row) != len(r.header) {
		return core.SourceRecord{}, r.recordError(fmt.Errorf("%w: expected %d, got %d", ErrFieldCount, len(r.header), len(row)))
	}
	fields := make(map[string]string, len(row))
	for i, v := range row {
		if r.header[i] == "" {
			continue
		}
		fields[r.header[i]] = v
	}
	return core.SourceRecord{Feed: r.feed, Line: r.line, Fields: fields}, nil
}

func (r *Reader) recordError(err error) *core.RecordError {
	return &core.RecordError{Feed: r.feed, Line: r.line, Err: err}
}

// Close releases the file and any decompressor.
func (r *Reader) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
