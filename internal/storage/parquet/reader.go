package parquet

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/aispark/pdmcore/internal/storage/types"
)

// ReadingReader reads readings from a Parquet file.
type ReadingReader struct {
	file   *os.File
	reader *parquet.GenericReader[ReadingRow]
	path   string
}

// NewReadingReader creates a new reading Parquet reader.
func NewReadingReader(path string) (*ReadingReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[ReadingRow](f)

	return &ReadingReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n readings from the file.
func (r *ReadingReader) Read(n int) ([]types.Reading, error) {
	rows := make([]ReadingRow, n)
	count, err := r.reader.Read(rows)
	if err != nil {
		return nil, err
	}

	readings := make([]types.Reading, count)
	for i := 0; i < count; i++ {
		readings[i] = RowToReading(&rows[i])
	}

	return readings, nil
}

// ReadAll reads all readings from the file.
func (r *ReadingReader) ReadAll() ([]types.Reading, error) {
	numRows := r.reader.NumRows()
	rows := make([]ReadingRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil {
		return nil, err
	}

	readings := make([]types.Reading, n)
	for i := 0; i < n; i++ {
		readings[i] = RowToReading(&rows[i])
	}

	return readings, nil
}

// NumRows returns the total number of rows in the file.
func (r *ReadingReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *ReadingReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *ReadingReader) Path() string {
	return r.path
}

// ReadFile is a convenience function to read all readings from a file.
func ReadFile(path string) ([]types.Reading, error) {
	r, err := NewReadingReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[ReadingRow](f)
	defer reader.Close()

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: reader.NumRows(),
	}, nil
}
