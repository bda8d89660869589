package ingest

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
)

func writeLine(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte{'\n'})
	return err
}

type wrappedReader struct {
	io.Reader
	file *os.File
}

func (r *wrappedReader) Close() error {
	return r.file.Close()
}

// OpenInput opens a JSON-lines file, transparently decompressing
// paths that end in .xz.
func OpenInput(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".xz") {
		return file, nil
	}
	r, err := xz.NewReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &wrappedReader{Reader: r, file: file}, nil
}

type wrappedWriter struct {
	*xz.Writer
	file *os.File
}

func (w *wrappedWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// CreateOutput creates a JSON-lines file, transparently compressing
// paths that end in .xz.
func CreateOutput(path string) (io.WriteCloser, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".xz") {
		return file, nil
	}
	w, err := xz.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &wrappedWriter{Writer: w, file: file}, nil
}
