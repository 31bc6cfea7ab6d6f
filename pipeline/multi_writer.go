package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/aluiziolira/go-price-compare/models"
)

// MultiWriter fans each batch out to several named outputs. A failing output is reported
// but does not keep the batch from the others.
type MultiWriter struct {
	mu      sync.Mutex
	outputs []namedOutput
}

type namedOutput struct {
	name   string
	writer OutputWriter
}

// NewMultiWriter returns an empty fan-out; register outputs with Add.
func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

// Add registers w under name, used to label its errors.
func (mw *MultiWriter) Add(name string, w OutputWriter) *MultiWriter {
	mw.mu.Lock()
	mw.outputs = append(mw.outputs, namedOutput{name: name, writer: w})
	mw.mu.Unlock()
	return mw
}

// NewDualWriter writes the same listings as CSV and as JSON lines.
func NewDualWriter(csvFilename, jsonFilename string) (*MultiWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, err
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		_ = csvWriter.Close()
		return nil, err
	}
	return NewMultiWriter().Add("csv", csvWriter).Add("jsonl", jsonWriter), nil
}

func (mw *MultiWriter) Write(products []*models.ScrapedProduct) error {
	return mw.each(func(w OutputWriter) error { return w.Write(products) })
}

func (mw *MultiWriter) Close() error {
	return mw.each(OutputWriter.Close)
}

func (mw *MultiWriter) Validate() error {
	return mw.each(OutputWriter.Validate)
}

func (mw *MultiWriter) each(fn func(OutputWriter) error) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, out := range mw.outputs {
		if err := fn(out.writer); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", out.name, err))
		}
	}
	return errors.Join(errs...)
}

// SourceSplitWriter keeps one JSON lines file per source under dir, named after the
// source id. Files are created on the first listing from that source.
type SourceSplitWriter struct {
	dir string

	mu      sync.Mutex
	writers map[string]*JSONWriter
}

// NewSourceSplitWriter creates dir if needed.
func NewSourceSplitWriter(dir string) (*SourceSplitWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", dir, err)
	}
	return &SourceSplitWriter{dir: dir, writers: make(map[string]*JSONWriter)}, nil
}

// Path returns the file that listings of sourceID are written to.
func (sw *SourceSplitWriter) Path(sourceID string) string {
	return filepath.Join(sw.dir, sourceFileName(sourceID)+".jsonl")
}

func (sw *SourceSplitWriter) Write(products []*models.ScrapedProduct) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	bySource := make(map[string][]*models.ScrapedProduct)
	var order []string
	for _, p := range products {
		if _, ok := bySource[p.SourceID]; !ok {
			order = append(order, p.SourceID)
		}
		bySource[p.SourceID] = append(bySource[p.SourceID], p)
	}

	for _, id := range order {
		w, ok := sw.writers[id]
		if !ok {
			var err error
			if w, err = NewJSONWriter(sw.Path(id)); err != nil {
				return err
			}
			sw.writers[id] = w
		}
		if err := w.Write(bySource[id]); err != nil {
			return fmt.Errorf("source %s: %w", id, err)
		}
	}
	return nil
}

func (sw *SourceSplitWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	var errs []error
	for id, w := range sw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Validate fails when no source produced a file or any file is empty.
func (sw *SourceSplitWriter) Validate() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.writers) == 0 {
		return fmt.Errorf("no per-source files written to %s", sw.dir)
	}
	var errs []error
	for id, w := range sw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func sourceFileName(id string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, strings.TrimSpace(id))
	if name == "" {
		return "unknown"
	}
	return name
}
