package sessionlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// CSVSink writes rows to a CSV file and flushes after each one so an abrupt
// exit loses at most the row being written.
type CSVSink struct {
	f   *os.File
	w   *csv.Writer
	rec []string

	closeOnce sync.Once
	closeErr  error
}

// NewCSVSink opens path for appending, creating it if needed. Every session
// starts with its own header row, so earlier sessions in the file survive.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening csv log: %w", err)
	}
	return &CSVSink{f: f, w: csv.NewWriter(f)}, nil
}

func (c *CSVSink) WriteHeader(columns []string) error {
	return c.write(columns)
}

func (c *CSVSink) WriteRow(values []float64) error {
	c.rec = c.rec[:0]
	for _, v := range values {
		c.rec = append(c.rec, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return c.write(c.rec)
}

func (c *CSVSink) write(rec []string) error {
	if err := c.w.Write(rec); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVSink) Close() error {
	c.closeOnce.Do(func() {
		c.w.Flush()
		c.closeErr = c.w.Error()
		if err := c.f.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}
