package datalogger

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the capture timestamp written in the first column.
const TimestampLayout = "2006-01-02 15:04:05.000"

// CSVWriter is the append-only destination file of a session. Every line is
// flushed (and synced when requested) before the write call returns.
type CSVWriter struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	sync   bool
	header string
	closed bool
}

// OpenCSV opens the destination file. With resume set an existing file is
// kept: a torn trailing line is cut off and its header row, if any, is taken
// over so it is never written twice. Otherwise the file is truncated.
func OpenCSV(path string, resume, sync bool) (*CSVWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_RDWR | os.O_TRUNC
	if resume {
		flags = os.O_CREATE | os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	cw := &CSVWriter{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		sync:   sync,
	}
	if resume {
		if err := cw.recover(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return cw, nil
}

func (cw *CSVWriter) recover() error {
	stat, err := cw.file.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if size > 0 {
		end, err := lastLineEnd(cw.file, size)
		if err != nil {
			return fmt.Errorf("scan output tail: %w", err)
		}
		if end != size {
			if err := cw.file.Truncate(end); err != nil {
				return fmt.Errorf("truncate torn line: %w", err)
			}
		}
		size = end
	}
	if size > 0 {
		if _, err := cw.file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		first, err := bufio.NewReader(cw.file).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read existing header: %w", err)
		}
		cw.header = strings.TrimRight(first, "\r\n")
	}
	_, err = cw.file.Seek(0, io.SeekEnd)
	return err
}

// lastLineEnd returns the offset just past the last '\n' in the first size
// bytes of f, or 0 when there is none.
func lastLineEnd(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for off := size; off > 0; {
		n := int64(chunk)
		if off < n {
			n = off
		}
		off -= n
		if _, err := f.ReadAt(buf[:n], off); err != nil && err != io.EOF {
			return 0, err
		}
		if idx := bytes.LastIndexByte(buf[:n], '\n'); idx >= 0 {
			return off + int64(idx) + 1, nil
		}
	}
	return 0, nil
}

func (cw *CSVWriter) Path() string { return cw.path }

func (cw *CSVWriter) HeaderWritten() bool { return cw.header != "" }

// Header returns the header row currently at the top of the file.
func (cw *CSVWriter) Header() string { return cw.header }

// WriteHeader writes row as the first line. Once a header exists further
// calls leave the file untouched.
func (cw *CSVWriter) WriteHeader(row string) error {
	if cw.header != "" {
		return nil
	}
	if err := cw.writeLine(row); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}
	cw.header = row
	return nil
}

// WriteRecord appends "<ts>,<payload>".
func (cw *CSVWriter) WriteRecord(ts time.Time, payload string) error {
	if err := cw.writeLine(ts.Format(TimestampLayout) + "," + payload); err != nil {
		return fmt.Errorf("error writing CSV: %w", err)
	}
	return nil
}

func (cw *CSVWriter) writeLine(line string) error {
	if cw.closed {
		return os.ErrClosed
	}
	if _, err := cw.writer.WriteString(line); err != nil {
		return err
	}
	if err := cw.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := cw.writer.Flush(); err != nil {
		return err
	}
	if cw.sync {
		return cw.file.Sync()
	}
	return nil
}

// Close flushes, syncs and closes the file. Safe to call more than once.
func (cw *CSVWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	flushErr := cw.writer.Flush()
	syncErr := cw.file.Sync()
	closeErr := cw.file.Close()
	for _, err := range []error{flushErr, syncErr, closeErr} {
		if err != nil {
			return err
		}
	}
	return nil
}
