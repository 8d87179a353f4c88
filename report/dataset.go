// Package report turns a finished prefixed-schema CSV capture into derived
// metrics and a spreadsheet with charts.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"datalogger"
)

var (
	ErrNoHeader = errors.New("csv has no header row")
	ErrNoRows   = errors.New("csv has no data rows")
)

// Column positions in the prefixed layout.
const (
	colTimestamp = iota
	colTime
	colH1
	colT1
	colH2
	colT2
	colFans
	colPeltier
	requiredColumns
)

// Row is one parsed capture line.
type Row struct {
	Timestamp string
	TimeMS    float64
	H1, T1    float64
	H2, T2    float64
	// Flags holds Fans, Peltier and the remaining actuator columns in order.
	Flags []int
}

func (r Row) Fans() bool    { return r.Flags[0] == 1 }
func (r Row) Peltier() bool { return r.Flags[1] == 1 }

type Dataset struct {
	Path   string
	Header []string
	Rows   []Row
}

// Load reads and validates the capture at path.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ds.Path = path
	return ds, nil
}

// Parse reads a capture in the prefixed layout. It fails on the first row
// that does not fit the header.
func Parse(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}
	reader.FieldsPerRecord = len(header)

	ds := &Dataset{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(ds.Rows)+2, err)
		}
		row, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(ds.Rows)+2, err)
		}
		ds.Rows = append(ds.Rows, row)
	}
	if len(ds.Rows) == 0 {
		return nil, ErrNoRows
	}
	return ds, nil
}

func checkHeader(header []string) error {
	if len(header) == 0 || strings.TrimSpace(header[0]) != datalogger.PrefixedColumns[0] {
		return ErrNoHeader
	}
	if len(header) < requiredColumns {
		return fmt.Errorf("header has %d columns, need at least %d", len(header), requiredColumns)
	}
	for i := 1; i < requiredColumns; i++ {
		if got, want := strings.TrimSpace(header[i]), datalogger.PrefixedColumns[i]; got != want {
			return fmt.Errorf("column %d is %q, want %q", i+1, got, want)
		}
	}
	return nil
}

func parseRow(record []string) (Row, error) {
	nums := make([]float64, colPeltier)
	for i := colTime; i < colFans; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return Row{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		nums[i] = v
	}

	flags := make([]int, 0, len(record)-colFans)
	for i := colFans; i < len(record); i++ {
		v, err := strconv.Atoi(strings.TrimSpace(record[i]))
		if err != nil {
			return Row{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		flags = append(flags, v)
	}

	return Row{
		Timestamp: record[colTimestamp],
		TimeMS:    nums[colTime],
		H1:        nums[colH1],
		T1:        nums[colT1],
		H2:        nums[colH2],
		T2:        nums[colT2],
		Flags:     flags,
	}, nil
}
