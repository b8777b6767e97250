package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// CSVExporter writes tabular report data as CSV
type CSVExporter struct {
	writer  *csv.Writer
	options CSVOptions
}

// CSVOptions configures CSV formatting
type CSVOptions struct {
	Delimiter       rune
	TimestampFormat string
	NullValue       string
}

func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:       ',',
		TimestampFormat: time.RFC3339,
		NullValue:       "",
	}
}

func NewCSVExporter(w io.Writer, options CSVOptions) *CSVExporter {
	writer := csv.NewWriter(w)
	writer.Comma = options.Delimiter
	return &CSVExporter{writer: writer, options: options}
}

func (e *CSVExporter) WriteHeader(columns []string) error {
	return e.writer.Write(columns)
}

func (e *CSVExporter) WriteRows(rows [][]interface{}) error {
	for _, row := range rows {
		record := make([]string, len(row))
		for i, val := range row {
			record[i] = e.formatValue(val)
		}
		if err := e.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}

func (e *CSVExporter) Flush() error {
	e.writer.Flush()
	return e.writer.Error()
}

func (e *CSVExporter) formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return e.options.NullValue
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		if v.IsZero() {
			return e.options.NullValue
		}
		return v.Format(e.options.TimestampFormat)
	case *time.Time:
		if v == nil || v.IsZero() {
			return e.options.NullValue
		}
		return v.Format(e.options.TimestampFormat)
	default:
		return fmt.Sprintf("%v", v)
	}
}
