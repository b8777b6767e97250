package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter writes tabular report data to an xlsx workbook
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
}

// ExcelOptions configures workbook styling
type ExcelOptions struct {
	SheetName    string
	FreezeHeader bool
	AutoFilter   bool
	NumberFormat string
}

func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:    "Report",
		FreezeHeader: true,
		AutoFilter:   true,
		NumberFormat: "#,##0.0000",
	}
}

func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	file.SetSheetName("Sheet1", options.SheetName)
	return &ExcelExporter{file: file, options: options}
}

// AddSheet appends a new sheet and makes subsequent writes target it
func (e *ExcelExporter) AddSheet(name string) error {
	if _, err := e.file.NewSheet(name); err != nil {
		return err
	}
	e.options.SheetName = name
	return nil
}

// WriteHeader writes a styled header row on the current sheet
func (e *ExcelExporter) WriteHeader(columns []string) error {
	styleID, err := e.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		e.file.SetCellValue(e.options.SheetName, cell, col)
		e.file.SetCellStyle(e.options.SheetName, cell, cell, styleID)
	}

	if e.options.FreezeHeader {
		e.file.SetPanes(e.options.SheetName, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	if e.options.AutoFilter && len(columns) > 0 {
		lastCol, _ := excelize.CoordinatesToCellName(len(columns), 1)
		e.file.AutoFilter(e.options.SheetName, "A1:"+lastCol, nil)
	}
	return nil
}

// WriteRows writes data rows beneath the header and auto-sizes columns
func (e *ExcelExporter) WriteRows(rows [][]interface{}) error {
	widths := make(map[int]float64)

	for rowIdx, row := range rows {
		for colIdx, val := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := e.setCellValue(cell, val); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
			if w := estimateWidth(val); w > widths[colIdx] {
				widths[colIdx] = w
			}
		}
	}

	for colIdx, width := range widths {
		if width < 10 {
			width = 10
		}
		if width > 50 {
			width = 50
		}
		colName, _ := excelize.ColumnNumberToName(colIdx + 1)
		e.file.SetColWidth(e.options.SheetName, colName, colName, width)
	}
	return nil
}

// WriteTo serializes the workbook
func (e *ExcelExporter) WriteTo(w io.Writer) error {
	return e.file.Write(w)
}

func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) setCellValue(cell string, val interface{}) error {
	sheet := e.options.SheetName
	switch v := val.(type) {
	case nil:
		return e.file.SetCellValue(sheet, cell, "")
	case *time.Time:
		if v == nil || v.IsZero() {
			return e.file.SetCellValue(sheet, cell, "")
		}
		return e.setTimeCell(cell, *v)
	case time.Time:
		return e.setTimeCell(cell, v)
	case float64, float32:
		if err := e.file.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		style, _ := e.file.NewStyle(&excelize.Style{CustomNumFmt: &e.options.NumberFormat})
		return e.file.SetCellStyle(sheet, cell, cell, style)
	default:
		return e.file.SetCellValue(sheet, cell, v)
	}
}

func (e *ExcelExporter) setTimeCell(cell string, t time.Time) error {
	if err := e.file.SetCellValue(e.options.SheetName, cell, t); err != nil {
		return err
	}
	style, _ := e.file.NewStyle(&excelize.Style{NumFmt: 22}) // m/d/yy h:mm
	return e.file.SetCellStyle(e.options.SheetName, cell, cell, style)
}

func estimateWidth(val interface{}) float64 {
	if val == nil {
		return 0
	}
	return float64(len(fmt.Sprintf("%v", val))) * 1.2
}
