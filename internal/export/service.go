// Package export produces XLSX workbooks for reviewed batch results.
package export

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/askelva/herbarium-batch/internal/batch"
)

// Service produces XLSX bytes from an item collection. The column layout
// mirrors the CSV export: fixed metadata columns, then the sorted union
// of every structured-record key seen across the items.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ExportXLSX returns an XLSX workbook (as bytes) for the given items.
func (s *Service) ExportXLSX(items []batch.Item) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Specimens"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	recordCols := batch.RecordColumns(items)
	headers := append([]string{
		"ID",
		"Input",
		"Status",
		"JSON Status",
		"Detected Barcodes",
		"Transcription",
		"Scientific Name",
		"Error",
	}, recordCols...)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, it := range items {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, it.ID)
		write(2, it.OriginalInput)
		write(3, string(it.Status))
		write(4, string(it.ParsingStatus))
		write(5, strings.Join(it.DetectedCodes, "; "))
		write(6, truncate(it.Transcription, 2000))
		write(7, recordValue(it, "dwc:scientificName"))
		write(8, it.Error)
		for i, col := range recordCols {
			write(9+i, recordValue(it, col))
		}
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "B", 44) // input
	_ = f.SetColWidth(sheet, "C", "D", 12) // statuses
	_ = f.SetColWidth(sheet, "E", "E", 20) // barcodes
	_ = f.SetColWidth(sheet, "F", "F", 60) // transcription
	_ = f.SetColWidth(sheet, "G", "G", 28) // scientific name
	_ = f.SetColWidth(sheet, "H", "H", 40) // error

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(items),
		"columns", len(headers),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func recordValue(it batch.Item, key string) string {
	v, ok := it.ParsedData[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Filename builds the export filename with an ISO-8601 timestamp,
// matching the CSV convention.
func Filename(t time.Time) string {
	return fmt.Sprintf("herbarium_export_%s.xlsx", t.UTC().Format("2006-01-02T15-04-05"))
}
