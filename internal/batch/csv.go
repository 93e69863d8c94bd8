package batch

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Fixed export columns, in order, ahead of the dynamic Darwin Core ones.
var csvFixedHeaders = []string{
	"ID",
	"Input",
	"Status",
	"JSON Status",
	"Detected Barcodes",
	"Transcription",
	"Scientific Name",
	"Error",
}

// RecordColumns returns the sorted union of all structured-record keys
// seen across the items. Items that lack a key render an empty cell.
func RecordColumns(items []Item) []string {
	seen := map[string]struct{}{}
	for _, it := range items {
		for k := range it.ParsedData {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// WriteCSV serializes the items as UTF-8 CSV: a header row, then one row
// per item in input order. Every field is double-quoted with embedded
// quotes doubled, including empty and numeric fields, so downstream
// spreadsheet imports never re-type cells.
func WriteCSV(w io.Writer, items []Item) error {
	recordCols := RecordColumns(items)

	header := append(append([]string(nil), csvFixedHeaders...), recordCols...)
	if err := writeRow(w, header); err != nil {
		return err
	}
	for _, it := range items {
		row := []string{
			it.ID,
			it.OriginalInput,
			string(it.Status),
			string(it.ParsingStatus),
			strings.Join(it.DetectedCodes, "; "),
			it.Transcription,
			fieldString(it.ParsedData["dwc:scientificName"]),
			it.Error,
		}
		for _, col := range recordCols {
			row = append(row, fieldString(it.ParsedData[col]))
		}
		if err := writeRow(w, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(w io.Writer, fields []string) error {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	_, err := io.WriteString(w, strings.Join(quoted, ",")+"\r\n")
	return err
}

func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; keep whole numbers integral.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// CSVFilename builds the export filename with an ISO-8601 timestamp.
func CSVFilename(t time.Time) string {
	return fmt.Sprintf("herbarium_export_%s.csv", t.UTC().Format("2006-01-02T15-04-05"))
}
