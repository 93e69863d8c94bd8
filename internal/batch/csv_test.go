package batch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askelva/herbarium-batch/constants"
)

func TestWriteCSVColumnUnion(t *testing.T) {
	items := []Item{
		{
			ID: "a", OriginalInput: "in-a", Status: constants.ItemCompleted,
			ParsingStatus: constants.ParseClean,
			ParsedData:    map[string]any{"dwc:country": "NO"},
		},
		{
			ID: "b", OriginalInput: "in-b", Status: constants.ItemCompleted,
			ParsingStatus: constants.ParseClean,
			ParsedData:    map[string]any{"dwc:locality": "Oslo"},
		},
	}

	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, items))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\r\n")
	require.Len(t, lines, 3)

	header := lines[0]
	assert.Contains(t, header, `"dwc:country","dwc:locality"`, "union of keys, sorted")

	// Each row leaves the other item's unique column empty.
	assert.True(t, strings.HasSuffix(lines[1], `"NO",""`), "row a: %s", lines[1])
	assert.True(t, strings.HasSuffix(lines[2], `"","Oslo"`), "row b: %s", lines[2])
}

func TestWriteCSVQuoting(t *testing.T) {
	items := []Item{{
		ID:            "q",
		OriginalInput: `say "cheese", please`,
		Status:        constants.ItemFailed,
		Error:         "transcription failed: boom",
	}}

	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, items))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\r\n")
	require.Len(t, lines, 2)

	assert.Contains(t, lines[1], `"say ""cheese"", please"`, "embedded quotes are doubled")
	for _, f := range strings.Split(lines[0], ",") {
		assert.True(t, strings.HasPrefix(f, `"`) && strings.HasSuffix(f, `"`),
			"every field is quoted, got %s", f)
	}
}

func TestWriteCSVScientificName(t *testing.T) {
	items := []Item{{
		ID: "s", OriginalInput: "x", Status: constants.ItemCompleted,
		DetectedCodes: []string{"O-12345", "O-67890"},
		ParsedData:    map[string]any{"dwc:scientificName": "Quercus robur", "dwc:year": 1902.0},
	}}

	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, items))
	out := buf.String()
	assert.Contains(t, out, `"Quercus robur"`)
	assert.Contains(t, out, `"O-12345; O-67890"`)
	assert.Contains(t, out, `"1902"`, "whole JSON numbers render without a decimal point")
}

func TestCSVFilename(t *testing.T) {
	ts := time.Date(2026, 8, 31, 9, 30, 15, 0, time.UTC)
	assert.Equal(t, "herbarium_export_2026-08-31T09-30-15.csv", CSVFilename(ts))
}
