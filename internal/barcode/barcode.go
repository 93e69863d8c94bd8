// Package barcode detects catalog barcodes on specimen images. Detection
// is an optional, best-effort step: a scan that finds nothing or fails is
// never fatal to the item it ran for.
package barcode

import "context"

// Scanner finds barcode values in an image supplied as a data URI.
type Scanner interface {
	// Scan returns the decoded barcode values found in the image,
	// possibly none. Implementations should treat unreadable input as
	// an empty result rather than an error where they can.
	Scan(ctx context.Context, imageDataURI string) ([]string, error)
}

type disabled struct{}

func (disabled) Scan(context.Context, string) ([]string, error) { return nil, nil }

// Disabled returns a Scanner that never detects anything, used when
// barcode scanning is turned off in configuration.
func Disabled() Scanner { return disabled{} }
