// Package gbif resolves GBIF occurrence references to specimen images
// using the public occurrence API.
package gbif

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/askelva/herbarium-batch/internal/common"
	"github.com/askelva/herbarium-batch/internal/llm"
)

// DefaultBaseURL is the public GBIF v1 API root.
const DefaultBaseURL = "https://api.gbif.org/v1"

var reOccurrencePath = regexp.MustCompile(`occurrence/(\d+)`)
var reAllDigits = regexp.MustCompile(`^\d+$`)

// Occurrence is the subset of a GBIF occurrence record this tool reads.
type Occurrence struct {
	Key              int64   `json:"key"`
	ScientificName   string  `json:"scientificName"`
	InstitutionCode  string  `json:"institutionCode"`
	CatalogNumber    string  `json:"catalogNumber"`
	BasisOfRecord    string  `json:"basisOfRecord"`
	OccurrenceStatus string  `json:"occurrenceStatus"`
	Media            []Media `json:"media"`
}

// Media is one media entry attached to an occurrence.
type Media struct {
	Type       string `json:"type"`
	Format     string `json:"format"`
	Identifier string `json:"identifier"`
}

// Service fetches occurrence records.
type Service struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewService builds a GBIF client. client may be nil.
func NewService(client *http.Client, logger *slog.Logger) *Service {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{baseURL: DefaultBaseURL, client: client, log: logger}
}

// ParseOccurrenceID extracts a numeric occurrence id from either a bare
// id ("1056970865") or a GBIF URL containing "occurrence/<digits>".
// Returns ok=false when the input holds neither form.
func ParseOccurrenceID(input string) (string, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", false
	}
	if reAllDigits.MatchString(s) {
		return s, true
	}
	if m := reOccurrencePath.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return "", false
}

// FetchOccurrence retrieves one occurrence record by numeric id.
func (s *Service) FetchOccurrence(ctx context.Context, id string) (*Occurrence, error) {
	target := fmt.Sprintf("%s/occurrence/%s", s.baseURL, id)
	raw, status, err := llm.GetJSON(ctx, s.client, target, nil, s.log)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, common.NewAppError("GBIF_NOT_FOUND",
				fmt.Sprintf("GBIF occurrence %s not found", id), common.ErrNotFound)
		}
		return nil, common.WrapError(err, fmt.Sprintf("fetch GBIF occurrence %s", id))
	}
	occ, err := decodeOccurrence(raw)
	if err != nil {
		return nil, common.WrapError(err, fmt.Sprintf("decode GBIF occurrence %s", id))
	}
	return occ, nil
}

func decodeOccurrence(raw []byte) (*Occurrence, error) {
	var occ Occurrence
	if err := json.Unmarshal(raw, &occ); err != nil {
		return nil, err
	}
	return &occ, nil
}

// ExtractImage picks the specimen image URL from an occurrence: the first
// media entry typed StillImage, else the first entry with an image/*
// format. Returns ok=false when the record carries no usable image.
func ExtractImage(occ *Occurrence) (string, bool) {
	if occ == nil {
		return "", false
	}
	for _, m := range occ.Media {
		if m.Type == "StillImage" && m.Identifier != "" {
			return m.Identifier, true
		}
	}
	for _, m := range occ.Media {
		if strings.HasPrefix(m.Format, "image/") && m.Identifier != "" {
			return m.Identifier, true
		}
	}
	return "", false
}

// Resolve turns raw user input (id or URL) into an image URL in one step.
func (s *Service) Resolve(ctx context.Context, input string) (string, error) {
	id, ok := ParseOccurrenceID(input)
	if !ok {
		return "", common.NewAppError("GBIF_INVALID_INPUT",
			fmt.Sprintf("not a GBIF occurrence id or URL: %q", input), common.ErrInvalidInput)
	}
	occ, err := s.FetchOccurrence(ctx, id)
	if err != nil {
		return "", err
	}
	img, ok := ExtractImage(occ)
	if !ok {
		return "", common.NewAppError("GBIF_NO_IMAGE",
			fmt.Sprintf("GBIF occurrence %s has no image media", id), common.ErrNotFound)
	}
	s.log.Debug("gbif.resolved", "occurrence", id, "image", img)
	return img, nil
}
