// Package snapshot defines the structured description of one vehicle listing
// at one point in time, plus the canonicalization rules that give every
// listing a stable identity.
//
// A Snapshot arrives from an untrusted scraper, so every string field is
// normalized (trimmed, inner whitespace collapsed) before use, and identity
// is always computed from normalized values. Two snapshots of the same
// listing taken across DOM re-scrapes must fingerprint identically.
package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSnapshot is returned by Validate for payloads that cannot be
// analyzed at all (no URL, or no identity fields whatsoever).
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is one captured vehicle listing. All fields are optional on the
// wire; zero values mean "absent".
type Snapshot struct {
	URL               string  `json:"url,omitempty"`
	Year              int     `json:"year,omitempty"`
	Make              string  `json:"make,omitempty"`
	Model             string  `json:"model,omitempty"`
	Trim              string  `json:"trim,omitempty"`
	VIN               string  `json:"vin,omitempty"`
	PriceUSD          float64 `json:"price_usd,omitempty"`
	MileageMiles      int     `json:"mileage_miles,omitempty"`
	SellerDescription string  `json:"seller_description,omitempty"`
	Location          string  `json:"location,omitempty"`
	TitleStatus       string  `json:"title_status,omitempty"`
}

// Normalize returns a copy with every string field trimmed and inner
// whitespace collapsed. The VIN is additionally uppercased. Normalize is
// idempotent; identity and cache keys are always computed on the normalized
// form so incidental formatting picked up between re-scrapes never changes
// a listing's identity.
func (s Snapshot) Normalize() Snapshot {
	s.URL = strings.TrimSpace(s.URL)
	s.Make = collapse(s.Make)
	s.Model = collapse(s.Model)
	s.Trim = collapse(s.Trim)
	s.VIN = strings.ToUpper(collapse(s.VIN))
	s.SellerDescription = collapse(s.SellerDescription)
	s.Location = collapse(s.Location)
	s.TitleStatus = collapse(s.TitleStatus)
	return s
}

// Validate rejects snapshots the edge service cannot analyze: a URL is
// required, and at least one of year or make must be present.
func (s Snapshot) Validate() error {
	n := s.Normalize()
	if n.URL == "" {
		return fmt.Errorf("%w: missing url", ErrInvalidSnapshot)
	}
	if n.Year == 0 && n.Make == "" {
		return fmt.Errorf("%w: need at least year or make", ErrInvalidSnapshot)
	}
	return nil
}

// collapse trims s and replaces any internal run of whitespace with a single
// space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
