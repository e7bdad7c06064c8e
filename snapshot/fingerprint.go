package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// SchemaVersion tags every cache key. Bump it whenever the analysis prompt
// or the output schema changes semantics — old cache entries then miss
// naturally instead of needing a purge.
const SchemaVersion = "v2"

// Key derives the listing fingerprint: a hex sha256 over the normalized
// identity fields in fixed order. Returns ok=false when the snapshot lacks
// a minimum identity (both year and make absent).
//
// The key is used as the client-side dedup token and as part of the server
// cache key material, so it must be stable across field ordering and
// whitespace differences between re-scrapes of the same listing.
func Key(s Snapshot) (string, bool) {
	n := s.Normalize()
	if n.Year == 0 && n.Make == "" {
		return "", false
	}

	parts := []string{
		NormalizeListingURL(n.URL),
		n.VIN,
		strconv.Itoa(n.Year),
		strings.ToLower(n.Make),
		strings.ToLower(n.Model),
		strings.ToLower(n.Trim),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:]), true
}

// canonical is the fixed-order serialization of the fields that affect the
// analysis. Field order is frozen: changing it is a schema change and must
// come with a SchemaVersion bump.
type canonical struct {
	URL               string  `json:"url"`
	Year              int     `json:"year"`
	Make              string  `json:"make"`
	Model             string  `json:"model"`
	Trim              string  `json:"trim"`
	VIN               string  `json:"vin"`
	PriceUSD          float64 `json:"price_usd"`
	MileageMiles      int     `json:"mileage_miles"`
	SellerDescription string  `json:"seller_description"`
	TitleStatus       string  `json:"title_status"`
}

// Canonical serializes the analysis-relevant fields of s in a fixed order.
// Two snapshots that are field-for-field equal after normalization always
// produce identical bytes, so incidental client payload differences never
// cause spurious cache misses.
func Canonical(s Snapshot) []byte {
	n := s.Normalize()
	b, _ := json.Marshal(canonical{
		URL:               NormalizeListingURL(n.URL),
		Year:              n.Year,
		Make:              n.Make,
		Model:             n.Model,
		Trim:              n.Trim,
		VIN:               n.VIN,
		PriceUSD:          n.PriceUSD,
		MileageMiles:      n.MileageMiles,
		SellerDescription: n.SellerDescription,
		TitleStatus:       n.TitleStatus,
	})
	return b
}

// CacheKey is the content address for s under the current schema version:
// hex sha256(SchemaVersion || Canonical(s)).
func CacheKey(s Snapshot) string {
	h := sha256.New()
	h.Write([]byte(SchemaVersion))
	h.Write([]byte{0})
	h.Write(Canonical(s))
	return hex.EncodeToString(h.Sum(nil))
}
