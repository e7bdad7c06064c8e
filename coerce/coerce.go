// Package coerce turns whatever the upstream model produced into a
// schema-complete, internally consistent buying assessment.
//
// The model boundary is the only place untrusted shapes enter the edge
// service, and Coerce is the only door through it: a total function that
// never fails, whatever the input. Missing strings become the "unknown"
// sentinel, missing lists become empty, numerics are clamped into range,
// and contradictions between the verdict text and the numeric score are
// flagged without overwriting the model's own words.
package coerce

import (
	"fmt"
	"math"
	"strings"

	"github.com/marktorrescoding/straightshotauto/snapshot"
)

// Unknown is the sentinel for string fields the model left absent or blank.
const Unknown = "unknown"

// maxListItems bounds every list field so a runaway model cannot inflate
// the payload.
const maxListItems = 8

// Analysis is the coerced, schema-complete assessment returned to clients.
// Every field is always present and in range.
type Analysis struct {
	Summary         string   `json:"summary"`
	FinalVerdict    string   `json:"final_verdict"`
	OverallScore    int      `json:"overall_score"` // 0..100
	Confidence      float64  `json:"confidence"`    // 0..1
	Upsides         []string `json:"upsides"`
	Issues          []string `json:"issues"`
	Risks           []string `json:"risks"`
	QuestionsToAsk  []string `json:"questions_to_ask"`
	NegotiationTips []string `json:"negotiation_tips"`
	Notes           []string `json:"notes"`
}

// Coerce normalizes raw model output against the original snapshot. Total:
// any input, including nil, yields a valid Analysis.
func Coerce(raw map[string]any, snap snapshot.Snapshot) Analysis {
	a := Analysis{
		Summary:         str(raw, "summary"),
		FinalVerdict:    str(raw, "final_verdict"),
		Confidence:      clampFloat(num(raw, "confidence", 0.5), 0, 1),
		Upsides:         list(raw, "upsides"),
		Issues:          list(raw, "issues"),
		Risks:           list(raw, "risks"),
		QuestionsToAsk:  list(raw, "questions_to_ask"),
		NegotiationTips: list(raw, "negotiation_tips"),
		Notes:           list(raw, "notes"),
	}

	// Score: take the model's number when it gave one, otherwise derive
	// from confidence.
	if v, ok := rawNum(raw, "overall_score"); ok {
		a.OverallScore = clampInt(int(math.Round(v)), 0, 100)
	} else {
		a.OverallScore = clampInt(int(math.Round(a.Confidence*100)), 0, 100)
	}

	a = repairVerdict(a)
	a = noteMissingInputs(a, snap)
	return a
}

// VerdictForScore maps a score into its qualitative band.
func VerdictForScore(score int) string {
	switch {
	case score <= 14:
		return "No"
	case score <= 34:
		return "Risky"
	case score <= 54:
		return "Fair"
	case score <= 71:
		return "Good"
	case score <= 87:
		return "Great"
	default:
		return "Steal"
	}
}

var rejectionPhrases = []string{"walk away", "avoid", "pass on this", "do not buy", "don't buy"}
var acceptancePhrases = []string{"buy", "good deal", "worth it", "great deal", "go for it"}

// repairVerdict flags verdict/score contradictions. Non-destructive: the
// model's qualitative judgment stays verbatim, a machine-appended
// parenthetical marks the inconsistency.
func repairVerdict(a Analysis) Analysis {
	v := strings.ToLower(a.FinalVerdict)
	band := VerdictForScore(a.OverallScore)

	// A rejection phrase supersedes any acceptance match: "do not buy"
	// contains "buy" but does not signal acceptance.
	rejects := containsAny(v, rejectionPhrases)
	switch {
	case rejects && a.OverallScore >= 55:
		a.FinalVerdict += fmt.Sprintf(" (note: the numeric score %d/100 rates this listing %q — the written verdict may be overly cautious)", a.OverallScore, band)
	case !rejects && containsAny(v, acceptancePhrases) && a.OverallScore <= 34:
		a.FinalVerdict += fmt.Sprintf(" (note: the numeric score %d/100 rates this listing %q — the written verdict may be overly optimistic)", a.OverallScore, band)
	}
	return a
}

// noteMissingInputs appends a completeness note naming the high-value
// snapshot fields the seller never provided. Their absence lowers confidence
// materially, so the reader sees it instead of only the score moving.
func noteMissingInputs(a Analysis, snap snapshot.Snapshot) Analysis {
	n := snap.Normalize()
	var missing []string
	if n.PriceUSD == 0 {
		missing = append(missing, "price")
	}
	if n.MileageMiles == 0 {
		missing = append(missing, "mileage")
	}
	if n.SellerDescription == "" {
		missing = append(missing, "seller description")
	}
	if len(missing) > 0 {
		a.Notes = append(a.Notes, "listing did not include: "+strings.Join(missing, ", ")+" — assessment confidence is reduced")
		if len(a.Notes) > maxListItems {
			a.Notes = a.Notes[:maxListItems]
		}
	}
	return a
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// str extracts a non-blank string or the Unknown sentinel.
func str(raw map[string]any, key string) string {
	if raw != nil {
		if v, ok := raw[key].(string); ok {
			if t := strings.TrimSpace(v); t != "" {
				return t
			}
		}
	}
	return Unknown
}

// rawNum extracts a numeric value of any JSON-decoded flavor.
func rawNum(raw map[string]any, key string) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	switch v := raw[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func num(raw map[string]any, key string, def float64) float64 {
	if v, ok := rawNum(raw, key); ok {
		return v
	}
	return def
}

// list extracts a bounded list of non-blank strings. Non-string items are
// coerced element-wise: numbers are formatted, maps contribute their "text"
// field when present, everything else is dropped.
func list(raw map[string]any, key string) []string {
	out := []string{}
	if raw == nil {
		return out
	}
	items, ok := raw[key].([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if len(out) >= maxListItems {
			break
		}
		switch v := item.(type) {
		case string:
			if t := strings.TrimSpace(v); t != "" {
				out = append(out, t)
			}
		case float64:
			out = append(out, strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), "."))
		case map[string]any:
			if t := strings.TrimSpace(str(v, "text")); t != "" && t != Unknown {
				out = append(out, t)
			}
		}
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return (lo + hi) / 2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Complete reports whether the narrative fields carry real content. The
// client treats a structurally valid but narratively empty analysis as a
// failed attempt even though the transport succeeded.
func (a Analysis) Complete() bool {
	return a.Summary != Unknown && a.Summary != "" &&
		a.FinalVerdict != Unknown && a.FinalVerdict != ""
}
