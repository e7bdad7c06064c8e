package gateway

import (
	"fmt"
	"strings"

	"github.com/marktorrescoding/straightshotauto/snapshot"
)

// BuildPrompt renders the analysis request for one listing. The JSON field
// list here is the output contract; changing it is a schema change and must
// come with a snapshot.SchemaVersion bump.
func BuildPrompt(snap snapshot.Snapshot) string {
	n := snap.Normalize()

	var b strings.Builder
	b.WriteString("You are a used-vehicle buying advisor. Assess the listing below for a prospective buyer.\n\nListing:\n")

	writeField := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, value)
		}
	}
	if n.Year != 0 {
		fmt.Fprintf(&b, "- Year: %d\n", n.Year)
	}
	writeField("Make", n.Make)
	writeField("Model", n.Model)
	writeField("Trim", n.Trim)
	writeField("VIN", n.VIN)
	if n.PriceUSD != 0 {
		fmt.Fprintf(&b, "- Asking price: $%.0f\n", n.PriceUSD)
	}
	if n.MileageMiles != 0 {
		fmt.Fprintf(&b, "- Mileage: %d miles\n", n.MileageMiles)
	}
	writeField("Title status", n.TitleStatus)
	writeField("Seller description", n.SellerDescription)

	b.WriteString(`
Respond with a single JSON object and nothing else, using exactly these fields:
{
  "summary": "two or three sentence overall assessment",
  "final_verdict": "one sentence buy/pass recommendation",
  "overall_score": 0-100 integer,
  "confidence": 0.0-1.0,
  "upsides": ["..."],
  "issues": ["..."],
  "risks": ["..."],
  "questions_to_ask": ["..."],
  "negotiation_tips": ["..."],
  "notes": ["..."]
}
Base the score on price fairness, mileage for age, title status, and red flags in the description. Do not invent facts not present in the listing.`)

	return b.String()
}
