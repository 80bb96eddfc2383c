package resolve

import (
	"sort"

	"github.com/vulnwire/vulnwire/internal/extract"
)

// Weights are the per-dimension multipliers. They must sum to 1.0; config
// validation enforces that before a run ever starts.
type Weights struct {
	CVE         float64 `json:"cve"`
	Text        float64 `json:"text"`
	ThreatActor float64 `json:"threat_actor"`
	Malware     float64 `json:"malware"`
	Product     float64 `json:"product"`
	Company     float64 `json:"company"`
}

// DefaultWeights mirror the shipped configuration. CVE dominates: inside the
// bounded window a shared CVE id is the single strongest same-campaign
// signal; the remaining dimensions corroborate and disambiguate.
var DefaultWeights = Weights{
	CVE:         0.40,
	Text:        0.20,
	ThreatActor: 0.12,
	Malware:     0.12,
	Product:     0.08,
	Company:     0.08,
}

func (w Weights) Sum() float64 {
	return w.CVE + w.Text + w.ThreatActor + w.Malware + w.Product + w.Company
}

// Breakdown holds the unweighted per-dimension scores plus the weighted
// total, kept in full for audit rows.
type Breakdown struct {
	CVE         float64 `json:"cve"`
	Text        float64 `json:"text"`
	ThreatActor float64 `json:"threat_actor"`
	Malware     float64 `json:"malware"`
	Product     float64 `json:"product"`
	Company     float64 `json:"company"`
	Total       float64 `json:"total"`
}

// Jaccard is |A∩B| / |A∪B|, defined as 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for key := range a {
		if _, ok := b[key]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// setDimension scores one entity/CVE dimension. Both sides empty carries no
// signal and scores 0. Exactly one side empty scores 1: early coverage
// routinely lacks entities that later reporting adds, and absence on one
// side is not evidence the stories differ. Otherwise plain Jaccard.
func setDimension(a, b map[string]struct{}) float64 {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0 || len(b) == 0:
		return 1
	default:
		return Jaccard(a, b)
	}
}

// TrigramSet builds the character-trigram set of normalized text. Inputs
// shorter than three runes collapse to a single token.
func TrigramSet(text string) map[string]struct{} {
	normalized := extract.NormalizeText(text)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// TextSimilarity is trigram Jaccard over the full body text. The full body,
// not the short summary, is what discriminates continuing coverage from
// unrelated stories.
func TextSimilarity(left, right string) float64 {
	return Jaccard(TrigramSet(left), TrigramSet(right))
}

// bodyText prefers the full text and falls back to the summary when the
// generator produced none.
func bodyText(doc extract.Document) string {
	if doc.FullText != "" {
		return doc.FullText
	}
	return doc.Summary
}

// ScoreDocuments computes the six-dimension weighted similarity between an
// incoming document and one candidate.
func ScoreDocuments(incoming, candidate extract.Document, w Weights) Breakdown {
	breakdown := Breakdown{
		CVE:         setDimension(incoming.CVEIDSet(), candidate.CVEIDSet()),
		Text:        TextSimilarity(bodyText(incoming), bodyText(candidate)),
		ThreatActor: setDimension(incoming.EntitySet(extract.TypeThreatActor), candidate.EntitySet(extract.TypeThreatActor)),
		Malware:     setDimension(incoming.EntitySet(extract.TypeMalware), candidate.EntitySet(extract.TypeMalware)),
		Product:     setDimension(incoming.EntitySet(extract.TypeProduct), candidate.EntitySet(extract.TypeProduct)),
		Company:     setDimension(incoming.EntitySet(extract.TypeCompany), candidate.EntitySet(extract.TypeCompany)),
	}

	breakdown.Total = breakdown.CVE*w.CVE +
		breakdown.Text*w.Text +
		breakdown.ThreatActor*w.ThreatActor +
		breakdown.Malware*w.Malware +
		breakdown.Product*w.Product +
		breakdown.Company*w.Company

	switch {
	case breakdown.Total < 0:
		breakdown.Total = 0
	case breakdown.Total > 1:
		breakdown.Total = 1
	}
	return breakdown
}

// SharedCVEs returns the sorted-stable intersection of the two CVE id sets.
func SharedCVEs(incoming, candidate extract.Document) []string {
	var shared []string
	candidateSet := candidate.CVEIDSet()
	for id := range incoming.CVEs {
		if _, ok := candidateSet[id]; ok {
			shared = append(shared, id)
		}
	}
	sort.Strings(shared)
	return shared
}
