package resolve

import (
	"sort"

	"github.com/vulnwire/vulnwire/internal/extract"
	"github.com/vulnwire/vulnwire/internal/index"
)

const DefaultCandidateCap = 50

// RankedCandidate is a qualified historical article with the cheap rank
// score used only to decide which candidates survive truncation.
type RankedCandidate struct {
	index.Overlap
	RawScore int
}

// qualifies applies the tiered rule: CVE sharing is the strongest signal and
// alone suffices; otherwise demand either two high-value entities or three
// entities of any indexed type.
func qualifies(o index.Overlap) bool {
	if o.CVEOverlap >= 1 {
		return true
	}
	if o.HighValueOverlap() >= 2 {
		return true
	}
	return o.TotalEntityOverlap() >= 3
}

// rawRankScore weighs overlaps for truncation ranking: CVE ×4, threat_actor
// and malware ×2, every other indexed type ×1.
func rawRankScore(o index.Overlap) int {
	score := 4 * o.CVEOverlap
	score += 2 * o.HighValueOverlap()
	score += o.EntityOverlap[extract.TypeProduct]
	score += o.EntityOverlap[extract.TypeCompany]
	score += o.EntityOverlap[extract.TypeGovernmentAgency]
	return score
}

// QualifyCandidates filters window-query overlaps down to the bounded
// candidate set handed to the expensive scorer.
func QualifyCandidates(overlaps []index.Overlap, limit int) []RankedCandidate {
	if limit <= 0 {
		limit = DefaultCandidateCap
	}

	ranked := make([]RankedCandidate, 0, len(overlaps))
	for _, overlap := range overlaps {
		if !qualifies(overlap) {
			continue
		}
		ranked = append(ranked, RankedCandidate{
			Overlap:  overlap,
			RawScore: rawRankScore(overlap),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].RawScore != ranked[j].RawScore {
			return ranked[i].RawScore > ranked[j].RawScore
		}
		if !ranked[i].PublishedAt.Equal(ranked[j].PublishedAt) {
			return ranked[i].PublishedAt.After(ranked[j].PublishedAt)
		}
		return ranked[i].ArticleID < ranked[j].ArticleID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
