package resolve

import "time"

// Class is the threshold band the best candidate's total score lands in.
type Class string

const (
	// ClassNew: below the NEW threshold, register a fresh canonical record.
	ClassNew Class = "new"
	// ClassBorderline: must be adjudicated; the engine never auto-commits it.
	ClassBorderline Class = "borderline"
	// ClassUpdate: update-eligible; still adjudicated to obtain a
	// human-readable change summary before merging.
	ClassUpdate Class = "update"
)

// Thresholds split the score range. New < Update always holds after config
// validation.
type Thresholds struct {
	New    float64
	Update float64
}

var DefaultThresholds = Thresholds{New: 0.35, Update: 0.70}

// Classify maps a total score onto its band.
func Classify(total float64, th Thresholds) Class {
	switch {
	case total < th.New:
		return ClassNew
	case total < th.Update:
		return ClassBorderline
	default:
		return ClassUpdate
	}
}

// ScoredCandidate pairs a candidate with its similarity breakdown.
type ScoredCandidate struct {
	ArticleID   int64
	PublishedAt time.Time
	Breakdown   Breakdown
}

// BestCandidate selects the highest-scoring candidate. Ties break
// deterministically: most recent publication date, then lowest article id.
func BestCandidate(scored []ScoredCandidate) (ScoredCandidate, bool) {
	if len(scored) == 0 {
		return ScoredCandidate{}, false
	}

	best := scored[0]
	for _, current := range scored[1:] {
		if current.Breakdown.Total > best.Breakdown.Total {
			best = current
			continue
		}
		if current.Breakdown.Total < best.Breakdown.Total {
			continue
		}
		if current.PublishedAt.After(best.PublishedAt) {
			best = current
			continue
		}
		if current.PublishedAt.Equal(best.PublishedAt) && current.ArticleID < best.ArticleID {
			best = current
		}
	}
	return best, true
}
