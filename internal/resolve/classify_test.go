package resolve

import (
	"testing"
	"time"
)

func TestClassifyBands(t *testing.T) {
	t.Parallel()

	cases := []struct {
		total float64
		want  Class
	}{
		{0.0, ClassNew},
		{0.3499, ClassNew},
		{0.35, ClassBorderline}, // lower bound is inclusive
		{0.498, ClassBorderline},
		{0.6999, ClassBorderline},
		{0.70, ClassUpdate}, // upper bound is inclusive
		{0.764, ClassUpdate},
		{1.0, ClassUpdate},
	}
	for _, tc := range cases {
		if got := Classify(tc.total, DefaultThresholds); got != tc.want {
			t.Fatalf("Classify(%v) = %q, want %q", tc.total, got, tc.want)
		}
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	t.Parallel()

	th := Thresholds{New: 0.2, Update: 0.9}
	if got := Classify(0.3, th); got != ClassBorderline {
		t.Fatalf("Classify(0.3) = %q, want borderline", got)
	}
	if got := Classify(0.89, th); got != ClassBorderline {
		t.Fatalf("Classify(0.89) = %q, want borderline", got)
	}
	if got := Classify(0.9, th); got != ClassUpdate {
		t.Fatalf("Classify(0.9) = %q, want update", got)
	}
}

func TestBestCandidateEmpty(t *testing.T) {
	t.Parallel()

	if _, ok := BestCandidate(nil); ok {
		t.Fatalf("expected no best candidate from empty input")
	}
}

func TestBestCandidatePicksHighestTotal(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	scored := []ScoredCandidate{
		{ArticleID: 1, PublishedAt: day, Breakdown: Breakdown{Total: 0.4}},
		{ArticleID: 2, PublishedAt: day, Breakdown: Breakdown{Total: 0.8}},
		{ArticleID: 3, PublishedAt: day, Breakdown: Breakdown{Total: 0.6}},
	}
	best, ok := BestCandidate(scored)
	if !ok || best.ArticleID != 2 {
		t.Fatalf("best = %+v, want article 2", best)
	}
}

func TestBestCandidateTieBreaks(t *testing.T) {
	t.Parallel()

	older := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

	// Equal totals: the more recent publication wins.
	best, _ := BestCandidate([]ScoredCandidate{
		{ArticleID: 1, PublishedAt: older, Breakdown: Breakdown{Total: 0.5}},
		{ArticleID: 2, PublishedAt: newer, Breakdown: Breakdown{Total: 0.5}},
	})
	if best.ArticleID != 2 {
		t.Fatalf("recency tie-break picked %d, want 2", best.ArticleID)
	}

	// Equal totals and dates: the lowest article id wins.
	best, _ = BestCandidate([]ScoredCandidate{
		{ArticleID: 9, PublishedAt: newer, Breakdown: Breakdown{Total: 0.5}},
		{ArticleID: 4, PublishedAt: newer, Breakdown: Breakdown{Total: 0.5}},
	})
	if best.ArticleID != 4 {
		t.Fatalf("id tie-break picked %d, want 4", best.ArticleID)
	}
}
