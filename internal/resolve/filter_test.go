package resolve

import (
	"testing"
	"time"

	"github.com/vulnwire/vulnwire/internal/extract"
	"github.com/vulnwire/vulnwire/internal/index"
)

func overlapFixture(articleID int64, cves int, entities map[extract.EntityType]int) index.Overlap {
	return index.Overlap{
		ArticleID:     articleID,
		PublishedAt:   time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		CVEOverlap:    cves,
		EntityOverlap: entities,
	}
}

func TestQualifyCandidatesTiers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		overlap index.Overlap
		want    bool
	}{
		{
			name:    "single shared cve suffices",
			overlap: overlapFixture(1, 1, nil),
			want:    true,
		},
		{
			name: "two high value entities suffice",
			overlap: overlapFixture(2, 0, map[extract.EntityType]int{
				extract.TypeThreatActor: 1,
				extract.TypeMalware:     1,
			}),
			want: true,
		},
		{
			name: "three entities of any indexed type suffice",
			overlap: overlapFixture(3, 0, map[extract.EntityType]int{
				extract.TypeProduct: 2,
				extract.TypeCompany: 1,
			}),
			want: true,
		},
		{
			name: "one high value entity alone is not enough",
			overlap: overlapFixture(4, 0, map[extract.EntityType]int{
				extract.TypeThreatActor: 1,
			}),
			want: false,
		},
		{
			name: "two low value entities are not enough",
			overlap: overlapFixture(5, 0, map[extract.EntityType]int{
				extract.TypeProduct: 1,
				extract.TypeCompany: 1,
			}),
			want: false,
		},
		{
			name:    "nothing shared",
			overlap: overlapFixture(6, 0, nil),
			want:    false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := QualifyCandidates([]index.Overlap{tc.overlap}, 10)
			if qualified := len(got) == 1; qualified != tc.want {
				t.Fatalf("qualified = %v, want %v", qualified, tc.want)
			}
		})
	}
}

func TestQualifyCandidatesRanking(t *testing.T) {
	t.Parallel()

	overlaps := []index.Overlap{
		// rank 3: product only.
		overlapFixture(10, 0, map[extract.EntityType]int{extract.TypeProduct: 3}),
		// rank 8: cve plus actor and malware.
		overlapFixture(11, 1, map[extract.EntityType]int{
			extract.TypeThreatActor: 1,
			extract.TypeMalware:     1,
		}),
		// rank 4: one cve.
		overlapFixture(12, 1, nil),
	}

	ranked := QualifyCandidates(overlaps, 10)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 qualified candidates, got %d", len(ranked))
	}
	wantOrder := []int64{11, 12, 10}
	for i, want := range wantOrder {
		if ranked[i].ArticleID != want {
			t.Fatalf("position %d: article %d, want %d (order %v)", i, ranked[i].ArticleID, want, wantOrder)
		}
	}
	if ranked[0].RawScore != 8 {
		t.Fatalf("top raw score = %d, want 8", ranked[0].RawScore)
	}
}

func TestQualifyCandidatesTieBreaks(t *testing.T) {
	t.Parallel()

	older := overlapFixture(20, 1, nil)
	older.PublishedAt = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	newer := overlapFixture(21, 1, nil)
	newer.PublishedAt = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	sameDayHighID := overlapFixture(22, 1, nil)
	sameDayHighID.PublishedAt = newer.PublishedAt

	ranked := QualifyCandidates([]index.Overlap{older, sameDayHighID, newer}, 10)
	wantOrder := []int64{21, 22, 20}
	for i, want := range wantOrder {
		if ranked[i].ArticleID != want {
			t.Fatalf("position %d: article %d, want %d", i, ranked[i].ArticleID, want)
		}
	}
}

func TestQualifyCandidatesCap(t *testing.T) {
	t.Parallel()

	overlaps := make([]index.Overlap, 0, 60)
	for i := 0; i < 60; i++ {
		// Increasing cve overlap so the strongest candidates are the
		// highest article ids.
		overlaps = append(overlaps, overlapFixture(int64(i+1), i+1, nil))
	}

	ranked := QualifyCandidates(overlaps, DefaultCandidateCap)
	if len(ranked) != DefaultCandidateCap {
		t.Fatalf("expected cap of %d, got %d", DefaultCandidateCap, len(ranked))
	}
	if ranked[0].ArticleID != 60 {
		t.Fatalf("strongest candidate = %d, want 60", ranked[0].ArticleID)
	}
	// The 10 weakest candidates fell off the end.
	for _, rc := range ranked {
		if rc.ArticleID <= 10 {
			t.Fatalf("candidate %d should have been truncated", rc.ArticleID)
		}
	}
}
