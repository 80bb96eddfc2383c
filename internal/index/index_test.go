package index

import (
	"testing"
	"time"

	"github.com/vulnwire/vulnwire/internal/extract"
)

func TestWindowBounds_SameDayExclusive(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, 8, 14, 17, 30, 0, 0, time.UTC)
	from, to := WindowBounds(today, 30)

	if !to.Equal(time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window end: %v", to)
	}
	if !from.Equal(time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window start: %v", from)
	}

	sameDay := time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC)
	if sameDay.Before(to) {
		t.Fatalf("expected same-day publication to fall outside [from, to)")
	}
}

func TestWindowBounds_BoundaryDays(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	from, to := WindowBounds(today, 30)

	inside := today.AddDate(0, 0, -29)
	if inside.Before(from) || !inside.Before(to) {
		t.Fatalf("expected window_days-1 publication to be inside the window")
	}

	outside := today.AddDate(0, 0, -31)
	if !outside.Before(from) {
		t.Fatalf("expected window_days+1 publication to be outside the window")
	}

	edge := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	if edge.Before(from) {
		t.Fatalf("expected exact window start to be included")
	}
}

func TestOverlapHelpers(t *testing.T) {
	t.Parallel()

	overlap := Overlap{
		ArticleID:  7,
		CVEOverlap: 1,
		EntityOverlap: map[extract.EntityType]int{
			extract.TypeThreatActor: 2,
			extract.TypeMalware:     1,
			extract.TypeProduct:     3,
		},
	}

	if got := overlap.HighValueOverlap(); got != 3 {
		t.Fatalf("expected high-value overlap 3, got %d", got)
	}
	if got := overlap.TotalEntityOverlap(); got != 6 {
		t.Fatalf("expected total entity overlap 6, got %d", got)
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	if got := placeholders(3); got != "?, ?, ?" {
		t.Fatalf("unexpected placeholder list: %q", got)
	}
	if got := placeholders(0); got != "" {
		t.Fatalf("expected empty placeholder list, got %q", got)
	}
}
