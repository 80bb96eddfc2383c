package resolve

import (
	"math"
	"testing"
	"time"

	"github.com/vulnwire/vulnwire/internal/extract"
)

func testDoc(title, fullText string, cveIDs []string, entities map[extract.EntityType][]string) extract.Document {
	doc := extract.Document{
		Source:      "test-feed",
		Title:       title,
		Summary:     "summary of " + title,
		FullText:    fullText,
		PublishedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		CVEs:        make(map[string]extract.CVE),
		Entities:    make(map[extract.EntityType]map[string]struct{}),
	}
	for _, id := range cveIDs {
		doc.CVEs[id] = extract.CVE{ID: id, Severity: "unknown"}
	}
	for entityType, names := range entities {
		doc.Entities[entityType] = make(map[string]struct{}, len(names))
		for _, name := range names {
			doc.Entities[entityType][name] = struct{}{}
		}
	}
	return doc
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestJaccardProperties(t *testing.T) {
	t.Parallel()

	a := map[string]struct{}{"x": {}, "y": {}, "z": {}}
	b := map[string]struct{}{"y": {}, "z": {}, "w": {}}

	if got, want := Jaccard(a, b), 2.0/4.0; !almostEqual(got, want) {
		t.Fatalf("jaccard(a,b) = %v, want %v", got, want)
	}
	if !almostEqual(Jaccard(a, b), Jaccard(b, a)) {
		t.Fatalf("jaccard is not symmetric")
	}
	if got := Jaccard(a, a); !almostEqual(got, 1.0) {
		t.Fatalf("jaccard(a,a) = %v, want 1.0", got)
	}
	if got := Jaccard(nil, nil); !almostEqual(got, 0.0) {
		t.Fatalf("jaccard of two empty sets = %v, want 0", got)
	}
	if got := Jaccard(a, nil); !almostEqual(got, 0.0) {
		t.Fatalf("jaccard against empty set = %v, want 0", got)
	}
}

func TestSetDimension(t *testing.T) {
	t.Parallel()

	nonEmpty := map[string]struct{}{"apt 29": {}}
	other := map[string]struct{}{"lazarus": {}}

	if got := setDimension(nil, nil); !almostEqual(got, 0.0) {
		t.Fatalf("both empty = %v, want 0", got)
	}
	if got := setDimension(nonEmpty, nil); !almostEqual(got, 1.0) {
		t.Fatalf("one side empty = %v, want 1", got)
	}
	if got := setDimension(nil, nonEmpty); !almostEqual(got, 1.0) {
		t.Fatalf("other side empty = %v, want 1", got)
	}
	if got := setDimension(nonEmpty, other); !almostEqual(got, 0.0) {
		t.Fatalf("disjoint non-empty sets = %v, want 0", got)
	}
	if got := setDimension(nonEmpty, nonEmpty); !almostEqual(got, 1.0) {
		t.Fatalf("identical sets = %v, want 1", got)
	}
}

func TestTrigramSet(t *testing.T) {
	t.Parallel()

	set := TrigramSet("abcd")
	if len(set) != 2 {
		t.Fatalf("expected 2 trigrams for %q, got %d", "abcd", len(set))
	}
	for _, tri := range []string{"abc", "bcd"} {
		if _, ok := set[tri]; !ok {
			t.Fatalf("missing trigram %q", tri)
		}
	}

	if set := TrigramSet("ab"); len(set) != 1 {
		t.Fatalf("short input should collapse to one token, got %d", len(set))
	}
	if set := TrigramSet("   "); set != nil {
		t.Fatalf("blank input should produce nil set")
	}

	// Case and whitespace normalization happens before trigram extraction.
	left := TrigramSet("Ransomware   Attack")
	right := TrigramSet("ransomware attack")
	if got := Jaccard(left, right); !almostEqual(got, 1.0) {
		t.Fatalf("normalized variants should be identical, jaccard = %v", got)
	}
}

// "abcde" and "abcdx" share trigrams {abc, bcd} out of {abc, bcd, cde, cdx},
// giving text similarity exactly 0.5. The fixtures below lean on that.

func TestScoreDocumentsSharedStoryLandsInUpdateBand(t *testing.T) {
	t.Parallel()

	// Early report: one CVE and the actor. Follow-up two days later names
	// the product and the affected company as well.
	incoming := testDoc("follow-up", "abcdx",
		[]string{"CVE-2026-11111"},
		map[extract.EntityType][]string{
			extract.TypeThreatActor: {"apt 29"},
			extract.TypeProduct:     {"widgetos"},
			extract.TypeCompany:     {"acme corp"},
		})
	candidate := testDoc("early report", "abcde",
		[]string{"CVE-2026-11111"},
		map[extract.EntityType][]string{
			extract.TypeThreatActor: {"apt 29"},
		})

	got := ScoreDocuments(incoming, candidate, DefaultWeights)

	if !almostEqual(got.CVE, 1.0) {
		t.Fatalf("cve dimension = %v, want 1", got.CVE)
	}
	if !almostEqual(got.ThreatActor, 1.0) {
		t.Fatalf("threat_actor dimension = %v, want 1", got.ThreatActor)
	}
	if !almostEqual(got.Malware, 0.0) {
		t.Fatalf("malware dimension = %v, want 0 (absent on both sides)", got.Malware)
	}
	if !almostEqual(got.Product, 1.0) {
		t.Fatalf("product dimension = %v, want 1 (absent on one side only)", got.Product)
	}
	if !almostEqual(got.Company, 1.0) {
		t.Fatalf("company dimension = %v, want 1 (absent on one side only)", got.Company)
	}
	if !almostEqual(got.Text, 0.5) {
		t.Fatalf("text dimension = %v, want 0.5", got.Text)
	}

	// 0.40 + 0.5*0.20 + 0.12 + 0 + 0.08 + 0.08
	if want := 0.78; !almostEqual(got.Total, want) {
		t.Fatalf("total = %v, want %v", got.Total, want)
	}
	if class := Classify(got.Total, DefaultThresholds); class != ClassUpdate {
		t.Fatalf("class = %q, want update", class)
	}
}

func TestScoreDocumentsCVEOnlyOverlapIsBorderline(t *testing.T) {
	t.Parallel()

	// Same CVE, no entities at all, middling text similarity. This must
	// route to adjudication and never auto-merge.
	incoming := testDoc("incoming", "abcde", []string{"CVE-2026-22222"}, nil)
	candidate := testDoc("candidate", "abcdx", []string{"CVE-2026-22222"}, nil)

	got := ScoreDocuments(incoming, candidate, DefaultWeights)

	if !almostEqual(got.CVE, 1.0) {
		t.Fatalf("cve dimension = %v, want 1", got.CVE)
	}
	for name, dim := range map[string]float64{
		"threat_actor": got.ThreatActor,
		"malware":      got.Malware,
		"product":      got.Product,
		"company":      got.Company,
	} {
		if !almostEqual(dim, 0.0) {
			t.Fatalf("%s dimension = %v, want 0", name, dim)
		}
	}

	// 0.40 + 0.5*0.20
	if want := 0.5; !almostEqual(got.Total, want) {
		t.Fatalf("total = %v, want %v", got.Total, want)
	}
	if class := Classify(got.Total, DefaultThresholds); class != ClassBorderline {
		t.Fatalf("class = %q, want borderline", class)
	}
}

func TestScoreDocumentsNoSharedSignalIsNew(t *testing.T) {
	t.Parallel()

	incoming := testDoc("ransomware hits hospital", "completely unrelated body text about ransomware",
		[]string{"CVE-2026-33333"},
		map[extract.EntityType][]string{extract.TypeThreatActor: {"lockbit"}})
	candidate := testDoc("browser zero day", "a browser sandbox escape was exploited in the wild",
		[]string{"CVE-2026-44444"},
		map[extract.EntityType][]string{extract.TypeThreatActor: {"apt 41"}})

	got := ScoreDocuments(incoming, candidate, DefaultWeights)
	if !almostEqual(got.CVE, 0.0) {
		t.Fatalf("cve dimension = %v, want 0 (disjoint)", got.CVE)
	}
	if class := Classify(got.Total, DefaultThresholds); class != ClassNew {
		t.Fatalf("class = %q, want new (total %v)", class, got.Total)
	}
}

func TestBodyTextFallsBackToSummary(t *testing.T) {
	t.Parallel()

	doc := extract.Document{Summary: "only a summary"}
	if got := bodyText(doc); got != "only a summary" {
		t.Fatalf("bodyText = %q, want summary fallback", got)
	}
	doc.FullText = "full body"
	if got := bodyText(doc); got != "full body" {
		t.Fatalf("bodyText = %q, want full text", got)
	}
}

func TestSharedCVEsSorted(t *testing.T) {
	t.Parallel()

	incoming := testDoc("a", "", []string{"CVE-2026-2", "CVE-2026-1", "CVE-2026-9"}, nil)
	candidate := testDoc("b", "", []string{"CVE-2026-1", "CVE-2026-2", "CVE-2026-3"}, nil)

	got := SharedCVEs(incoming, candidate)
	if len(got) != 2 || got[0] != "CVE-2026-1" || got[1] != "CVE-2026-2" {
		t.Fatalf("shared cves = %v, want sorted [CVE-2026-1 CVE-2026-2]", got)
	}
}

func TestWeightsSum(t *testing.T) {
	t.Parallel()

	if got := DefaultWeights.Sum(); !almostEqual(got, 1.0) {
		t.Fatalf("default weights sum = %v, want 1.0", got)
	}
}
