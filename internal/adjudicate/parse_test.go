package adjudicate

import (
	"strings"
	"testing"
)

func TestParseRuling_PlainJSON(t *testing.T) {
	t.Parallel()

	ruling, err := ParseRuling(`{"decision":"update","change_summary":"New victim disclosed.","new_entities":["acme corp"],"new_cves":[],"severity_delta":0.0}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Decision != DecisionUpdate {
		t.Fatalf("unexpected decision: %q", ruling.Decision)
	}
	if ruling.ChangeSummary != "New victim disclosed." {
		t.Fatalf("unexpected change summary: %q", ruling.ChangeSummary)
	}
	if len(ruling.NewEntities) != 1 || ruling.NewEntities[0] != "acme corp" {
		t.Fatalf("unexpected new entities: %v", ruling.NewEntities)
	}
}

func TestParseRuling_CodeFenced(t *testing.T) {
	t.Parallel()

	text := "```json\n{\"decision\":\"skip\",\"change_summary\":\"\",\"new_entities\":[],\"new_cves\":[]}\n```"
	ruling, err := ParseRuling(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Decision != DecisionSkip {
		t.Fatalf("unexpected decision: %q", ruling.Decision)
	}
}

func TestParseRuling_SurroundingProse(t *testing.T) {
	t.Parallel()

	text := "Here is my verdict:\n{\"decision\":\"new\",\"change_summary\":\"\"}\nThanks."
	ruling, err := ParseRuling(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Decision != DecisionNew {
		t.Fatalf("unexpected decision: %q", ruling.Decision)
	}
}

func TestParseRuling_UnknownDecision(t *testing.T) {
	t.Parallel()

	_, err := ParseRuling(`{"decision":"merge"}`)
	if err == nil {
		t.Fatalf("expected unknown decision to be rejected")
	}
	if !strings.Contains(err.Error(), "unknown adjudication decision") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRuling_UpdateRequiresSummary(t *testing.T) {
	t.Parallel()

	_, err := ParseRuling(`{"decision":"update","change_summary":"  "}`)
	if err == nil {
		t.Fatalf("expected update without change_summary to be rejected")
	}
}

func TestParseRuling_Empty(t *testing.T) {
	t.Parallel()

	if _, err := ParseRuling("   "); err == nil {
		t.Fatalf("expected empty response to be rejected")
	}
}
