package ingest

import (
	"bytes"
	"testing"
)

func TestCanonicalizeJSONNormalizesFormatting(t *testing.T) {
	t.Parallel()

	compact, err := canonicalizeJSON([]byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spaced, err := canonicalizeJSON([]byte("  {\n  \"b\": 2,\n  \"a\": 1\n}  "))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(compact, spaced) {
		t.Fatalf("formatting variants canonicalized differently: %s vs %s", compact, spaced)
	}
}

func TestCanonicalizeJSONPreservesNumberPrecision(t *testing.T) {
	t.Parallel()

	got, err := canonicalizeJSON([]byte(`{"score":0.1234567890123456789}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Contains(got, []byte("0.1234567890123456789")) {
		t.Fatalf("number precision lost: %s", got)
	}
}

func TestCanonicalizeJSONRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := canonicalizeJSON([]byte("  ")); err == nil {
		t.Fatalf("expected empty payload to be rejected")
	}
	if _, err := canonicalizeJSON([]byte(`{"a":1} trailing`)); err == nil {
		t.Fatalf("expected trailing content to be rejected")
	}
	if _, err := canonicalizeJSON([]byte(`{"a":`)); err == nil {
		t.Fatalf("expected malformed JSON to be rejected")
	}
}
