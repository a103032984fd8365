package embedding

import (
	"math"
	"testing"
)

func TestPrepareEmailText_CollapsesWhitespaceAndTruncates(t *testing.T) {
	body := "line one\n\n\tline   two  " + string(make([]byte, 2000))
	got := PrepareEmailText("Hi there", body, "alice@example.com")
	if !contains(got, "From: alice@example.com\nSubject: Hi there\n") {
		t.Fatalf("expected header prefix, got %q", got[:60])
	}
	if len(got) > len("From: alice@example.com\nSubject: Hi there\n")+MaxBodyChars+1 {
		t.Fatalf("expected body truncated to %d chars, got length %d", MaxBodyChars, len(got))
	}
}

func TestEncode_DeterministicAndUnitNorm(t *testing.T) {
	m := NewModel(DefaultDimension)
	v1 := m.Encode("From: a@b.com\nSubject: hello\nworld")
	v2 := m.Encode("From: a@b.com\nSubject: hello\nworld")

	if len(v1) != DefaultDimension {
		t.Fatalf("expected dimension %d, got %d", DefaultDimension, len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("encode not deterministic at index %d: %v != %v", i, v1[i], v2[i])
		}
	}

	var sumSq float64
	for _, f := range v1 {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-3 {
		t.Fatalf("expected unit norm, got %v", norm)
	}
}

func TestEncode_DistinctTextsDiffer(t *testing.T) {
	m := NewModel(32)
	v1 := m.Encode("hello world")
	v2 := m.Encode("goodbye world")

	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected distinct texts to produce distinct vectors")
	}
}

func TestEncodeBatch_PreservesOrder(t *testing.T) {
	m := NewModel(16)
	texts := []string{"one", "two", "three"}
	batch := m.EncodeBatch(texts)
	if len(batch) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(batch))
	}
	for i, text := range texts {
		single := m.Encode(text)
		for j := range single {
			if single[j] != batch[i][j] {
				t.Fatalf("batch[%d] diverges from single encode at %d", i, j)
			}
		}
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && s[:len(sub)] == sub
}
