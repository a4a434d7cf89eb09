package normalize

import "testing"

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already lower", "acme corp", "acme corp"},
		{"mixed case", "Acme Corp", "acme corp"},
		{"punctuation stripped", "A.I.", "ai"},
		{"leading trailing space", "  Acme Corp  ", "acme corp"},
		{"hyphen preserved", "Anti-Inflammatory", "anti-inflammatory"},
		{"internal punctuation collapses", "O'Reilly, Inc.", "oreilly inc"},
		{"multiple spaces collapse", "Acme   Corp", "acme corp"},
		{"nfkc fullwidth digits", "ACME１", "acme1"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeName(tt.in, true)
			if got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeNameDisabled(t *testing.T) {
	if got := NormalizeName("Acme Corp", false); got != "Acme Corp" {
		t.Errorf("NormalizeName disabled should be identity, got %q", got)
	}
}

func TestCanonicalIDDeterministicAndCaseInsensitive(t *testing.T) {
	a := CanonicalID("Acme Corp", "a company", true)
	b := CanonicalID("acme corp", "a company", true)
	if a != b {
		t.Errorf("expected case-insensitive canonical IDs to match, got %q and %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16-char canonical ID, got %d chars: %q", len(a), a)
	}

	c := CanonicalID("Acme Corp", "a different company", true)
	if a == c {
		t.Errorf("expected different descriptions to produce different canonical IDs")
	}
}

func TestCanonicalIDDescriptionTruncatedAt100(t *testing.T) {
	base := "x"
	longDesc := base
	for len(longDesc) < 200 {
		longDesc += base
	}
	a := CanonicalID("Acme", longDesc[:100], true)
	b := CanonicalID("Acme", longDesc, true)
	if a != b {
		t.Errorf("expected descriptions beyond the 100-char prefix to not affect canonical_id")
	}
}

func TestCanonicalIDDisabledReturnsName(t *testing.T) {
	if got := CanonicalID("Acme", "desc", false); got != "Acme" {
		t.Errorf("CanonicalID disabled should return the name unchanged, got %q", got)
	}
}

func TestEmbeddingInput(t *testing.T) {
	if got := EmbeddingInput("Acme", "", true); got != "acme" {
		t.Errorf("EmbeddingInput with no description = %q, want %q", got, "acme")
	}
	if got := EmbeddingInput("Acme", "a company", true); got != "acme a company" {
		t.Errorf("EmbeddingInput = %q, want %q", got, "acme a company")
	}
	if got := EmbeddingInput("Acme", "a company", false); got != "Acme" {
		t.Errorf("EmbeddingInput legacy mode should return raw name, got %q", got)
	}
}
