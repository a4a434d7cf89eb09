// Package normalize implements the pure functions that turn raw
// extracted entity names into the canonical, deduplicatable form the
// graph store keys on.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// descriptionPrefixLen bounds how much of an entity's description feeds
// into its canonical ID, per the fixed digest recipe.
const descriptionPrefixLen = 100

// NormalizeName folds a surface-form entity name to its canonical
// comparison form: NFKC normalization, lowercasing, trimming, dropping
// every character except letters, digits, whitespace, and hyphens, and
// collapsing internal whitespace to a single space. If enabled is
// false, the name is returned unchanged.
func NormalizeName(name string, enabled bool) string {
	if !enabled {
		return name
	}

	folded := norm.NFKC.String(strings.ToLower(strings.TrimSpace(name)))

	var b strings.Builder
	b.Grow(len(folded))
	prevSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && b.Len() > 0 {
				b.WriteRune(' ')
				prevSpace = true
			}
		default:
			// dropped, not replaced with a space, so "A.I." and "AI"
			// normalize identically.
		}
	}
	return strings.TrimSpace(b.String())
}

// CanonicalID derives the deduplication key for an entity: the first 16
// hex characters of the SHA-256 digest of its normalized name and the
// first 100 characters of its description. If enabled is false, the
// name is returned unchanged as its own canonical_id.
func CanonicalID(name, description string, enabled bool) string {
	if !enabled {
		return name
	}

	desc := description
	if runes := []rune(desc); len(runes) > descriptionPrefixLen {
		desc = string(runes[:descriptionPrefixLen])
	}
	digest := NormalizeName(name, true) + "::" + desc
	sum := sha256.Sum256([]byte(digest))
	return hex.EncodeToString(sum[:])[:16]
}

// EmbeddingInput builds the text sent to the embedding model for a
// candidate entity. When enhanced, it concatenates the normalized name
// and description; otherwise it returns the raw name.
func EmbeddingInput(name, description string, enhanced bool) string {
	if !enhanced {
		return name
	}
	normalized := NormalizeName(name, true)
	if description == "" {
		return normalized
	}
	return normalized + " " + description
}
