package paper

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"
)

// Identity derives the dedup key for a candidate: the stable hash of its
// normalized URL, or a title+first-author hash when no usable URL exists.
// An empty string means the candidate carries nothing to key on.
func Identity(c Candidate) string {
	if c.URL != "" {
		if normalized, err := NormalizeURL(c.URL); err == nil {
			return fmt.Sprintf("u:%016x", stableHash(normalized))
		}
	}
	title := normalizeText(c.Title)
	if title == "" {
		return ""
	}
	author := ""
	if len(c.Authors) > 0 {
		author = normalizeText(c.Authors[0])
	}
	return fmt.Sprintf("t:%016x", stableHash(title+"|"+author))
}

// stableHash folds SHA-256 down to 64 bits. Unlike the runtime's string hash
// it is identical across processes and runs, which the store's unique index
// depends on.
func stableHash(text string) uint64 {
	if text == "" {
		return 0
	}
	sum := sha256.Sum256([]byte(text))
	return binary.BigEndian.Uint64(sum[:8])
}

// normalizeText lowercases and strips everything except letters and digits,
// so punctuation and spacing differences between sources do not split
// identities.
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
