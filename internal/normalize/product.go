package normalize

import (
	"strings"

	"github.com/voicedesk/voicequote/internal/domain"
)

// MatchThreshold is the minimum similarity score a catalog product must reach
// to be accepted as the match for a caller's wording.
const MatchThreshold = 0.6

// substringBoost is the floor score applied when one name contains the other
const substringBoost = 0.7

// MatchProduct resolves the caller's wording against the catalog. An exact
// case-insensitive name match wins outright; otherwise the best fuzzy match is
// accepted only if it clears MatchThreshold. Returns false when nothing does.
func MatchProduct(userText string, catalog []domain.Product) (domain.Product, bool) {
	text := strings.ToLower(strings.TrimSpace(userText))
	if text == "" || len(catalog) == 0 {
		return domain.Product{}, false
	}

	for _, product := range catalog {
		if strings.ToLower(product.Name) == text {
			return product, true
		}
	}

	var best domain.Product
	bestScore := 0.0
	for _, product := range catalog {
		name := strings.ToLower(product.Name)
		score := Similarity(text, name)
		if len(text) >= 3 && len(name) >= 3 &&
			(strings.Contains(name, text) || strings.Contains(text, name)) &&
			score < substringBoost {
			score = substringBoost
		}
		if score > bestScore {
			bestScore = score
			best = product
		}
	}

	if bestScore >= MatchThreshold {
		return best, true
	}
	return domain.Product{}, false
}

// Similarity returns a ratio in [0,1] of how alike two strings are: twice the
// total length of their longest matching blocks over the combined length.
func Similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := matchingChars(a, b)
	return 2 * float64(matched) / float64(len(a)+len(b))
}

// matchingChars sums the longest common substring, then recurses into the
// unmatched text on either side of it.
func matchingChars(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:ai], b[:bi])
	total += matchingChars(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonSubstring(a, b string) (ai, bi, size int) {
	// lengths[j] is the length of the common suffix ending at a[i], b[j]
	lengths := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		// walk j backwards so lengths[j] still holds the previous row
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lengths[j+1] = lengths[j] + 1
				if lengths[j+1] > size {
					size = lengths[j+1]
					ai = i - size + 1
					bi = j - size + 1
				}
			} else {
				lengths[j+1] = 0
			}
		}
	}
	return ai, bi, size
}
