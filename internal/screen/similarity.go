package screen

import (
	"strings"
	"unicode"
)

// LabelSimilarity scores two incident labels. CJK labels compare by the
// Jaccard index of their character sets; labels without CJK characters score
// 1.0 when either is a substring of the other, else 0.
func LabelSimilarity(left, right string) float64 {
	a := strings.TrimSpace(left)
	b := strings.TrimSpace(right)
	if a == "" || b == "" {
		return 0
	}

	if containsHan(a) || containsHan(b) {
		return runeSetJaccard(a, b)
	}

	la := strings.ToLower(a)
	lb := strings.ToLower(b)
	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return 1.0
	}
	return 0
}

func runeSetJaccard(left, right string) float64 {
	leftSet := runeSet(left)
	rightSet := runeSet(right)
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for r := range leftSet {
		if _, ok := rightSet[r]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func runeSet(text string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(text))
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}

// NearDuplicateThreshold is the minimum title similarity at which two
// articles count as coverage of the same story.
const NearDuplicateThreshold = 0.7

// TitleSimilarity scores two article titles for near-duplicate grouping,
// using character trigram Jaccard which behaves for both CJK and Latin text.
func TitleSimilarity(left, right string) float64 {
	leftSet := trigramSet(left)
	rightSet := trigramSet(right)
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for gram := range leftSet {
		if _, ok := rightSet[gram]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func trigramSet(text string) map[string]struct{} {
	normalized := normalizeForSimilarity(text)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func normalizeForSimilarity(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// GroupNearDuplicateTitles partitions indices into groups of near-duplicate
// titles. Greedy: each title joins the first existing group whose
// representative title is similar enough.
func GroupNearDuplicateTitles(titles []string, threshold float64) [][]int {
	groups := make([][]int, 0, len(titles))
	for i, title := range titles {
		placed := false
		for gi, group := range groups {
			if TitleSimilarity(titles[group[0]], title) >= threshold {
				groups[gi] = append(groups[gi], i)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []int{i})
		}
	}
	return groups
}
