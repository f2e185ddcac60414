// Package guard flags generated text that reproduces protected instruction
// text verbatim or near-verbatim. Models occasionally regurgitate their
// system prompt when asked to; exact matching misses lightly paraphrased
// copies, so lines are compared with a fuzzy similarity ratio instead.
package guard

import "strings"

// LeakThreshold is the similarity ratio above which a line counts as a leak.
// Chosen to reject prompt echoes without tripping on legitimate answers that
// merely share vocabulary with the instructions.
const LeakThreshold = 0.8

// Leaked reports whether any line of text is near-identical to any of the
// protected phrases. Comparison is case-insensitive. Callers re-scan the full
// accumulated text as it grows, since a leaked phrase may straddle whatever
// boundary the caller flushes at.
func Leaked(text string, protected []string) bool {
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		for _, phrase := range protected {
			if phrase == "" {
				continue
			}
			if Ratio(strings.ToLower(line), strings.ToLower(phrase)) > LeakThreshold {
				return true
			}
		}
	}
	return false
}

// Ratio computes a similarity ratio in [0, 1] between two strings:
// 2*M / (len(a)+len(b)), where M is the total number of matching characters
// found by recursively taking the longest common substring and matching the
// pieces to its left and right (Ratcliff/Obershelp). Identical strings score
// 1, disjoint strings 0.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingChars(ra, rb)) / float64(total)
}

func matchingChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, n := longestCommonSubstring(a, b)
	if n == 0 {
		return 0
	}
	return n +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+n:], b[bi+n:])
}

// longestCommonSubstring returns the start indices and length of the longest
// run of runes common to a and b.
func longestCommonSubstring(a, b []rune) (ai, bi, n int) {
	// prev[j] holds the match run length ending at a[i-1], b[j-1].
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > n {
					n = cur[j]
					ai = i - n
					bi = j - n
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, n
}
