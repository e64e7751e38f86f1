package engine

import "strings"

// FindStop returns the earliest position at or after from where any stop
// string occurs in text, and the stop string found. It returns -1 when none
// occurs.
func FindStop(text string, stops []string, from int) (int, string) {
	if from < 0 {
		from = 0
	}
	if from > len(text) {
		from = len(text)
	}
	best, word := -1, ""
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text[from:], s); i >= 0 {
			if pos := from + i; best < 0 || pos < best {
				best, word = pos, s
			}
		}
	}
	return best, word
}

// PartialStop returns the length of the longest suffix of text that is a
// proper prefix of a stop string. That many trailing bytes must be withheld
// from a stream until the next piece resolves them.
func PartialStop(text string, stops []string) int {
	n := 0
	for _, s := range stops {
		for k := min(len(s)-1, len(text)); k > n; k-- {
			if strings.HasSuffix(text, s[:k]) {
				n = k
				break
			}
		}
	}
	return n
}

// MaxStopLen returns the byte length of the longest stop string.
func MaxStopLen(stops []string) int {
	n := 0
	for _, s := range stops {
		n = max(n, len(s))
	}
	return n
}
