package features

import (
	"math"
	"unicode/utf16"
)

// Entropy returns the Shannon entropy of s in bits per character, where a
// character is a UTF-16 code unit. The empty string has entropy 0.
func Entropy(s string) float64 {
	return entropy(codeUnits(s))
}

func codeUnits(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func entropy(units []uint16) float64 {
	if len(units) == 0 {
		return 0
	}
	counts := make(map[uint16]int)
	for _, u := range units {
		counts[u]++
	}
	length := float64(len(units))
	var h float64
	for _, c := range counts {
		p := float64(c) / length
		h -= p * math.Log2(p)
	}
	return h
}
