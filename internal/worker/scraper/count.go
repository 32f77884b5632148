package scraper

import (
	"math"
	"strconv"
	"strings"
)

var countSuffixes = map[byte]float64{
	'K': 1e3,
	'M': 1e6,
	'B': 1e9,
}

// ParseCount converts abbreviated engagement counts such as "142.5K",
// "1.2M" or "3B" into integers. Anything it cannot read yields 0.
func ParseCount(text string) int64 {
	var b strings.Builder
	for _, r := range strings.ToUpper(text) {
		if (r >= '0' && r <= '9') || r == '.' || r == 'K' || r == 'M' || r == 'B' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return 0
	}

	mult := 1.0
	if m, ok := countSuffixes[s[len(s)-1]]; ok {
		mult = m
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int64(math.Round(n * mult))
}
