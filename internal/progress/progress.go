// Package progress mines advisory completion percentages out of unstructured
// process output. The extraction is heuristic text matching and must never be
// relied upon for correctness, only for user feedback.
package progress

import (
	"math"
	"regexp"
	"strconv"
)

// pattern pairs a compiled expression with a function deriving a percentage
// from its submatches. ok=false means the match should be ignored (e.g. a
// zero denominator) and evaluation continues with the next pattern.
type pattern struct {
	re     *regexp.Regexp
	derive func(m []string) (float64, bool)
}

var patterns = []pattern{
	// Bare percentage: "Processing 50%", "progress 12.5%"
	{
		re: regexp.MustCompile(`(\d+(?:\.\d+)?)%`),
		derive: func(m []string) (float64, bool) {
			v, err := strconv.ParseFloat(m[1], 64)
			return v, err == nil
		},
	},
	// Fraction: "7/20"
	{
		re:     regexp.MustCompile(`(\d+)\s*/\s*(\d+)`),
		derive: fraction,
	},
	// "Progress: 42"
	{
		re: regexp.MustCompile(`(?i)progress:\s*(\d+(?:\.\d+)?)`),
		derive: func(m []string) (float64, bool) {
			v, err := strconv.ParseFloat(m[1], 64)
			return v, err == nil
		},
	},
	// "Step 3 of 5"
	{
		re:     regexp.MustCompile(`(?i)step\s+(\d+)\s+of\s+(\d+)`),
		derive: fraction,
	},
	// Bracketed fraction: "[4/10]"
	{
		re:     regexp.MustCompile(`\[(\d+)\s*/\s*(\d+)\]`),
		derive: fraction,
	},
}

func fraction(m []string) (float64, bool) {
	cur, err1 := strconv.ParseFloat(m[1], 64)
	total, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || total == 0 {
		return 0, false
	}
	return cur / total * 100, true
}

// Extract applies the ordered pattern list to one line of output and returns
// the first match's percentage, clamped to [0,100]. ok=false means no pattern
// matched and the caller must not update any displayed progress.
func Extract(line string) (int, bool) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, ok := p.derive(m)
		if !ok {
			continue
		}
		return clamp(int(math.Round(v))), true
	}
	return 0, false
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
