package progress

import "testing"

func TestExtract(t *testing.T) {
	cases := []struct {
		line    string
		want    int
		matched bool
	}{
		{"Processing 50%", 50, true},
		{"progress 12.5%", 13, true},
		{"Step 3 of 5", 60, true},
		{"step 1 OF 4", 25, true},
		{"[4/10]", 40, true},
		{"7/20 pages done", 35, true},
		{"Progress: 42", 42, true},
		{"PROGRESS: 99.6", 100, true},
		{"no progress info", 0, false},
		{"", 0, false},
		{"done!", 0, false},
	}
	for _, tc := range cases {
		got, ok := Extract(tc.line)
		if ok != tc.matched {
			t.Errorf("Extract(%q): matched=%v, want %v", tc.line, ok, tc.matched)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("Extract(%q) = %d, want %d", tc.line, got, tc.want)
		}
	}
}

func TestExtractFirstPatternWins(t *testing.T) {
	// The bare percentage pattern is evaluated before fractions.
	got, ok := Extract("75% [1/10]")
	if !ok || got != 75 {
		t.Fatalf("got %d ok=%v, want 75", got, ok)
	}
}

func TestExtractClamps(t *testing.T) {
	got, ok := Extract("overall 250%")
	if !ok || got != 100 {
		t.Fatalf("got %d ok=%v, want clamped 100", got, ok)
	}
}

func TestExtractZeroDenominator(t *testing.T) {
	// 3/0 is no-match for the fraction pattern; nothing else matches either.
	if _, ok := Extract("chunk 3/0"); ok {
		t.Fatal("expected no match for zero denominator")
	}
}
