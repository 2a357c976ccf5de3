package risk

import "testing"

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name      string
		deposited float64
		borrowed  float64
		wantLTV   float64
		want      Category
	}{
		{"no exposure", 0, 0, 0, Safe},
		{"zero deposited with debt", 0, 5, 0, Safe},
		{"zero borrowed", 100, 0, 0, Safe},
		{"mid safe", 100, 50, 0.5, Safe},
		{"just under warn", 100, 69.999, 0.69999, Safe},
		{"exactly warn", 100, 70, 0.70, Warning},
		{"mid warning", 100, 75, 0.75, Warning},
		{"just under critical", 100, 79.999, 0.79999, Warning},
		{"exactly critical", 100, 80, 0.80, Critical},
		{"above critical", 100, 95, 0.95, Critical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.deposited, tc.borrowed, th)
			if got.LTV != tc.wantLTV {
				t.Errorf("LTV = %v, want %v", got.LTV, tc.wantLTV)
			}
			if got.Category != tc.want {
				t.Errorf("Category = %v, want %v", got.Category, tc.want)
			}
		})
	}
}

func TestClassifyFlagsMatchCategory(t *testing.T) {
	th := DefaultThresholds()
	for _, borrowed := range []float64{0, 70, 80} {
		a := Classify(100, borrowed, th)
		count := 0
		for _, f := range []bool{a.Safe, a.Warning, a.Critical} {
			if f {
				count++
			}
		}
		if count != 1 {
			t.Errorf("borrowed=%v: expected exactly one flag set, got %d", borrowed, count)
		}
	}
}

func TestClassifyMonotonicInBorrowed(t *testing.T) {
	th := DefaultThresholds()
	rank := map[Category]int{Safe: 0, Warning: 1, Critical: 2}
	prevLTV := -1.0
	prevRank := -1
	for borrowed := 0.0; borrowed <= 120; borrowed += 0.5 {
		a := Classify(100, borrowed, th)
		if a.LTV < prevLTV {
			t.Fatalf("LTV decreased at borrowed=%v", borrowed)
		}
		if rank[a.Category] < prevRank {
			t.Fatalf("category rank decreased at borrowed=%v", borrowed)
		}
		prevLTV = a.LTV
		prevRank = rank[a.Category]
	}
}
