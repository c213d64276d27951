package leveling

import (
	"math"
	"testing"
)

func TestRequiredXP(t *testing.T) {
	cases := map[int]int64{0: 100, 1: 155, 2: 220, 10: 1100}
	for level, want := range cases {
		if got := RequiredXP(level); got != want {
			t.Fatalf("level %d: expected %d, got %d", level, want, got)
		}
	}
}

func TestLevelForXP(t *testing.T) {
	cases := []struct {
		xp    int64
		level int
	}{
		{0, 0},
		{99, 0},
		{100, 1},
		{254, 1},
		{255, 2},
		{474, 2},
		{475, 3},
	}
	for _, tc := range cases {
		if got := LevelForXP(tc.xp); got != tc.level {
			t.Fatalf("xp %d: expected level %d, got %d", tc.xp, tc.level, got)
		}
	}
}

func TestLevelMonotonic(t *testing.T) {
	previous := 0
	for xp := int64(0); xp < 50000; xp += 7 {
		level := LevelForXP(xp)
		if level < previous {
			t.Fatalf("level decreased at xp %d", xp)
		}
		previous = level
	}
}

func TestTotalXPForLevelMatchesCurve(t *testing.T) {
	for level := 0; level < 30; level++ {
		total := TotalXPForLevel(level)
		if got := LevelForXP(total); got != level {
			t.Fatalf("total %d: expected level %d, got %d", total, level, got)
		}
		if level > 0 && LevelForXP(total-1) != level-1 {
			t.Fatalf("one xp short of level %d should stay at %d", level, level-1)
		}
	}
}

func TestProgress(t *testing.T) {
	level, into, needed := Progress(300)
	if level != 2 || into != 45 || needed != 220 {
		t.Fatalf("unexpected progress %d %d %d", level, into, needed)
	}
}

func TestCompose(t *testing.T) {
	if got := Compose(10, 2, 3); got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}
	if got := Compose(15, 1.5, 1); got != 23 {
		t.Fatalf("expected rounding to 23, got %d", got)
	}
	if got := Compose(10, 0, 1); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := Compose(15, 1e18, 1e3); got != math.MaxInt64 {
		t.Fatalf("expected saturation at MaxInt64, got %d", got)
	}
	if got := Compose(15, math.Inf(1), 1); got != math.MaxInt64 {
		t.Fatalf("expected saturation for infinite factor, got %d", got)
	}
}
