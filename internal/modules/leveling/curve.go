package leveling

import "math"

// RequiredXP is the XP needed to advance from level to level+1.
func RequiredXP(level int) int64 {
	if level < 0 {
		level = 0
	}
	n := int64(level)
	return 5*n*n + 50*n + 100
}

// TotalXPForLevel is the cumulative XP at which level is reached.
func TotalXPForLevel(level int) int64 {
	var total int64
	for n := 0; n < level; n++ {
		total += RequiredXP(n)
	}
	return total
}

func LevelForXP(xp int64) int {
	level, _, _ := Progress(xp)
	return level
}

// Progress splits cumulative XP into the current level, the XP earned inside
// it, and the XP that level requires.
func Progress(xp int64) (level int, into int64, needed int64) {
	level = 0
	for xp >= RequiredXP(level) {
		xp -= RequiredXP(level)
		level++
	}
	if xp < 0 {
		xp = 0
	}
	return level, xp, RequiredXP(level)
}

// Compose applies the channel factor and the best role factor to base and
// rounds to the nearest integer. Results below zero become zero and results
// past the int64 range saturate.
func Compose(base, channelMultiplier, roleMultiplier float64) int64 {
	value := math.Round(base * channelMultiplier * roleMultiplier)
	if value <= 0 || math.IsNaN(value) {
		return 0
	}
	if value >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(value)
}
