// Package curve converts cumulative experience points to levels and back.
package curve

import "math"

// pivotLevel is the last level on the shallow piece of the curve.
const pivotLevel = 25

// pivotXP is the experience required for pivotLevel on either piece.
// 35*25^2 == 100*25^2 - 40625 == 21875, so the curve is continuous there.
const pivotXP = 21875

// steepOffset shifts the steep piece so it meets the shallow piece at the pivot.
const steepOffset = 40625

// XPForLevel returns the cumulative experience required to reach level.
//
// The curve is piecewise quadratic: levels up to 25 cost 35*level^2, and
// levels beyond cost 100*level^2 - 40625. Negative levels clamp to zero.
func XPForLevel(level int) int64 {
	if level <= 0 {
		return 0
	}
	l := int64(level)
	if level <= pivotLevel {
		return 35 * l * l
	}
	return 100*l*l - steepOffset
}

// LevelForXP returns the level reached with the given cumulative experience.
//
// It is the floor-truncated inverse of XPForLevel, monotonically
// non-decreasing in xp. Negative experience clamps to level zero.
func LevelForXP(xp int64) int {
	if xp <= 0 {
		return 0
	}
	if xp <= pivotXP {
		return int(math.Sqrt(float64(xp) / 35))
	}
	return int(math.Sqrt(float64(xp+steepOffset) / 100))
}
