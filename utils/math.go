// Package utils contains small helpers shared by the gripper packages.
package utils

import (
	"math"

	"github.com/samber/lo"
)

// MaxRaw is the top of the gripper's native 0-255 scale.
const MaxRaw = 255

// MaxPercent is the top of the human-facing travel scale.
const MaxPercent = 100.0

// ClampRaw clamps n into [0, MaxRaw].
func ClampRaw(n int) int {
	return lo.Clamp(n, 0, MaxRaw)
}

// ClampPercent clamps pct into [0, MaxPercent]. NaN clamps to 0.
func ClampPercent(pct float64) float64 {
	if math.IsNaN(pct) {
		return 0
	}
	return lo.Clamp(pct, 0, MaxPercent)
}

// PercentToRaw maps a travel percentage onto the raw scale as round(pct*255/100).
// The input is clamped first so the result is always within [0, MaxRaw].
func PercentToRaw(pct float64) int {
	scaled := math.Round(ClampPercent(pct) * MaxRaw / MaxPercent)
	return ClampRaw(int(scaled))
}

// RawToPercent is the inverse of PercentToRaw, without rounding.
func RawToPercent(raw int) float64 {
	return float64(ClampRaw(raw)) * MaxPercent / MaxRaw
}
