package volume

import (
	"math"
	"time"
)

// m3PerMMArea converts mm of water over one area unit (ha) to m³.
const m3PerMMArea = 10.0

// RequiredVolume is the water (m³) needed to apply depthMM on a plot of the
// given area, wetted-area fraction wa and irrigation efficiency ie.
func RequiredVolume(depthMM, area, wa, ie float64) float64 {
	if ie <= 0 {
		return 0
	}
	return depthMM * area * m3PerMMArea * wa / ie
}

// DepthFromVolume is the inverse of RequiredVolume.
func DepthFromVolume(volumeM3, area, wa, ie float64) float64 {
	den := area * m3PerMMArea * wa
	if den <= 0 {
		return 0
	}
	return volumeM3 * ie / den
}

// Integrate charges elapsed at the rate of prevLevel, the level in effect
// for the whole interval. Non-positive intervals contribute nothing.
func Integrate(t *FlowRateTable, prevLevel int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return t.Rate(prevLevel) * elapsed.Minutes()
}

// Reading is a level observation used by Accumulate.
type Reading struct {
	Level int
	At    time.Time
}

// Accumulate sums Integrate over each consecutive pair of readings.
func Accumulate(t *FlowRateTable, readings []Reading) float64 {
	total := 0.0
	for i := 1; i < len(readings); i++ {
		total += Integrate(t, readings[i-1].Level, readings[i].At.Sub(readings[i-1].At))
	}
	return total
}

// TimeToDeliver estimates how long remainingM3 takes at rate (m³/min).
// ok is false when the rate is zero, i.e. no estimate can be made.
func TimeToDeliver(remainingM3, rate float64) (d time.Duration, ok bool) {
	if rate <= 0 {
		return 0, false
	}
	if remainingM3 <= 0 {
		return 0, true
	}
	minutes := remainingM3 / rate
	if math.IsInf(minutes, 0) || minutes > float64(math.MaxInt64/int64(time.Minute)) {
		return 0, false
	}
	return time.Duration(minutes * float64(time.Minute)), true
}
