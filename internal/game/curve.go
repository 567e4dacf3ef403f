package game

import (
	"math"
	"time"
)

// growthRate is the exponent of the published multiplier curve. It is part of
// the fairness contract: clients reproduce the displayed multiplier from
// elapsed time alone.
const growthRate = 0.09

// Multiplier returns the display multiplier after elapsed running time:
//
//	m(t) = floor(100 * e^(0.09t)) / 100
//
// Monotonic, continuous, starts at 1.00, reaches 2.00x at ~7.7s and the
// 5000x cap at ~94.6s.
func Multiplier(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1.00
	}
	m := math.Exp(growthRate * elapsed.Seconds())
	return math.Floor(m*100) / 100
}

// TimeToMultiplier inverts the curve: the elapsed time at which the display
// multiplier first reaches m. Used to bound the round watchdog.
func TimeToMultiplier(m float64) time.Duration {
	if m <= 1 {
		return 0
	}
	return time.Duration(math.Log(m) / growthRate * float64(time.Second))
}
