// Package mathutil provides the deterministic numeric helpers shared by the
// proof verifiers: clamps, guarded logarithms, µ-nat fixed-point conversions,
// safe ratios, and the latency squash curves used for QoS scoring.
//
// All functions validate their inputs explicitly; NaNs and infinities never
// propagate into consensus-visible values.
package mathutil

import (
	"errors"
	"math"
)

// MunatsPerNat is the µ-nat fixed-point scale: 1 nat = 1_000_000 µnats.
const MunatsPerNat = 1_000_000

// lnMinPos is the smallest positive value accepted by SafeLn, well inside
// double range without flushing to zero.
const lnMinPos = 1e-300

var (
	errNonFinite = errors.New("mathutil: non-finite input")
	errNegative  = errors.New("mathutil: negative input")
	errDomain    = errors.New("mathutil: input outside (0,1]")
)

// Clamp returns x limited to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Clamp01 returns x limited to [0,1]; NaN maps to 0.
func Clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return Clamp(x, 0, 1)
}

// Floor0 returns max(x, 0); NaN maps to 0.
func Floor0(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	return x
}

// AtLeastOne returns max(x, 1); NaN maps to 1.
func AtLeastOne(x float64) float64 {
	if math.IsNaN(x) || x < 1 {
		return 1
	}
	return x
}

// SafeLn is a natural log with its argument clamped to [lnMinPos, +big].
// It errors on NaN/Inf and on negative input; zero is promoted to lnMinPos.
func SafeLn(x float64) (float64, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, errNonFinite
	}
	if x < 0 {
		return 0, errNegative
	}
	if x < lnMinPos {
		x = lnMinPos
	}
	return math.Log(x), nil
}

// SafeExp is exp(x) with the argument clamped to [-700, 700] to stay finite.
func SafeExp(x float64) (float64, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, errNonFinite
	}
	return math.Exp(Clamp(x, -700, 700)), nil
}

// HOfU computes the PoIES work draw H(u) = -ln(u) for u in (0,1].
func HOfU(u float64) (float64, error) {
	if math.IsNaN(u) || math.IsInf(u, 0) {
		return 0, errNonFinite
	}
	if u <= 0 || u > 1 {
		return 0, errDomain
	}
	if u < lnMinPos {
		u = lnMinPos
	}
	return -math.Log(u), nil
}

// ToMunats converts floating-point nats to integer µ-nats, rounding to
// nearest.
func ToMunats(nats float64) (int64, error) {
	if math.IsNaN(nats) || math.IsInf(nats, 0) {
		return 0, errNonFinite
	}
	return int64(math.Round(nats * MunatsPerNat)), nil
}

// FromMunats converts integer µ-nats back to floating-point nats.
func FromMunats(mu int64) float64 { return float64(mu) / MunatsPerNat }

// Ratio returns dividend/divisor with zero-divisor handling: 0/0 yields def,
// x/0 for x != 0 yields a large finite sentinel to keep downstream math
// finite.
func Ratio(dividend, divisor, def float64) float64 {
	if divisor == 0 {
		if dividend == 0 {
			return def
		}
		return 1e300
	}
	return dividend / divisor
}

// RatioClamped is Ratio followed by a clamp into [lo, hi].
func RatioClamped(dividend, divisor, lo, hi float64) float64 {
	return Clamp(Ratio(dividend, divisor, 0), lo, hi)
}

// LatencyScore maps a latency measurement to [0,1] using a soft logarithmic
// squash: 0ms -> 1.0, scaleMs -> ~0.57, 4*scaleMs -> 0.0.
func LatencyScore(latencyMs uint64, scaleMs float64) float64 {
	if scaleMs <= 0 {
		return 0
	}
	v := 1.0 - math.Log1p(float64(latencyMs)/scaleMs)/math.Log1p(4.0)
	return Clamp01(v)
}

// NextPow2 returns the smallest power of two >= n, with NextPow2(0) == 1.
func NextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
