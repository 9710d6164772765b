package mathutil

import (
	"math"
	"testing"
)

func TestClamp01(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.25, 0.25},
		{1, 1},
		{1.5, 1},
		{math.NaN(), 0},
	}
	for _, c := range cases {
		if got := Clamp01(c.in); got != c.want {
			t.Errorf("Clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSafeLn(t *testing.T) {
	if v, err := SafeLn(1.0); err != nil || math.Abs(v) > 1e-15 {
		t.Errorf("SafeLn(1) = %v, %v", v, err)
	}
	if _, err := SafeLn(-1); err == nil {
		t.Error("SafeLn(-1) should error")
	}
	if _, err := SafeLn(math.NaN()); err == nil {
		t.Error("SafeLn(NaN) should error")
	}
	// Zero promotes to the minimum positive value instead of -Inf.
	v, err := SafeLn(0)
	if err != nil || math.IsInf(v, -1) {
		t.Errorf("SafeLn(0) = %v, %v", v, err)
	}
}

func TestHOfU(t *testing.T) {
	v, err := HOfU(0.5)
	if err != nil {
		t.Fatalf("HOfU(0.5): %v", err)
	}
	if v < 0.69 || v > 0.70 {
		t.Errorf("HOfU(0.5) = %v, want ~0.693", v)
	}
	for _, bad := range []float64{0, -1, 1.1, math.NaN()} {
		if _, err := HOfU(bad); err == nil {
			t.Errorf("HOfU(%v) should error", bad)
		}
	}
	if v, _ := HOfU(1.0); v != 0 {
		t.Errorf("HOfU(1) = %v, want 0", v)
	}
}

func TestMunatsRoundTrip(t *testing.T) {
	mu, err := ToMunats(1.234567)
	if err != nil {
		t.Fatal(err)
	}
	if mu != 1234567 {
		t.Errorf("ToMunats(1.234567) = %d, want 1234567", mu)
	}
	if got := FromMunats(mu); math.Abs(got-1.234567) > 1e-12 {
		t.Errorf("FromMunats(%d) = %v", mu, got)
	}
}

func TestRatio(t *testing.T) {
	if Ratio(10, 2, 0) != 5 {
		t.Error("Ratio(10,2) != 5")
	}
	if Ratio(0, 0, 0) != 0 {
		t.Error("Ratio(0,0) default not honored")
	}
	if Ratio(1, 0, 0) != 1e300 {
		t.Error("Ratio(x,0) should clamp to the finite sentinel")
	}
	if got := RatioClamped(3, 2, 0, 1); got != 1 {
		t.Errorf("RatioClamped(3,2,0,1) = %v", got)
	}
}

func TestLatencyScoreCurve(t *testing.T) {
	// 0ms -> 1.0 exactly.
	if got := LatencyScore(0, 1000); got != 1 {
		t.Errorf("LatencyScore(0) = %v", got)
	}
	// scaleMs lands near the half-way point of the squash.
	mid := LatencyScore(1000, 1000)
	if mid < 0.5 || mid > 0.62 {
		t.Errorf("LatencyScore(scale) = %v, want ~0.57", mid)
	}
	// 4x scale hits zero.
	if got := LatencyScore(4000, 1000); got != 0 {
		t.Errorf("LatencyScore(4*scale) = %v, want 0", got)
	}
	// Monotone non-increasing in latency.
	prev := 1.0
	for _, ms := range []uint64{1, 10, 100, 500, 1000, 2000, 3999} {
		v := LatencyScore(ms, 1000)
		if v > prev {
			t.Errorf("LatencyScore not monotone at %dms: %v > %v", ms, v, prev)
		}
		prev = v
	}
}

func TestNextPow2(t *testing.T) {
	cases := []struct{ in, want uint64 }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {4, 4}, {5, 8}, {1023, 1024}, {1024, 1024}, {1025, 2048},
	}
	for _, c := range cases {
		if got := NextPow2(c.in); got != c.want {
			t.Errorf("NextPow2(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
