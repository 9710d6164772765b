package trapmath

import (
	"math"
	"testing"
)

func TestZFromAlpha(t *testing.T) {
	z, err := ZFromAlpha(0.05)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(z-1.959963984540054) > 1e-6 {
		t.Errorf("z(0.05) = %v, want 1.95996...", z)
	}
	if _, err := ZFromAlpha(0); err == nil {
		t.Error("alpha=0 should error")
	}
	if _, err := ZFromAlpha(1); err == nil {
		t.Error("alpha=1 should error")
	}
}

func TestWilsonLowerBoundValue(t *testing.T) {
	// 970/1000 at alpha=0.05 gives a lower bound near 0.958.
	lb := WilsonLower(970, 1000, 0.05)
	if math.Abs(lb-0.958) > 0.003 {
		t.Errorf("Wilson LB(970/1000) = %v, want ~0.958", lb)
	}
}

func TestWilsonLowerIncreasesWithSampleSize(t *testing.T) {
	// Same observed ratio, more samples: the lower bound tightens upward.
	small := WilsonLower(90, 100, 0.05)
	large := WilsonLower(900, 1000, 0.05)
	if !(small < large) {
		t.Errorf("Wilson LB should grow with n at fixed ratio: %v !< %v", small, large)
	}
	larger := WilsonLower(9000, 10000, 0.05)
	if !(large < larger) {
		t.Errorf("Wilson LB should grow with n: %v !< %v", large, larger)
	}
}

func TestDecisionRuleAtThreshold(t *testing.T) {
	// Threshold 0.9 with z ~= 1.96: 950/1000 accepts, 850/1000 rejects.
	accept, err := Verify(950, 1000, 0.9, 0.05, "wilson")
	if err != nil {
		t.Fatal(err)
	}
	if !accept.Passed {
		t.Errorf("950/1000 vs 0.9 should pass (LB=%v)", accept.CI.Lower)
	}
	reject, err := Verify(850, 1000, 0.9, 0.05, "wilson")
	if err != nil {
		t.Fatal(err)
	}
	if reject.Passed {
		t.Errorf("850/1000 vs 0.9 should fail (LB=%v)", reject.CI.Lower)
	}
}

func TestIntervalsBracketPHat(t *testing.T) {
	for _, method := range []string{"wilson", "clopper-pearson", "hoeffding"} {
		res, err := Verify(42, 60, 0.5, 0.05, method)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		ci := res.CI
		pHat := res.Stats.PHat
		if !(ci.Lower <= pHat && pHat <= ci.Upper) {
			t.Errorf("%s CI [%v,%v] does not bracket p_hat %v", method, ci.Lower, ci.Upper, pHat)
		}
		if ci.Lower < 0 || ci.Upper > 1 {
			t.Errorf("%s CI outside [0,1]: [%v,%v]", method, ci.Lower, ci.Upper)
		}
	}
}

func TestClopperPearsonExtremes(t *testing.T) {
	all, err := ClopperPearson(50, 50, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if all.Upper != 1 {
		t.Errorf("k=n upper = %v, want 1", all.Upper)
	}
	none, err := ClopperPearson(0, 50, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if none.Lower != 0 {
		t.Errorf("k=0 lower = %v, want 0", none.Lower)
	}
	if none.Upper >= 0.2 {
		t.Errorf("k=0/50 upper = %v, want well below 0.2", none.Upper)
	}
}

func TestClopperPearsonTighterThanHoeffding(t *testing.T) {
	cp, _ := ClopperPearson(90, 100, 0.05)
	hf, _ := Hoeffding(90, 100, 0.05)
	if cp.Upper-cp.Lower >= hf.Upper-hf.Lower {
		t.Errorf("exact interval should be tighter: cp width %v, hoeffding width %v",
			cp.Upper-cp.Lower, hf.Upper-hf.Lower)
	}
}

func TestOneSidedPValue(t *testing.T) {
	// Far above target: tiny p-value. Far below: near 1.
	high := OneSidedPValue(990, 1000, 0.9)
	low := OneSidedPValue(700, 1000, 0.9)
	if high > 1e-6 {
		t.Errorf("p-value for 990/1000 vs 0.9 = %v, want ~0", high)
	}
	if low < 0.999 {
		t.Errorf("p-value for 700/1000 vs 0.9 = %v, want ~1", low)
	}
}

func TestSPRT(t *testing.T) {
	// Overwhelming evidence for H1.
	dec, err := SPRT(990, 1000, 0.9, 0.97, 0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Decided || !dec.Accept {
		t.Errorf("SPRT(990/1000) = %+v, want accept", dec)
	}
	// Overwhelming evidence for H0.
	dec, err = SPRT(850, 1000, 0.9, 0.97, 0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Decided || dec.Accept {
		t.Errorf("SPRT(850/1000) = %+v, want reject", dec)
	}
	if _, err := SPRT(1, 2, 0.9, 0.8, 0.01, 0.01); err == nil {
		t.Error("p1 <= p0 should error")
	}
}

func TestMinSamples(t *testing.T) {
	n, err := MinSamplesForMargin(0.9, 0.05, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if n < 100 || n > 1000 {
		t.Errorf("MinSamplesForMargin = %d, want a few hundred", n)
	}
	nh, err := MinSamplesHoeffding(0.05, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if nh < n/2 {
		t.Errorf("Hoeffding sizing %d unexpectedly below Wilson sizing %d", nh, n)
	}
}

func TestNoSamplesErrors(t *testing.T) {
	if _, err := Wilson(0, 0, 0.05); err != ErrNoSamples {
		t.Errorf("Wilson(0,0) err = %v, want ErrNoSamples", err)
	}
	if _, err := NewStats(0, 0); err != ErrNoSamples {
		t.Errorf("NewStats(0,0) err = %v", err)
	}
}
