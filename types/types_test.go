package types

import (
	"math"
	"testing"
)

func TestProofTypeNames(t *testing.T) {
	cases := []struct {
		pt   ProofType
		name string
	}{
		{HashShare, "hashshare"},
		{AI, "ai"},
		{Quantum, "quantum"},
		{Storage, "storage"},
		{VDF, "vdf"},
	}
	for _, c := range cases {
		if c.pt.String() != c.name {
			t.Errorf("%d.String() = %q, want %q", c.pt, c.pt.String(), c.name)
		}
		if !c.pt.Known() {
			t.Errorf("%q not Known", c.name)
		}
	}
	if ProofType(0).Known() || ProofType(6).Known() {
		t.Error("out-of-range types must not be Known")
	}
}

func TestAllProofTypesOrdered(t *testing.T) {
	all := AllProofTypes()
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i] <= all[i-1] {
			t.Error("AllProofTypes not in tag order")
		}
	}
}

func TestEnsureBounds(t *testing.T) {
	m := ProofMetrics{
		Kind:       AI,
		DRatio:     -1,
		TrapsRatio: 1.5,
		QoS:        math.NaN(),
		Redundancy: 0.2,
		VDFSeconds: math.Inf(1),
	}
	b := m.EnsureBounds()
	if b.DRatio != 0 {
		t.Errorf("DRatio = %v, want 0", b.DRatio)
	}
	if b.TrapsRatio != 1 {
		t.Errorf("TrapsRatio = %v, want 1", b.TrapsRatio)
	}
	if b.QoS != 0 {
		t.Errorf("QoS = %v, want 0", b.QoS)
	}
	if b.Redundancy != 1 {
		t.Errorf("Redundancy = %v, want 1", b.Redundancy)
	}
	if b.VDFSeconds != 0 {
		t.Errorf("VDFSeconds = %v, want 0", b.VDFSeconds)
	}
	// Zero redundancy means "not applicable" and stays zero.
	if z := (ProofMetrics{}).EnsureBounds(); z.Redundancy != 0 {
		t.Errorf("zero redundancy got promoted to %v", z.Redundancy)
	}
}
