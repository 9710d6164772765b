// Package types defines the canonical data model of the proof verification
// core: the ProofType discriminator, the single envelope representation used
// by every internal path, verifier-produced metrics, and the normalized
// ψ-input consumed by the PoIES scorer.
package types

import (
	"fmt"
	"math"
)

// ProofType discriminates the five proof families.
type ProofType uint8

const (
	HashShare ProofType = 0x01
	AI        ProofType = 0x02
	Quantum   ProofType = 0x03
	Storage   ProofType = 0x04
	VDF       ProofType = 0x05
)

// Known reports whether pt is one of the five defined families.
func (pt ProofType) Known() bool {
	return pt >= HashShare && pt <= VDF
}

// String returns the lowercase family name.
func (pt ProofType) String() string {
	switch pt {
	case HashShare:
		return "hashshare"
	case AI:
		return "ai"
	case Quantum:
		return "quantum"
	case Storage:
		return "storage"
	case VDF:
		return "vdf"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(pt))
	}
}

// NullifierDomain returns the capitalized family segment used in domain tags,
// e.g. "Animica/ProofNullifier/HashShare/v1".
func (pt ProofType) NullifierDomain() string {
	switch pt {
	case HashShare:
		return "HashShare"
	case AI:
		return "AI"
	case Quantum:
		return "Quantum"
	case Storage:
		return "Storage"
	case VDF:
		return "VDF"
	default:
		return "Unknown"
	}
}

// AllProofTypes lists the defined families in tag order.
func AllProofTypes() []ProofType {
	return []ProofType{HashShare, AI, Quantum, Storage, VDF}
}

// Body is the decoded, text-keyed proof body map. Nested maps are Body as
// well; byte strings are []byte, unsigned integers are uint64, arrays are
// []any. The CBOR codec produces exactly this shape.
type Body = map[string]any

// ProofEnvelope is the single canonical envelope representation. CBOR decode
// happens once at the boundary (package cbor); all internal paths consume the
// typed form. Envelopes are immutable by convention: verifiers take them by
// pointer and never mutate the body.
type ProofEnvelope struct {
	TypeID    ProofType
	Body      Body
	Nullifier [32]byte
}

// Summary returns a small loggable view of the envelope.
func (e *ProofEnvelope) Summary() map[string]any {
	return map[string]any{
		"type":      e.TypeID.String(),
		"nullifier": fmt.Sprintf("%x", e.Nullifier[:8]),
		"fields":    len(e.Body),
	}
}

// ProofMetrics is the verifier output consumed by the policy adapter.
// Fields not applicable to a proof family are left at their zero value; the
// adapter knows which fields each family emits.
type ProofMetrics struct {
	Kind ProofType

	// Hash share.
	DRatio float64 // S_mu / targetMu, >= 0

	// AI.
	AIUnits    uint64
	TrapsRatio float64 // [0,1]
	Redundancy float64 // >= 1 when applicable
	QoS        float64 // [0,1]

	// Quantum.
	QuantumUnits uint64

	// Storage.
	StorageBytes   uint64
	HeartbeatOK    bool
	RetrievalBonus float64 // [0,1]
	RetrievalFlag  bool

	// VDF.
	VDFSeconds    float64
	VDFIterations uint64
}

// EnsureBounds returns a copy with numeric sanity applied: ratios clamped to
// [0,1] (NaN to 0), DRatio and VDFSeconds floored at 0 (NaN and ±Inf to 0),
// and a nonzero Redundancy below 1 raised to 1.
func (m ProofMetrics) EnsureBounds() ProofMetrics {
	clamp01 := func(x float64) float64 {
		if math.IsNaN(x) || x < 0 {
			return 0
		}
		if x > 1 {
			return 1
		}
		return x
	}
	floor0 := func(x float64) float64 {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
			return 0
		}
		return x
	}
	m.DRatio = floor0(m.DRatio)
	m.TrapsRatio = clamp01(m.TrapsRatio)
	m.QoS = clamp01(m.QoS)
	m.RetrievalBonus = clamp01(m.RetrievalBonus)
	m.VDFSeconds = floor0(m.VDFSeconds)
	if m.Redundancy != 0 && m.Redundancy < 1 {
		m.Redundancy = 1
	}
	return m
}

// Details is the per-verification observability record. Values are plain
// (hex strings, ints, floats, nested Details) and safe to log.
type Details = map[string]any

// PsiInput is a single proof's normalized ψ-input signals.
type PsiInput struct {
	Kind    ProofType
	Signals map[string]float64
}
