// Package receipt builds the compact, consensus-stable receipts derived from
// verified proofs. Receipts are the Merkle-leaf material aggregated into the
// proofsRoot committed by block headers; floats never appear on the wire —
// ψ-signals quantize to fixed-point integers with deterministic scales.
package receipt

import (
	"math"
	"sort"

	"github.com/animicaorg/animica-core/cbor"
	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/types"
)

// Hashing domains.
const (
	DomainLeaf      = "animica/proofReceipt/leaf/v1"
	DomainNode      = "animica/merkle/node/v1"
	DomainProofBody = "animica/proofBody/digest/v1"
)

// Version is the receipt schema version.
const Version = 1

// Fixed-point scales per signal key: ratios use 1e9 ticks, units and seconds
// 1e6, booleans 1. Unknown keys fall back to 1e6.
var signalScales = map[string]uint64{
	"d_ratio":         1_000_000_000,
	"traps_ratio":     1_000_000_000,
	"qos":             1_000_000_000,
	"units":           1_000_000,
	"seconds":         1_000_000,
	"redundancy":      1_000_000,
	"heartbeat":       1,
	"retrieval_bonus": 1,
}

const defaultScale = 1_000_000

func scaleFor(key string) uint64 {
	if s, ok := signalScales[key]; ok {
		return s
	}
	return defaultScale
}

// sanitize normalizes a signal value before quantization, mirroring the
// policy adapter conventions.
func sanitize(key string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	switch key {
	case "d_ratio", "traps_ratio", "qos":
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	case "heartbeat", "retrieval_bonus":
		if v != 0 {
			return 1
		}
		return 0
	case "redundancy":
		if v < 1 {
			return 1
		}
		return v
	default:
		if v < 0 {
			return 0
		}
		return v
	}
}

// SignalQ is one quantized (key, value) pair.
type SignalQ struct {
	Key   string
	Value uint64
}

// QuantizeSignals converts float signals into fixed-point pairs sorted by
// key.
func QuantizeSignals(signals map[string]float64) []SignalQ {
	out := make([]SignalQ, 0, len(signals))
	for k, v := range signals {
		q := math.Round(sanitize(k, v) * float64(scaleFor(k)))
		if q < 0 {
			q = 0
		}
		out = append(out, SignalQ{Key: k, Value: uint64(q)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ProofReceipt is the compact receipt hashed into proofsRoot.
type ProofReceipt struct {
	Version     uint64
	TypeID      types.ProofType
	Nullifier   [32]byte
	ProofDigest [32]byte
	SignalsQ    []SignalQ
}

// cborObj renders the receipt with small integer keys:
// {0: version, 1: type_id, 2: nullifier, 3: proof_digest, 4: [[key, v],...]}.
func (r *ProofReceipt) cborObj() map[uint64]any {
	pairs := make([]any, 0, len(r.SignalsQ))
	for _, s := range r.SignalsQ {
		pairs = append(pairs, []any{s.Key, s.Value})
	}
	return map[uint64]any{
		0: r.Version,
		1: uint64(r.TypeID),
		2: r.Nullifier[:],
		3: r.ProofDigest[:],
		4: pairs,
	}
}

// MarshalCBOR encodes the receipt canonically.
func (r *ProofReceipt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(r.cborObj())
}

// LeafHash is SHA3_256(leaf_domain || cbor(receipt)).
func (r *ProofReceipt) LeafHash() ([32]byte, error) {
	enc, err := r.MarshalCBOR()
	if err != nil {
		return [32]byte{}, err
	}
	return hashutil.Sha3256([]byte(DomainLeaf), enc), nil
}

// DigestProofBody commits to the canonical CBOR bytes of a proof body.
func DigestProofBody(bodyCBOR []byte) [32]byte {
	return hashutil.Sha3256([]byte(DomainProofBody), bodyCBOR)
}

// Build creates a version-1 receipt from verified material: the envelope's
// type and nullifier, the canonical body bytes for the commitment, and the
// ψ-signals from the policy adapter.
func Build(pt types.ProofType, nullifier [32]byte, proofBodyCBOR []byte, psiSignals map[string]float64) *ProofReceipt {
	return &ProofReceipt{
		Version:     Version,
		TypeID:      pt,
		Nullifier:   nullifier,
		ProofDigest: DigestProofBody(proofBodyCBOR),
		SignalsQ:    QuantizeSignals(psiSignals),
	}
}

// VerifySignalsMatch re-quantizes the signals and compares them with the
// receipt bit-for-bit.
func VerifySignalsMatch(r *ProofReceipt, psiSignals map[string]float64) bool {
	expected := QuantizeSignals(psiSignals)
	if len(expected) != len(r.SignalsQ) {
		return false
	}
	for i := range expected {
		if expected[i] != r.SignalsQ[i] {
			return false
		}
	}
	return true
}
