package verify

import (
	"bytes"
	"math"
	"testing"

	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/types"
)

func hashShareBody(t *testing.T, headerFill, mixFill byte, nonce uint64) types.Body {
	t.Helper()
	header := bytes.Repeat([]byte{headerFill}, 32)
	mix := bytes.Repeat([]byte{mixFill}, 32)
	u := recomputeUDigest(header, nonce, mix)
	return types.Body{
		"headerHash": header,
		"nonce":      nonce,
		"u":          u[:],
		"mixSeed":    mix,
		"algo":       "sha3-256",
	}
}

func hashShareEnvelope(body types.Body) *types.ProofEnvelope {
	return &types.ProofEnvelope{TypeID: types.HashShare, Body: body}
}

// measuredSMu mirrors the verifier's work computation for test expectations.
func measuredSMu(t *testing.T, body types.Body) int64 {
	t.Helper()
	var u32 [32]byte
	copy(u32[:], body["u"].([]byte))
	u, err := uScalar(u32)
	if err != nil {
		t.Fatal(err)
	}
	return int64(math.Round(-math.Log(u) * 1e6))
}

func TestHashShareAccept(t *testing.T) {
	// Seed scenario: headerHash 0x11..11, nonce 0xdeadbeefcafebabe,
	// mixSeed 0x22..22, target equal to the measured work so the share
	// meets it with d_ratio >= 1.
	body := hashShareBody(t, 0x11, 0x22, 0xdeadbeefcafebabe)
	sMu := measuredSMu(t, body)
	if sMu < 1 {
		t.Skipf("degenerate draw for fixed constants (S_mu=%d)", sMu)
	}
	body["targetMu"] = uint64(sMu)

	metrics, details, err := HashShare(hashShareEnvelope(body), nil)
	if err != nil {
		t.Fatal(err)
	}
	if metrics.Kind != types.HashShare {
		t.Errorf("kind = %v", metrics.Kind)
	}
	if metrics.DRatio < 1.0 {
		t.Errorf("d_ratio = %v, want >= 1", metrics.DRatio)
	}
	if details["meetsTarget"] != true {
		t.Errorf("details = %v", details)
	}
}

func TestHashShareNoTarget(t *testing.T) {
	body := hashShareBody(t, 0x11, 0x22, 1)
	metrics, details, err := HashShare(hashShareEnvelope(body), nil)
	if err != nil {
		t.Fatal(err)
	}
	if metrics.DRatio != 0 {
		t.Errorf("d_ratio without target = %v, want 0", metrics.DRatio)
	}
	if _, ok := details["S_mu"]; !ok {
		t.Error("details missing S_mu")
	}
}

func TestHashShareHeaderBindingBroken(t *testing.T) {
	body := hashShareBody(t, 0x11, 0x22, 7)
	header := body["headerHash"].([]byte)
	flipped := append([]byte{}, header...)
	flipped[0] ^= 0x01
	body["headerHash"] = flipped

	_, _, err := HashShare(hashShareEnvelope(body), nil)
	if !errors.IsCode(err, errors.CodeProof) {
		t.Errorf("got %v, want PROOF error", err)
	}
}

func TestHashShareNonceChangesDraw(t *testing.T) {
	a := hashShareBody(t, 0x11, 0x22, 1)
	b := hashShareBody(t, 0x11, 0x22, 2)
	if bytes.Equal(a["u"].([]byte), b["u"].([]byte)) {
		t.Error("different nonces produced the same u digest")
	}
}

func TestHashShareDRatioMonotoneInTarget(t *testing.T) {
	body := hashShareBody(t, 0x37, 0x22, 99)
	sMu := measuredSMu(t, body)
	if sMu < 4 {
		t.Skipf("degenerate draw (S_mu=%d)", sMu)
	}

	// Halving the target (with the share still accepted) doubles d_ratio.
	body["targetMu"] = uint64(sMu)
	full, _, err := HashShare(hashShareEnvelope(body), nil)
	if err != nil {
		t.Fatal(err)
	}
	body["targetMu"] = uint64(sMu / 2)
	half, _, err := HashShare(hashShareEnvelope(body), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !(half.DRatio > full.DRatio) {
		t.Errorf("d_ratio not monotone: target/2 gives %v, target gives %v", half.DRatio, full.DRatio)
	}
}

func TestHashShareBelowTarget(t *testing.T) {
	body := hashShareBody(t, 0x11, 0x22, 7)
	sMu := measuredSMu(t, body)
	body["targetMu"] = uint64(sMu + 1_000_000)
	_, _, err := HashShare(hashShareEnvelope(body), nil)
	if !errors.IsCode(err, errors.CodeProof) {
		t.Errorf("below-target share: got %v, want PROOF error", err)
	}
}

func TestHashShareSchemaChecks(t *testing.T) {
	body := hashShareBody(t, 0x11, 0x22, 7)
	body["algo"] = "blake3"
	if _, _, err := HashShare(hashShareEnvelope(body), nil); !errors.IsCode(err, errors.CodeSchema) {
		t.Errorf("unknown algo: got %v, want SCHEMA", err)
	}

	body = hashShareBody(t, 0x11, 0x22, 7)
	body["targetMu"] = uint64(0)
	if _, _, err := HashShare(hashShareEnvelope(body), nil); !errors.IsCode(err, errors.CodeSchema) {
		t.Errorf("zero target: got %v, want SCHEMA", err)
	}

	env := hashShareEnvelope(hashShareBody(t, 0x11, 0x22, 7))
	env.TypeID = types.VDF
	if _, _, err := HashShare(env, nil); !errors.IsCode(err, errors.CodeSchema) {
		t.Errorf("wrong type: got %v, want SCHEMA", err)
	}
}
