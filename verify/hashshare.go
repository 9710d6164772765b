package verify

import (
	"bytes"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/animicaorg/animica-core/cbor"
	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/mathutil"
	"github.com/animicaorg/animica-core/types"
)

// uDrawDomain prefixes the hash-share u-draw transcript.
const uDrawDomain = "Animica/HashShare/u-draw/v1"

// two256 is 2^256 as a big float, the u-scalar denominator.
var two256 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 256))

// recomputeUDigest derives the uniform draw digest:
//
//	u' = SHA3_256(domain || headerHash || u64be(nonce) || mixSeed?)
func recomputeUDigest(headerHash []byte, nonce uint64, mixSeed []byte) [32]byte {
	parts := [][]byte{[]byte(uDrawDomain), headerHash, hashutil.U64BE(nonce)}
	if mixSeed != nil {
		parts = append(parts, mixSeed)
	}
	return hashutil.Sha3256(parts...)
}

// uScalar maps a 32-byte digest to a uniform draw in (0,1] as (x+1)/2^256.
func uScalar(digest [32]byte) (float64, error) {
	x := new(uint256.Int).SetBytes32(digest[:])
	num := new(big.Int).Add(x.ToBig(), big.NewInt(1))
	q := new(big.Float).Quo(new(big.Float).SetInt(num), two256)
	u, _ := q.Float64()
	if u <= 0 || u > 1 {
		return 0, errors.Proof("u scalar out of range")
	}
	return u, nil
}

// HashShare verifies a PoW-style share: the claimed u-draw must recompute
// from (headerHash, nonce, mixSeed?), and when a µ-nat target is present the
// measured work S = -ln(u) must reach it.
func HashShare(env *types.ProofEnvelope, _ *Context) (types.ProofMetrics, types.Details, error) {
	if err := requireType(env, types.HashShare, "hashshare"); err != nil {
		return types.ProofMetrics{}, nil, err
	}
	body := env.Body
	if err := cbor.ValidateBody(types.HashShare, body); err != nil {
		return types.ProofMetrics{}, nil, err
	}

	if algo, ok := bodyText(body, "algo"); ok && algo != "sha3-256" {
		return types.ProofMetrics{}, nil, errors.Schema("unsupported u-draw algo: %s", algo)
	}

	headerHash := bodyBytes(body, "headerHash")
	claimedU := bodyBytes(body, "u")
	nonce, _ := bodyUint(body, "nonce")
	mixSeed := bodyBytes(body, "mixSeed")

	recomputed := recomputeUDigest(headerHash, nonce, mixSeed)
	if !bytes.Equal(recomputed[:], claimedU) {
		return types.ProofMetrics{}, nil, errors.Proof("u digest mismatch (headerHash/nonce/mixSeed binding failed)")
	}

	u, err := uScalar(recomputed)
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}
	sNats, err := mathutil.HOfU(u)
	if err != nil {
		return types.ProofMetrics{}, nil, errors.Proof("work draw out of domain: %v", err)
	}
	sMu, err := mathutil.ToMunats(sNats)
	if err != nil {
		return types.ProofMetrics{}, nil, errors.Proof("work conversion failed: %v", err)
	}

	dRatio := 0.0
	var targetMu uint64
	meetsTarget := false
	hasTarget := false
	if t, ok := bodyUint(body, "targetMu"); ok {
		if t == 0 {
			return types.ProofMetrics{}, nil, errors.Schema("targetMu must be positive when provided")
		}
		hasTarget = true
		targetMu = t
		meetsTarget = sMu >= 0 && uint64(sMu) >= t
		if !meetsTarget {
			return types.ProofMetrics{}, nil,
				errors.Proof("share below target (S_mu=%d < targetMu=%d)", sMu, t)
		}
		dRatio = float64(sMu) / float64(t)
	}

	metrics := types.ProofMetrics{
		Kind:   types.HashShare,
		DRatio: dRatio,
	}
	details := types.Details{
		"S_nats":   sNats,
		"S_mu":     sMu,
		"u_scalar": u,
	}
	if hasTarget {
		details["targetMu"] = targetMu
		details["meetsTarget"] = meetsTarget
	}
	return metrics, details, nil
}
