// Package nullifier derives the 32-byte, domain-separated replay-prevention
// tags for proof envelopes. A nullifier identifies the work instance: it
// binds only identity-defining body fields, never block-local data, so the
// same work submitted twice always collides regardless of map ordering or
// optional decorations.
package nullifier

import (
	"github.com/animicaorg/animica-core/cbor"
	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/types"
)

const domainPrefix = "Animica/ProofNullifier/"

// Salt carries the optional global salts mixed into every nullifier.
type Salt struct {
	// ChainID segments networks; it is mixed in only when HasChainID is set.
	ChainID uint32
	HasChainID bool

	// PolicyRoot segments policy epochs; nil means unset.
	PolicyRoot []byte
}

// domainTag returns "Animica/ProofNullifier/<Kind>/v1".
func domainTag(pt types.ProofType) []byte {
	return []byte(domainPrefix + pt.NullifierDomain() + "/v1")
}

// digest uniformly hashes large opaque subfields (attestations, certs).
func digest(b []byte) []byte {
	d := hashutil.Sha3256(b)
	return d[:]
}

// canonHash canonically CBOR-encodes a value and hashes it.
func canonHash(v any) ([]byte, error) {
	enc, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	d := hashutil.Sha3256(enc)
	return d[:], nil
}

// reducers extract only the identity-defining fields for each proof kind.

func reduceHashShare(body types.Body) (map[string]any, error) {
	reduced := map[string]any{
		"headerHash": body["headerHash"],
		"u":          body["u"],
		"nonce":      body["nonce"],
	}
	if mix, ok := body["mixSeed"].([]byte); ok {
		reduced["mixSeed"] = mix
	}
	return reduced, nil
}

func reduceAI(body types.Body) (map[string]any, error) {
	tee, _ := body["tee"].(map[string]any)
	job, _ := body["job"].(map[string]any)
	traps, _ := body["traps"].(map[string]any)
	evidence, _ := tee["evidence"].([]byte)
	trapsRoot, _ := traps["root"].([]byte)
	return map[string]any{
		"attestationDigest": digest(evidence),
		"trapsRoot":         trapsRoot,
		"taskId":            job["taskId"],
		"inputDigest":       job["inputDigest"],
		"outputDigest":      job["outputDigest"],
	}, nil
}

func reduceQuantum(body types.Body) (map[string]any, error) {
	provider, _ := body["provider"].(map[string]any)
	job, _ := body["job"].(map[string]any)
	traps, _ := body["traps"].(map[string]any)
	certChain, _ := provider["certChain"].([]byte)
	trapsRoot, _ := traps["root"].([]byte)
	reduced := map[string]any{
		"providerCertDigest": digest(certChain),
		"trapsRoot":          trapsRoot,
		"taskId":             job["taskId"],
		"circuitDigest":      job["circuitDigest"],
		"resultDigest":       job["resultDigest"],
		"shots":              job["shots"],
	}
	if depth, ok := job["depth"]; ok {
		reduced["depth"] = depth
	}
	if width, ok := job["width"]; ok {
		reduced["width"] = width
	}
	return reduced, nil
}

func reduceStorage(body types.Body) (map[string]any, error) {
	provider, _ := body["provider"].(map[string]any)
	commit, _ := body["commit"].(map[string]any)
	challenge, _ := body["challenge"].(map[string]any)
	return map[string]any{
		"providerId": provider["providerId"],
		"sectorRoot": commit["sectorRoot"],
		"epoch":      challenge["epoch"],
		"seed":       challenge["seed"],
	}, nil
}

func reduceVDF(body types.Body) (map[string]any, error) {
	group, _ := body["group"].(map[string]any)
	n, _ := group["N"].([]byte)
	g, _ := body["g"].([]byte)
	y, _ := body["y"].([]byte)
	return map[string]any{
		"NDigest": digest(n),
		"gDigest": digest(g),
		"yDigest": digest(y),
		"T":       body["T"],
	}, nil
}

func reduce(pt types.ProofType, body types.Body) (map[string]any, error) {
	switch pt {
	case types.HashShare:
		return reduceHashShare(body)
	case types.AI:
		return reduceAI(body)
	case types.Quantum:
		return reduceQuantum(body)
	case types.Storage:
		return reduceStorage(body)
	case types.VDF:
		return reduceVDF(body)
	default:
		return nil, errors.Schema("no nullifier reducer for proof type %d", uint8(pt))
	}
}

// Compute derives the nullifier for a validated proof body:
//
//	N = SHA3_256(domain || 0x00 || canonHash(identity)
//	             || (0x01 || u32be(chainId))? || (0x02 || policyRoot)?)
func Compute(pt types.ProofType, body types.Body, salt Salt) ([32]byte, error) {
	if err := cbor.ValidateBody(pt, body); err != nil {
		return [32]byte{}, err
	}
	identity, err := reduce(pt, body)
	if err != nil {
		return [32]byte{}, err
	}
	identityHash, err := canonHash(identity)
	if err != nil {
		return [32]byte{}, err
	}

	preimage := make([]byte, 0, 96)
	preimage = append(preimage, domainTag(pt)...)
	preimage = append(preimage, 0x00)
	preimage = append(preimage, identityHash...)
	if salt.HasChainID {
		preimage = append(preimage, 0x01)
		preimage = append(preimage, hashutil.U32BE(salt.ChainID)...)
	}
	if salt.PolicyRoot != nil {
		preimage = append(preimage, 0x02)
		preimage = append(preimage, salt.PolicyRoot...)
	}
	return hashutil.Sha3256(preimage), nil
}

// ComputeEnvelope recomputes the nullifier from an envelope's body; the
// envelope's declared nullifier is ignored.
func ComputeEnvelope(env *types.ProofEnvelope, salt Salt) ([32]byte, error) {
	return Compute(env.TypeID, env.Body, salt)
}

// Check recomputes and compares an envelope's declared nullifier.
func Check(env *types.ProofEnvelope, salt Salt) error {
	want, err := ComputeEnvelope(env, salt)
	if err != nil {
		return err
	}
	if want != env.Nullifier {
		return errors.Proof("envelope nullifier does not match recomputed value").
			WithCtx("declared", hashutil.Hex(env.Nullifier[:])).
			WithCtx("recomputed", hashutil.Hex(want[:]))
	}
	return nil
}
