package verify

import (
	"github.com/animicaorg/animica-core/cbor"
	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/qpu"
	"github.com/animicaorg/animica-core/types"
)

const (
	quantumTrapItemDomain = "Animica/QTrapItem/v1"
	quantumTrapRootDomain = "Animica/QTrapRoot/v1"

	// quantumLatencyScaleMs puts 1500ms at roughly half score.
	quantumLatencyScaleMs = 1500.0
)

// QuantumProof verifies a quantum compute proof: provider identity against
// the JWKS cache (and optional X.509/PQ mechanisms), trap circuits under a
// committed Merkle root with shot-weighted pass counts, and the QoS
// snapshot.
func QuantumProof(env *types.ProofEnvelope, ctx *Context) (types.ProofMetrics, types.Details, error) {
	if err := requireType(env, types.Quantum, "quantum"); err != nil {
		return types.ProofMetrics{}, nil, err
	}
	body := env.Body
	if err := cbor.ValidateBody(types.Quantum, body); err != nil {
		return types.ProofMetrics{}, nil, err
	}
	if ctx == nil || ctx.QPU.Cache == nil {
		return types.ProofMetrics{}, nil, errors.Attestation("no QPU trust environment configured")
	}

	// Provider identity. The certChain blob is either a COSE_Sign1 (CBOR
	// array or tag prefix) or a compact-JWS / hybrid-JSON envelope.
	provider := bodyMap(body, "provider")
	certBytes := bodyBytes(provider, "certChain")
	verified, err := verifyProviderBlob(certBytes, ctx)
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}
	if !verified.OverallOK {
		return types.ProofMetrics{}, nil,
			errors.Attestation("quantum provider certificate failed verification: jws=%s x509=%s pq=%s",
				verified.Decisions["jws"], verified.Decisions["x509"], verified.Decisions["pq"])
	}

	// Trap circuits.
	trapsRatio, trapDetails, err := verifyQuantumTraps(bodyMap(body, "traps"), ctx.alpha())
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}

	// QoS snapshot.
	qos, qosDetails, err := qosScore(bodyMap(body, "qos"), quantumLatencyScaleMs, 0.45, 0.30, 0.25)
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}

	// Units.
	job := bodyMap(body, "job")
	units, err := deriveQuantumUnits(job)
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}

	depth, _ := bodyUint(job, "depth")
	width, _ := bodyUint(job, "width")
	shots, _ := bodyUint(job, "shots")

	metrics := types.ProofMetrics{
		Kind:         types.Quantum,
		QuantumUnits: units,
		TrapsRatio:   trapsRatio,
		QoS:          qos,
	}
	details := types.Details{
		"taskId":        hashutil.Hex(bodyBytes(job, "taskId")),
		"circuitDigest": hashutil.Hex(bodyBytes(job, "circuitDigest")),
		"resultDigest":  hashutil.Hex(bodyBytes(job, "resultDigest")),
		"depth":         depth,
		"width":         width,
		"shots":         shots,
		"provider": types.Details{
			"kid":          verified.Kid,
			"alg":          verified.Alg,
			"jws_verified": verified.JWSVerified,
			"x509_verified": verified.X509Verified,
			"pq_verified":  verified.PQVerified,
			"decisions":    verified.Decisions,
		},
		"traps":         trapDetails,
		"qos":           qosDetails,
		"quantum_units": units,
	}
	return metrics, details, nil
}

// verifyProviderBlob picks the COSE or JWS/hybrid path by sniffing the first
// byte: CBOR arrays start 0x84-ish (major type 4) or carry tag 18 (0xD2).
func verifyProviderBlob(certBytes []byte, ctx *Context) (qpu.VerifiedProvider, error) {
	if len(certBytes) == 0 {
		return qpu.VerifiedProvider{}, errors.Attestation("empty provider certChain")
	}
	first := certBytes[0]
	if first == 0xD2 || first == 0xD8 || (first >= 0x80 && first <= 0x9F) {
		return qpu.VerifyProviderCOSE(certBytes, ctx.QPU, ctx.now())
	}
	return qpu.VerifyProviderBytes(certBytes, ctx.QPU, ctx.now())
}

func verifyQuantumTraps(traps types.Body, alpha float64) (float64, types.Details, error) {
	if err := checkSeedCommit(traps); err != nil {
		return 0, nil, err
	}
	receipts := bodyArray(traps, "receipts")
	leaves := make([][]byte, 0, len(receipts))
	var okShots, totalShots uint64
	for _, r := range receipts {
		m := r.(map[string]any)
		count, _ := bodyUint(m, "count")
		ok := m["ok"].(bool)
		leaves = append(leaves, quantumTrapLeaf(m["trapDigest"].([]byte), count, ok))
		totalShots += count
		if ok {
			okShots += count
		}
	}
	root, err := checkDeclaredRoot(traps, quantumTrapItemDomain, quantumTrapRootDomain, leaves)
	if err != nil {
		return 0, nil, err
	}

	denom := totalShots
	if denom == 0 {
		denom = 1
	}
	ratio := float64(okShots) / float64(denom)
	details := types.Details{
		"trap_ok_shots":    okShots,
		"trap_total_shots": totalShots,
		"trap_root":        hashutil.Hex(root[:]),
	}
	if totalShots > 0 {
		details["trap_ratio_lb95"] = wilsonLowerDetail(okShots, totalShots, alpha)
	}
	return ratio, details, nil
}

// deriveQuantumUnits prefers the explicit quantumUnits field, falling back
// to the reference mapping over (depth, width, shots).
func deriveQuantumUnits(job types.Body) (uint64, error) {
	if units, ok := bodyUint(job, "quantumUnits"); ok {
		return units, nil
	}
	if _, present := job["quantumUnits"]; present {
		return 0, errors.Schema("quantumUnits must be non-negative")
	}
	depth, _ := bodyUint(job, "depth")
	width, _ := bodyUint(job, "width")
	shots, _ := bodyUint(job, "shots")
	if shots == 0 {
		return 0, errors.Schema("shots must be >= 1")
	}
	return UnitsFor(depth, width, shots), nil
}
