package verify

import (
	"github.com/animicaorg/animica-core/cbor"
	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/mathutil"
	"github.com/animicaorg/animica-core/types"
)

const (
	aiTrapItemDomain = "Animica/AITrapItem/v1"
	aiTrapRootDomain = "Animica/AITrapRoot/v1"

	// aiUnitsPerSecond is the chain-wide baseline when aiUnits is absent.
	aiUnitsPerSecond = 100

	// aiLatencyScaleMs puts 1000ms at roughly half score.
	aiLatencyScaleMs = 1000.0
)

// AIProof verifies an AI compute proof: TEE attestation, trap receipts under
// a committed Merkle root, redundancy agreement, and the QoS snapshot.
func AIProof(env *types.ProofEnvelope, ctx *Context) (types.ProofMetrics, types.Details, error) {
	if err := requireType(env, types.AI, "ai"); err != nil {
		return types.ProofMetrics{}, nil, err
	}
	body := env.Body
	if err := cbor.ValidateBody(types.AI, body); err != nil {
		return types.ProofMetrics{}, nil, err
	}
	if ctx == nil || ctx.Attest == nil {
		return types.ProofMetrics{}, nil, errors.Attestation("no attestation verifier configured")
	}

	// TEE evidence.
	evidence, result, err := ctx.Attest.VerifyBundle(bodyMap(body, "tee"), ctx.now())
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}
	if !result.OK {
		return types.ProofMetrics{}, nil, errors.Attestation("TEE attestation failed or violates policy: %s", result.Reason)
	}

	// Trap receipts.
	trapsRatio, trapDetails, err := verifyAITraps(bodyMap(body, "traps"), ctx.alpha())
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}

	// Redundancy agreement.
	redundancy, redDetails, err := redundancyScore(bodyMap(body, "redundancy"))
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}

	// QoS snapshot.
	qos, qosDetails, err := qosScore(bodyMap(body, "qos"), aiLatencyScaleMs, 0.4, 0.3, 0.3)
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}

	// Units.
	job := bodyMap(body, "job")
	units, err := deriveAIUnits(job)
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}

	metrics := types.ProofMetrics{
		Kind:       types.AI,
		AIUnits:    units,
		TrapsRatio: trapsRatio,
		Redundancy: redundancy,
		QoS:        qos,
	}
	details := types.Details{
		"taskId":       hashutil.Hex(bodyBytes(job, "taskId")),
		"inputDigest":  hashutil.Hex(bodyBytes(job, "inputDigest")),
		"outputDigest": hashutil.Hex(bodyBytes(job, "outputDigest")),
		"tee": types.Details{
			"vendor":       evidence.Vendor,
			"kind":         string(evidence.Kind),
			"tcb_status":   evidence.TCBStatus.String(),
			"chain_ok":     evidence.ChainOK,
			"signature_ok": evidence.SignatureOK,
			"binding":      hashutil.Hex(result.Binding[:]),
		},
		"traps":      trapDetails,
		"redundancy": redDetails,
		"qos":        qosDetails,
		"ai_units":   units,
	}
	return metrics, details, nil
}

func verifyAITraps(traps types.Body, alpha float64) (float64, types.Details, error) {
	if err := checkSeedCommit(traps); err != nil {
		return 0, nil, err
	}
	receipts := bodyArray(traps, "receipts")
	leaves := make([][]byte, 0, len(receipts))
	okCount := uint64(0)
	for _, r := range receipts {
		m := r.(map[string]any)
		ok := m["ok"].(bool)
		leaves = append(leaves, aiTrapLeaf(m["promptDigest"].([]byte), m["answerDigest"].([]byte), ok))
		if ok {
			okCount++
		}
	}
	root, err := checkDeclaredRoot(traps, aiTrapItemDomain, aiTrapRootDomain, leaves)
	if err != nil {
		return 0, nil, err
	}

	total := uint64(len(receipts))
	denom := total
	if denom == 0 {
		denom = 1
	}
	ratio := float64(okCount) / float64(denom)
	details := types.Details{
		"traps_ok":    okCount,
		"traps_total": total,
		"trap_root":   hashutil.Hex(root[:]),
	}
	if total > 0 {
		details["trap_ratio_lb"] = wilsonLowerDetail(okCount, total, alpha)
	}
	return ratio, details, nil
}

func redundancyScore(red types.Body) (float64, types.Details, error) {
	replicas, _ := bodyUint(red, "replicas")
	agree, _ := bodyUint(red, "agree")
	total, _ := bodyUint(red, "total")
	if replicas == 0 {
		return 0, nil, errors.Schema("redundancy.replicas must be positive")
	}
	if agree > total || total > replicas {
		return 0, nil, errors.Schema("redundancy must satisfy agree <= total <= replicas")
	}
	score := 0.0
	if total > 0 {
		score = mathutil.Clamp01(float64(agree) / float64(total))
	}
	return score, types.Details{
		"replicas": replicas,
		"agree":    agree,
		"total":    total,
	}, nil
}

// qosScore blends latency, success rate, and uptime into [0,1] with the
// given weights. Permil fields must stay in 0..1000.
func qosScore(qos types.Body, latencyScaleMs, wLat, wSucc, wUp float64) (float64, types.Details, error) {
	p95, _ := bodyUint(qos, "latencyMsP95")
	success, _ := bodyUint(qos, "successPermil")
	uptime, _ := bodyUint(qos, "uptimePermil")
	if success > 1000 || uptime > 1000 {
		return 0, nil, errors.Schema("successPermil/uptimePermil must be 0..1000")
	}

	latNorm := mathutil.LatencyScore(p95, latencyScaleMs)
	succNorm := float64(success) / 1000.0
	upNorm := float64(uptime) / 1000.0
	score := mathutil.Clamp01(wLat*latNorm + wSucc*succNorm + wUp*upNorm)
	return score, types.Details{
		"latencyMsP95":  p95,
		"success":       succNorm,
		"uptime":        upNorm,
		"lat_component": latNorm,
	}, nil
}

// deriveAIUnits prefers the explicit aiUnits field, falling back to
// runtimeSec at the chain-wide baseline.
func deriveAIUnits(job types.Body) (uint64, error) {
	if units, ok := bodyUint(job, "aiUnits"); ok {
		return units, nil
	}
	if _, present := job["aiUnits"]; present {
		return 0, errors.Schema("aiUnits must be non-negative")
	}
	runtime, _ := bodyUint(job, "runtimeSec")
	return runtime * aiUnitsPerSecond, nil
}
