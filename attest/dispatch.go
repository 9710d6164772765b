package attest

import (
	"time"

	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/types"
)

// Verifier holds the process-wide attestation configuration: pinned vendor
// roots and the acceptance policy. It is read-only after construction and
// safe to share across verification goroutines.
type Verifier struct {
	Roots    VendorRoots
	Policy   AttestationPolicy
	Expected ExpectedMeasurements
}

// NewVerifier builds an attestation verifier with the default policy.
func NewVerifier(roots VendorRoots) *Verifier {
	return &Verifier{Roots: roots, Policy: DefaultPolicy()}
}

// VerifyBundle dispatches a TEE bundle map {"kind": text, "evidence": bstr,
// "policy"?: map} to the vendor parser and evaluates the result against the
// configured policy. The body shape was already validated by the codec.
func (v *Verifier) VerifyBundle(bundle types.Body, now time.Time) (*TEEEvidence, AttestationResult, error) {
	kind, _ := bundle["kind"].(string)
	evidenceBytes, _ := bundle["evidence"].([]byte)
	if len(evidenceBytes) == 0 {
		return nil, AttestationResult{}, errors.Attestation("empty TEE evidence")
	}

	var (
		evidence *TEEEvidence
		err      error
	)
	switch TEEKind(kind) {
	case KindSGX:
		evidence, err = VerifySGXQuote(evidenceBytes, SGXOptions{
			PinnedRoot: v.Roots.IntelSGX,
			Now:        now,
		})
	case KindSEVSNP:
		evidence, err = VerifySNPReport(evidenceBytes, SNPOptions{
			PinnedRoot: v.Roots.AMDARK,
			Now:        now,
		})
	case KindCCA:
		evidence, err = VerifyCCAToken(evidenceBytes, CCAOptions{
			PinnedRoot: v.Roots.ArmCCA,
			Now:        now,
		})
	case KindTPM:
		evidence, err = VerifyTPMDICE(evidenceBytes, TPMOptions{
			DICERoot: nil,
			Now:      now,
		})
	default:
		return nil, AttestationResult{}, errors.Attestation("unknown TEE kind %q", kind)
	}
	if err != nil {
		return nil, AttestationResult{}, err
	}

	policy := v.Policy
	if override, ok := bundle["policy"].(map[string]any); ok {
		policy = applyPolicyOverride(policy, override)
	}

	result := Evaluate(evidence, v.Expected, policy, now)
	if policy.Strict && (!evidence.SignatureOK || !evidence.ChainOK) {
		result.OK = false
		result.Violations = append(result.Violations, "strict mode: unverifiable evidence is fatal")
		result.Reason = joinViolations(result.Violations)
	}
	return evidence, result, nil
}

// applyPolicyOverride narrows the configured policy with per-envelope bits.
// Overrides can only tighten: a body cannot re-enable debug mode or drop the
// chain requirement that the node operator configured.
func applyPolicyOverride(base AttestationPolicy, override map[string]any) AttestationPolicy {
	if v, ok := override["allow_debug"].(bool); ok && !v {
		base.AllowDebug = false
	}
	if v, ok := override["require_chain_ok"].(bool); ok && v {
		base.RequireChainOK = true
	}
	if v, ok := override["require_tcb_up_to_date"].(bool); ok && v {
		base.RequireTCBUpToDate = true
	}
	if v, ok := override["strict"].(bool); ok && v {
		base.Strict = true
	}
	return base
}
