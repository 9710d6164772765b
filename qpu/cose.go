package qpu

import (
	"encoding/json"
	"time"

	"github.com/veraison/go-cose"

	"github.com/animicaorg/animica-core/errors"
)

// VerifyProviderCOSE verifies a COSE_Sign1 provider certificate whose
// payload is the canonical-JSON claim set. The signing key is resolved from
// the JWKS cache by the kid header; the COSE algorithm must be one of
// ES256/ES384/ES512/EdDSA.
func VerifyProviderCOSE(token []byte, trust Trust, now time.Time) (VerifiedProvider, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(token); err != nil {
		tagged := append([]byte{0xd8, 0x12}, token...)
		if err2 := msg.UnmarshalCBOR(tagged); err2 != nil {
			return VerifiedProvider{}, errors.Attestation("provider cert is not COSE_Sign1: %v", err)
		}
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return VerifiedProvider{}, errors.Attestation("provider COSE missing alg: %v", err)
	}
	switch alg {
	case cose.AlgorithmES256, cose.AlgorithmES384, cose.AlgorithmES512, cose.AlgorithmEd25519:
	default:
		return VerifiedProvider{}, errors.Attestation("unsupported provider COSE alg: %d", alg)
	}

	kid := coseKid(&msg)
	if kid == "" {
		return VerifiedProvider{}, errors.Attestation("provider COSE missing kid")
	}

	var claims map[string]any
	if err := json.Unmarshal(msg.Payload, &claims); err != nil {
		return VerifiedProvider{}, errors.Attestation("provider COSE payload is not JSON claims: %v", err)
	}

	out := VerifiedProvider{
		Claims:    claims,
		Kid:       kid,
		Alg:       alg.String(),
		Decisions: map[string]string{"x509": "absent", "pq": "absent"},
	}

	ref, ok := trust.Cache.FindKey(kid, "")
	if !ok {
		out.Decisions["jws"] = "kid " + kid + " not found in JWKS cache"
		return out, errors.Attestation("provider kid %q not found in JWKS cache", kid)
	}
	out.KeyRef = &ref

	verifier, err := cose.NewVerifier(alg, ref.Key)
	if err != nil {
		out.Decisions["jws"] = "key incompatible with alg: " + err.Error()
		return out, nil
	}
	if err := msg.Verify(nil, verifier); err != nil {
		out.Decisions["jws"] = "bad COSE signature: " + err.Error()
		return out, nil
	}

	out.JWSVerified = true
	out.Decisions["jws"] = "ok"
	out.OverallOK = true
	return out, nil
}

func coseKid(msg *cose.Sign1Message) string {
	for _, headers := range []map[any]any{map[any]any(msg.Headers.Protected), msg.Headers.Unprotected} {
		if v, ok := headers[cose.HeaderLabelKeyID]; ok {
			switch kid := v.(type) {
			case []byte:
				return string(kid)
			case string:
				return kid
			}
		}
	}
	return ""
}
