package attest

import (
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/veraison/go-cose"

	animicacbor "github.com/animicaorg/animica-core/cbor"
	"github.com/animicaorg/animica-core/errors"
)

// Arm CCA realm attestation tokens are EAT claim sets wrapped in COSE_Sign1.
// The certificate chain travels in the x5chain header parameter (label 33,
// RFC 9360), leaf first.

// ccaClaimAliases maps the normalized claim name to the spellings different
// CCA profiles use. The first present wins.
var ccaClaimAliases = map[string][]string{
	"realm_measurement": {"cca-realm-measurement", "cca-realm-hash", "realm_measurement"},
	"nonce":             {"cca-realm-challenge", "nonce", "challenge"},
	"realm_pubkey_hash": {"cca-realm-public-key-hash", "realm_pubkey_hash", "realm-public-key-hash"},
	"platform_hash":     {"cca-platform-hash", "platform_hash"},
	"personalization":   {"cca-realm-personalization-value", "realm_personalization"},
	"signer_id":         {"cca-signer-id", "signer_id"},
}

// CCAOptions carries the side inputs to CCA token verification.
type CCAOptions struct {
	PinnedRoot  *x509.Certificate
	ExternalAAD []byte
	Now         time.Time
}

// parseSign1 decodes a COSE_Sign1 structure. Untagged tokens (a bare
// 4-element array) are retried with the COSE_Sign1 tag (18) prepended.
func parseSign1(token []byte) (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(token); err == nil {
		return &msg, nil
	}
	tagged := append([]byte{0xd8, 0x12}, token...)
	if err := msg.UnmarshalCBOR(tagged); err != nil {
		return nil, errors.Attestation("not a valid COSE_Sign1: %v", err)
	}
	return &msg, nil
}

// sign1Alg extracts and validates the protected alg header.
func sign1Alg(msg *cose.Sign1Message) (cose.Algorithm, error) {
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return 0, errors.Attestation("COSE protected header missing alg: %v", err)
	}
	switch alg {
	case cose.AlgorithmES256, cose.AlgorithmES384, cose.AlgorithmES512, cose.AlgorithmEd25519:
		return alg, nil
	default:
		return 0, errors.Attestation("unsupported COSE alg: %d", alg)
	}
}

// sign1X5Chain extracts the DER certificate chain from the x5chain header
// parameter, checking unprotected then protected buckets.
func sign1X5Chain(msg *cose.Sign1Message) [][]byte {
	for _, headers := range []map[any]any{msg.Headers.Unprotected, map[any]any(msg.Headers.Protected)} {
		v, ok := headers[cose.HeaderLabelX5Chain]
		if !ok {
			continue
		}
		switch chain := v.(type) {
		case []byte:
			return [][]byte{chain}
		case []any:
			out := make([][]byte, 0, len(chain))
			for _, c := range chain {
				der, ok := c.([]byte)
				if !ok {
					return nil
				}
				out = append(out, der)
			}
			return out
		}
	}
	return nil
}

// extractCCAClaims decodes the EAT payload and pulls the salient fields.
func extractCCAClaims(payload []byte) (map[string]any, map[string][]byte, error) {
	v, err := animicacbor.Decode(payload)
	if err != nil {
		return nil, nil, errors.Attestation("CCA payload is not valid CBOR: %v", err)
	}
	claims, ok := v.(map[string]any)
	if !ok {
		return nil, nil, errors.Attestation("CCA payload must decode to a claim map")
	}
	extracted := make(map[string][]byte, len(ccaClaimAliases))
	for name, aliases := range ccaClaimAliases {
		for _, alias := range aliases {
			raw, present := claims[alias]
			if !present {
				continue
			}
			switch b := raw.(type) {
			case []byte:
				extracted[name] = b
			case string:
				if decoded, err := hex.DecodeString(b); err == nil {
					extracted[name] = decoded
				} else {
					extracted[name] = []byte(b)
				}
			}
			break
		}
	}
	return claims, extracted, nil
}

// VerifyCCAToken verifies a CCA realm attestation token and returns
// normalized evidence. Signature verification uses the x5chain leaf key; the
// chain walk anchors at the pinned Arm CCA root when one is configured.
func VerifyCCAToken(token []byte, opts CCAOptions) (*TEEEvidence, error) {
	msg, err := parseSign1(token)
	if err != nil {
		return nil, err
	}
	alg, err := sign1Alg(msg)
	if err != nil {
		return nil, err
	}
	rawClaims, fields, err := extractCCAClaims(msg.Payload)
	if err != nil {
		return nil, err
	}

	derChain := sign1X5Chain(msg)
	var leaf *x509.Certificate
	var intermediates []*x509.Certificate
	for i, der := range derChain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			continue
		}
		if i == 0 {
			leaf = cert
		} else {
			intermediates = append(intermediates, cert)
		}
	}

	signatureOK := false
	var nb, na time.Time
	if leaf != nil {
		nb, na = leaf.NotBefore, leaf.NotAfter
		if verifier, err := cose.NewVerifier(alg, leaf.PublicKey); err == nil {
			signatureOK = msg.Verify(opts.ExternalAAD, verifier) == nil
		}
	}

	chainOK := false
	if leaf != nil {
		chainOK = WalkChain(leaf, intermediates, opts.PinnedRoot)
	}

	claims := map[string]any{
		"vendor":  "arm",
		"product": "cca",
		"debug":   false,
	}
	if m, ok := fields["realm_measurement"]; ok {
		claims["realm_measurement"] = m
	}
	if p, ok := fields["realm_pubkey_hash"]; ok {
		claims["realm_pubkey_hash"] = p
	}

	return &TEEEvidence{
		Vendor:      "arm",
		Kind:        KindCCA,
		Report:      token,
		Measurement: fields["realm_measurement"],
		ReportData:  fields["nonce"],
		HostData:    fields["platform_hash"],
		Claims:      claims,
		SignatureOK: signatureOK,
		ChainOK:     chainOK,
		TCBStatus:   TCBUpToDate, // CCA tokens carry no revocation channel here
		NotBefore:   nb,
		NotAfter:    na,
		Meta: map[string]any{
			"alg":             int64(alg),
			"x5chain_len":     len(derChain),
			"personalization": hexOrNil(fields["personalization"]),
			"signer_id":       hexOrNil(fields["signer_id"]),
			"claims":          rawClaims,
		},
	}, nil
}

func hexOrNil(b []byte) any {
	if b == nil {
		return nil
	}
	return hex.EncodeToString(b)
}
