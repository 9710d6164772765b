package qpu

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/animicaorg/animica-core/attest"
	"github.com/animicaorg/animica-core/errors"
)

// Provider identity comes in two wire forms:
//
//  1. a compact JWS string "header.payload.sig" whose payload is the claim
//     set, or
//  2. a hybrid JSON envelope
//     {"format":"hybrid-v1","claims":{...},"jws":"...","x509_chain_pem":"...",
//      "pq":{"alg":...,"pub":...,"sig":...}}
//
// Verification is per-mechanism: the JWS must verify against the JWKS cache;
// an X.509 chain, when present, must be valid and its leaf key must equal
// the JWS key; a PQ counter-signature, when present, must verify over the
// canonical JSON of the claims.

// PQBundle is the optional post-quantum counter-signature piece.
type PQBundle struct {
	Alg string
	Pub []byte
	Sig []byte
}

// ProviderCert is the parsed provider identity envelope.
type ProviderCert struct {
	Claims       map[string]any
	JWSCompact   string
	JWSHeader    map[string]any
	X509ChainPEM []byte
	PQ           *PQBundle
}

// VerifiedProvider reports the per-mechanism outcomes and the combined
// decision.
type VerifiedProvider struct {
	Claims       map[string]any
	JWSVerified  bool
	X509Verified bool
	PQVerified   bool
	KeyRef       *KeyRef
	Kid          string
	Alg          string
	Decisions    map[string]string
	OverallOK    bool
}

// Trust is the read-only verification environment: the JWKS cache and the
// optional pinned QPU root certificate.
type Trust struct {
	Cache      *JWKSCache
	PinnedRoot *x509.Certificate
}

var jwsAllowedAlgs = []string{"EdDSA", "ES256", "RS256"}

func b64urlDecode(s string) ([]byte, error) {
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.URLEncoding.DecodeString(s)
}

func decodeHexOrB64(s string) []byte {
	s = strings.TrimSpace(s)
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if b, err := hex.DecodeString(h); err == nil {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := b64urlDecode(s); err == nil {
		return b
	}
	return nil
}

// CanonicalJSON renders v as deterministic JSON (sorted keys, minimal
// whitespace) — the PQ signing transcript.
func CanonicalJSON(v any) []byte {
	b, _ := json.Marshal(v) // encoding/json sorts map keys
	return b
}

// ParseProviderCert accepts a compact JWS or the hybrid JSON envelope.
func ParseProviderCert(data []byte) (*ProviderCert, error) {
	txt := string(data)
	if strings.Count(txt, ".") == 2 && !strings.HasPrefix(strings.TrimSpace(txt), "{") {
		header, payload, err := decodeCompactJWS(txt)
		if err != nil {
			return nil, err
		}
		return &ProviderCert{
			Claims:     payload,
			JWSCompact: txt,
			JWSHeader:  header,
		}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, errors.Attestation("unrecognized provider cert format: %v", err)
	}
	claims, ok := obj["claims"].(map[string]any)
	if !ok {
		return nil, errors.Attestation("hybrid envelope missing claims map")
	}
	cert := &ProviderCert{Claims: claims}

	if compact, ok := obj["jws"].(string); ok && strings.Count(compact, ".") == 2 {
		header, _, err := decodeCompactJWS(compact)
		if err == nil {
			cert.JWSCompact = compact
			cert.JWSHeader = header
		}
	}
	if pemStr, ok := obj["x509_chain_pem"].(string); ok && strings.Contains(pemStr, "BEGIN CERTIFICATE") {
		cert.X509ChainPEM = []byte(pemStr)
	}
	if pq, ok := obj["pq"].(map[string]any); ok {
		alg, _ := pq["alg"].(string)
		pubStr, _ := pq["pub"].(string)
		sigStr, _ := pq["sig"].(string)
		pub := decodeHexOrB64(pubStr)
		sig := decodeHexOrB64(sigStr)
		if alg != "" && pub != nil && sig != nil {
			cert.PQ = &PQBundle{Alg: strings.ToLower(alg), Pub: pub, Sig: sig}
		}
	}
	return cert, nil
}

func decodeCompactJWS(compact string) (header, payload map[string]any, err error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, nil, errors.Attestation("not a compact JWS")
	}
	headerBytes, err := b64urlDecode(parts[0])
	if err != nil {
		return nil, nil, errors.Attestation("bad JWS header encoding: %v", err)
	}
	payloadBytes, err := b64urlDecode(parts[1])
	if err != nil {
		return nil, nil, errors.Attestation("bad JWS payload encoding: %v", err)
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, errors.Attestation("bad JWS header JSON: %v", err)
	}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, nil, errors.Attestation("bad JWS payload JSON: %v", err)
	}
	return header, payload, nil
}

// verifyJWS checks the compact JWS against the JWKS cache, including nbf/exp
// claims with a 60 second leeway.
func verifyJWS(compact string, header map[string]any, trust Trust, now time.Time) (bool, *KeyRef, string) {
	kid, _ := header["kid"].(string)
	alg, _ := header["alg"].(string)
	if kid == "" {
		return false, nil, "JWS header missing kid"
	}
	ref, ok := trust.Cache.FindKey(kid, alg)
	if !ok {
		return false, nil, "kid " + kid + " not found in JWKS cache"
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(jwsAllowedAlgs),
		jwt.WithLeeway(60*time.Second),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	_, err := parser.Parse(compact, func(token *jwt.Token) (any, error) {
		tokenKid, _ := token.Header["kid"].(string)
		if tokenKid != kid {
			return nil, errors.Attestation("kid changed between parse passes")
		}
		return ref.Key, nil
	})
	if err != nil {
		return false, &ref, "bad JWS signature: " + err.Error()
	}
	return true, &ref, "ok"
}

// verifyX509Binding validates the chain (leaf validity window, issuer→
// subject walk to the pinned root) and, when a JWS is present, that the leaf
// public key equals the JWS key.
func verifyX509Binding(chainPEM []byte, keyRef *KeyRef, trust Trust, now time.Time) (bool, string) {
	certs := attest.ParseCertificatesPEM(chainPEM)
	if len(certs) == 0 {
		return false, "no certificates in PEM chain"
	}
	leaf := certs[0]
	if now.Before(leaf.NotBefore) {
		return false, "leaf cert not yet valid"
	}
	if now.After(leaf.NotAfter) {
		return false, "leaf cert expired"
	}
	if !attest.WalkChain(leaf, certs[1:], trust.PinnedRoot) {
		return false, "chain does not anchor to QPU root"
	}
	if keyRef != nil {
		leafDER, err1 := x509.MarshalPKIXPublicKey(leaf.PublicKey)
		jwsDER, err2 := x509.MarshalPKIXPublicKey(keyRef.Key)
		if err1 != nil || err2 != nil || !bytes.Equal(leafDER, jwsDER) {
			return false, "leaf public key does not match JWS key (binding failed)"
		}
	}
	return true, "ok"
}

// VerifyProviderCert runs the JWS, X.509, and PQ mechanisms and combines
// them: overall_ok requires the JWS to verify, and each optional mechanism
// to verify when present.
func VerifyProviderCert(cert *ProviderCert, trust Trust, now time.Time) VerifiedProvider {
	decisions := make(map[string]string, 3)
	out := VerifiedProvider{Claims: cert.Claims, Decisions: decisions}

	if cert.JWSCompact != "" {
		ok, ref, note := verifyJWS(cert.JWSCompact, cert.JWSHeader, trust, now)
		out.JWSVerified = ok
		out.KeyRef = ref
		decisions["jws"] = note
		out.Kid, _ = cert.JWSHeader["kid"].(string)
		out.Alg, _ = cert.JWSHeader["alg"].(string)
	} else {
		decisions["jws"] = "absent"
	}

	if len(cert.X509ChainPEM) > 0 {
		ok, note := verifyX509Binding(cert.X509ChainPEM, out.KeyRef, trust, now)
		out.X509Verified = ok
		decisions["x509"] = note
	} else {
		decisions["x509"] = "absent"
	}

	if cert.PQ != nil {
		msg := CanonicalJSON(cert.Claims)
		ok, err := PQVerify(cert.PQ.Alg, cert.PQ.Pub, msg, cert.PQ.Sig)
		switch {
		case err != nil:
			decisions["pq"] = "pq backend unavailable for " + cert.PQ.Alg
		case ok:
			out.PQVerified = true
			decisions["pq"] = "ok"
		default:
			decisions["pq"] = "PQ signature invalid"
		}
	} else {
		decisions["pq"] = "absent"
	}

	out.OverallOK = out.JWSVerified &&
		(out.X509Verified || len(cert.X509ChainPEM) == 0) &&
		(out.PQVerified || cert.PQ == nil)
	return out
}

// VerifyProviderBytes parses then verifies a raw provider certificate blob.
func VerifyProviderBytes(data []byte, trust Trust, now time.Time) (VerifiedProvider, error) {
	cert, err := ParseProviderCert(data)
	if err != nil {
		return VerifiedProvider{}, err
	}
	return VerifyProviderCert(cert, trust, now), nil
}
