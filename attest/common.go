// Package attest parses and verifies TEE attestation evidence (Intel
// SGX/TDX quotes, AMD SEV-SNP reports, Arm CCA realm tokens, TPM/DICE event
// logs) into a normalized TEEEvidence, and evaluates acceptance against an
// explicit AttestationPolicy.
//
// Parsers never decide acceptance on their own: they surface SignatureOK,
// ChainOK and TCBStatus honestly (false when the check could not run) and a
// pure policy evaluation decides. In strict mode, evidence whose signature or
// chain could not be verified is fatal.
package attest

import (
	"crypto/hmac"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/hashutil"
	"golang.org/x/crypto/sha3"
)

// TEEKind names a supported TEE family.
type TEEKind string

const (
	KindSGX    TEEKind = "sgx"
	KindSEVSNP TEEKind = "sev_snp"
	KindCCA    TEEKind = "cca"
	KindTPM    TEEKind = "tpm_dice"
)

// TCBStatus is the coarse freshness/revocation summary of the platform TCB.
type TCBStatus uint8

const (
	TCBUnknown TCBStatus = iota
	TCBUpToDate
	TCBOutOfDate
	TCBRevoked
)

// String returns the canonical status name.
func (s TCBStatus) String() string {
	switch s {
	case TCBUpToDate:
		return "UP_TO_DATE"
	case TCBOutOfDate:
		return "OUT_OF_DATE"
	case TCBRevoked:
		return "REVOKED"
	default:
		return "UNKNOWN"
	}
}

// Domain tags for the measurement/policy binding transcripts.
const (
	domainMeasurementBind = "ANIMICA::TEE_MEASUREMENT_BINDING/v1"
)

// TEEEvidence is the normalized view every vendor parser produces before
// policy evaluation. Parsers guarantee the *parse* integrity of Claims; the
// cryptographic integrity is reported through SignatureOK/ChainOK.
type TEEEvidence struct {
	Vendor      string
	Kind        TEEKind
	Report      []byte
	Measurement []byte
	ReportData  []byte
	HostData    []byte
	Policy      uint64

	Claims map[string]any

	SignatureOK bool
	ChainOK     bool
	TCBStatus   TCBStatus

	NotBefore time.Time // zero when the format carries no validity window
	NotAfter  time.Time

	Meta map[string]any
}

// DebugMode reports whether the evidence claims a debug-mode environment.
func (e *TEEEvidence) DebugMode() bool {
	switch v := e.Claims["debug"].(type) {
	case bool:
		return v
	case uint64:
		return v != 0
	case int64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

// ExpectedMeasurements carries the toolchain-side expectations bound to the
// work product. Fields are nil/zero when the TEE kind does not expose them.
type ExpectedMeasurements struct {
	// SGX / TDX.
	MREnclave []byte
	MRSigner  []byte
	ISVProdID *uint16
	ISVSVN    *uint16

	// SEV-SNP.
	SEVMeasurement []byte
	SEVFamilyID    []byte
	SEVImageID     []byte
	SEVTCBSVN      *uint64

	// Arm CCA.
	CCARealmMeasurement []byte
	CCAPubKeyHash       []byte

	// Toolchain artifacts and network salt.
	CodeHash     []byte
	ManifestHash []byte
	NetworkSalt  []byte
}

// AttestationPolicy is the explicit acceptance policy. Every best-effort
// fallback becomes a policy bit here.
type AttestationPolicy struct {
	AllowDebug           bool          `yaml:"allow_debug"`
	RequireChainOK       bool          `yaml:"require_chain_ok"`
	RequireSignatureOK   bool          `yaml:"require_signature_ok"`
	RequireTCBUpToDate   bool          `yaml:"require_tcb_up_to_date"`
	AllowTCBOutOfDate    bool          `yaml:"allow_tcb_out_of_date_grace"`
	AcceptedKinds        []TEEKind     `yaml:"accepted_kinds"`
	BindManifest         bool          `yaml:"bind_manifest"`
	BindCode             bool          `yaml:"bind_code"`
	FreshnessMaxAge      time.Duration `yaml:"freshness_max_age"`
	Strict               bool          `yaml:"strict"`
}

// DefaultPolicy returns the production policy: no debug, chain and signature
// required, TCB up to date, 24h freshness.
func DefaultPolicy() AttestationPolicy {
	return AttestationPolicy{
		RequireChainOK:     true,
		RequireSignatureOK: true,
		RequireTCBUpToDate: true,
		BindManifest:       true,
		BindCode:           true,
		FreshnessMaxAge:    24 * time.Hour,
	}
}

// AttestationResult is the outcome of measurement matching plus policy
// evaluation.
type AttestationResult struct {
	OK               bool
	Reason           string
	Debug            bool
	TCBStatus        TCBStatus
	Binding          [32]byte
	Violations       []string
	Claims           map[string]any
}

// RequireOK converts a failed result into an AttestationError.
func (r *AttestationResult) RequireOK() error {
	if r.OK {
		return nil
	}
	return errors.Attestation("%s", r.Reason)
}

// dpush writes a domain-separated label/payload pair into a running hash:
// u16be(len(label)) || label || u32be(len(payload)) || payload.
func dpush(h *runningHash, label string, payload []byte) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(label)))
	h.Write(l[:])
	h.Write([]byte(label))
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], uint32(len(payload)))
	h.Write(p[:])
	h.Write(payload)
}

type runningHash struct{ inner interface{ Write([]byte) (int, error) } }

func (h *runningHash) Write(b []byte) { h.inner.Write(b) }

func packU32(v uint32) []byte { return hashutil.U32BE(v) }

// MeasurementBinding builds the deterministic 32-byte commitment tying the
// expected measurements, the raw report, and the integrity-protected public
// claims together. The expected network salt is part of the commitment, so
// identical jobs on different networks bind to different values. Nullifier
// derivation does not use this binding.
func MeasurementBinding(exp ExpectedMeasurements, evidence *TEEEvidence) [32]byte {
	sh := sha3.New256()
	sh.Write([]byte(domainMeasurementBind))
	h := &runningHash{inner: sh}

	dpush(h, "kind", []byte(evidence.Kind))
	report512 := hashutil.Sha3512(evidence.Report)
	dpush(h, "report_sha3_512", report512[:])

	dpush(h, "mrenclave", exp.MREnclave)
	dpush(h, "mrsigner", exp.MRSigner)
	dpush(h, "isvprodid", packU32(uint32(deref16(exp.ISVProdID))))
	dpush(h, "isvsvn", packU32(uint32(deref16(exp.ISVSVN))))

	dpush(h, "sev_measurement", exp.SEVMeasurement)
	dpush(h, "sev_family_id", exp.SEVFamilyID)
	dpush(h, "sev_image_id", exp.SEVImageID)
	dpush(h, "sev_tcb_svn", packU32(uint32(deref64(exp.SEVTCBSVN))))

	dpush(h, "cca_realm_measurement", exp.CCARealmMeasurement)
	dpush(h, "cca_pubkey_hash", exp.CCAPubKeyHash)

	dpush(h, "code_hash", exp.CodeHash)
	dpush(h, "manifest_hash", exp.ManifestHash)
	dpush(h, "network_salt", exp.NetworkSalt)

	claims := publicClaimsSubset(evidence)
	claims512 := hashutil.Sha3512(claims)
	dpush(h, "claims_sha3_512", claims512[:])

	var out [32]byte
	sh.Sum(out[:0])
	return out
}

func deref16(v *uint16) uint16 {
	if v == nil {
		return 0
	}
	return *v
}

func deref64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

// publicClaimsAllow limits which claims enter the binding transcript:
// measurements only, no device serials.
var publicClaimsAllow = map[string]struct{}{
	"mrenclave": {}, "mrsigner": {}, "isvprodid": {}, "isvsvn": {}, "debug": {},
	"measurement": {}, "family_id": {}, "image_id": {}, "tcb_svn": {},
	"realm_measurement": {}, "realm_pubkey_hash": {},
	"vendor": {}, "product": {}, "report_version": {},
}

func publicClaimsSubset(evidence *TEEEvidence) []byte {
	out := make(map[string]any)
	for k, v := range evidence.Claims {
		if _, ok := publicClaimsAllow[k]; !ok {
			continue
		}
		if b, ok := v.([]byte); ok {
			out[k] = hashutil.Hex(b)
		} else {
			out[k] = v
		}
	}
	// encoding/json sorts map keys, so the transcript is deterministic.
	b, _ := json.Marshal(out)
	return b
}

// EvaluatePolicy checks policy-level acceptance of already-parsed evidence.
func EvaluatePolicy(evidence *TEEEvidence, exp ExpectedMeasurements, policy AttestationPolicy, now time.Time) AttestationResult {
	var violations []string

	if len(policy.AcceptedKinds) > 0 {
		accepted := false
		for _, k := range policy.AcceptedKinds {
			if evidence.Kind == k {
				accepted = true
				break
			}
		}
		if !accepted {
			violations = append(violations, "kind "+string(evidence.Kind)+" not in accepted set")
		}
	}

	if policy.RequireChainOK && !evidence.ChainOK {
		violations = append(violations, "vendor chain not trusted")
	}
	if policy.RequireSignatureOK && !evidence.SignatureOK {
		violations = append(violations, "evidence signature not verified")
	}

	if policy.FreshnessMaxAge > 0 && !evidence.NotBefore.IsZero() {
		if age := now.Sub(evidence.NotBefore); age > policy.FreshnessMaxAge {
			violations = append(violations, "evidence too old")
		}
	}
	if !evidence.NotAfter.IsZero() && now.After(evidence.NotAfter) {
		violations = append(violations, "evidence expired")
	}

	debug := evidence.DebugMode()
	if debug && !policy.AllowDebug {
		violations = append(violations, "debug mode not permitted by policy")
	}

	switch evidence.TCBStatus {
	case TCBUpToDate:
	case TCBOutOfDate:
		if policy.RequireTCBUpToDate && !policy.AllowTCBOutOfDate {
			violations = append(violations, "TCB status OUT_OF_DATE not acceptable")
		}
	default:
		if policy.RequireTCBUpToDate {
			violations = append(violations, "TCB status "+evidence.TCBStatus.String()+" not acceptable")
		}
	}

	if policy.BindManifest && len(exp.ManifestHash) == 0 {
		violations = append(violations, "manifest binding required, manifest_hash missing")
	}
	if policy.BindCode && len(exp.CodeHash) == 0 {
		violations = append(violations, "code binding required, code_hash missing")
	}

	binding := MeasurementBinding(exp, evidence)
	ok := len(violations) == 0
	reason := "ok"
	if !ok {
		reason = joinViolations(violations)
	}
	return AttestationResult{
		OK:         ok,
		Reason:     reason,
		Debug:      debug,
		TCBStatus:  evidence.TCBStatus,
		Binding:    binding,
		Violations: violations,
		Claims:     compactClaims(evidence),
	}
}

// CheckMeasurements matches evidence claims against the expected
// measurements for its kind. Byte comparisons are constant-time.
func CheckMeasurements(exp ExpectedMeasurements, evidence *TEEEvidence) (bool, []string) {
	switch evidence.Kind {
	case KindSGX:
		return sgxMatches(exp, evidence.Claims)
	case KindSEVSNP:
		return sevSnpMatches(exp, evidence.Claims)
	case KindCCA:
		return ccaMatches(exp, evidence.Claims)
	case KindTPM:
		return true, nil // TPM expectations are PCR-policy driven, see tpmdice.go
	default:
		return false, []string{"unsupported kind " + string(evidence.Kind)}
	}
}

// Evaluate combines measurement matching and policy evaluation.
func Evaluate(evidence *TEEEvidence, exp ExpectedMeasurements, policy AttestationPolicy, now time.Time) AttestationResult {
	measOK, measViolations := CheckMeasurements(exp, evidence)
	res := EvaluatePolicy(evidence, exp, policy, now)

	violations := append([]string{}, measViolations...)
	violations = append(violations, res.Violations...)

	res.OK = measOK && res.OK
	res.Violations = violations
	if !res.OK {
		res.Reason = joinViolations(violations)
	}
	return res
}

func bytesEq(a, b []byte) bool {
	if a == nil || b == nil {
		return false
	}
	return hmac.Equal(a, b)
}

func claimBytes(claims map[string]any, key string) []byte {
	if b, ok := claims[key].([]byte); ok {
		return b
	}
	return nil
}

func claimUint(claims map[string]any, key string) (uint64, bool) {
	switch v := claims[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case uint16:
		return uint64(v), true
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

func sgxMatches(exp ExpectedMeasurements, claims map[string]any) (bool, []string) {
	var violations []string
	if exp.MREnclave != nil && !bytesEq(exp.MREnclave, claimBytes(claims, "mrenclave")) {
		violations = append(violations, "mrenclave mismatch")
	}
	if exp.MRSigner != nil && !bytesEq(exp.MRSigner, claimBytes(claims, "mrsigner")) {
		violations = append(violations, "mrsigner mismatch")
	}
	if exp.ISVProdID != nil {
		v, ok := claimUint(claims, "isvprodid")
		if !ok || v != uint64(*exp.ISVProdID) {
			violations = append(violations, "isvprodid mismatch")
		}
	}
	if exp.ISVSVN != nil {
		v, ok := claimUint(claims, "isvsvn")
		if !ok || v < uint64(*exp.ISVSVN) {
			violations = append(violations, "isvsvn below minimum")
		}
	}
	return len(violations) == 0, violations
}

func sevSnpMatches(exp ExpectedMeasurements, claims map[string]any) (bool, []string) {
	var violations []string
	if exp.SEVMeasurement != nil && !bytesEq(exp.SEVMeasurement, claimBytes(claims, "measurement")) {
		violations = append(violations, "SEV-SNP measurement mismatch")
	}
	if exp.SEVFamilyID != nil && !bytesEq(exp.SEVFamilyID, claimBytes(claims, "family_id")) {
		violations = append(violations, "SEV-SNP family_id mismatch")
	}
	if exp.SEVImageID != nil && !bytesEq(exp.SEVImageID, claimBytes(claims, "image_id")) {
		violations = append(violations, "SEV-SNP image_id mismatch")
	}
	if exp.SEVTCBSVN != nil {
		v, ok := claimUint(claims, "tcb_svn")
		if !ok || v < *exp.SEVTCBSVN {
			violations = append(violations, "SEV-SNP tcb_svn below minimum")
		}
	}
	return len(violations) == 0, violations
}

func ccaMatches(exp ExpectedMeasurements, claims map[string]any) (bool, []string) {
	var violations []string
	if exp.CCARealmMeasurement != nil && !bytesEq(exp.CCARealmMeasurement, claimBytes(claims, "realm_measurement")) {
		violations = append(violations, "CCA realm_measurement mismatch")
	}
	if exp.CCAPubKeyHash != nil && !bytesEq(exp.CCAPubKeyHash, claimBytes(claims, "realm_pubkey_hash")) {
		violations = append(violations, "CCA realm_pubkey_hash mismatch")
	}
	return len(violations) == 0, violations
}

func compactClaims(evidence *TEEEvidence) map[string]any {
	out := make(map[string]any, len(evidence.Claims))
	for k, v := range evidence.Claims {
		if b, ok := v.([]byte); ok {
			out[k] = hashutil.Hex(b)
		} else {
			out[k] = v
		}
	}
	return out
}

func joinViolations(v []string) string {
	sorted := append([]string{}, v...)
	sort.Strings(sorted)
	s := ""
	for i, x := range sorted {
		if i > 0 {
			s += "; "
		}
		s += x
	}
	return s
}
