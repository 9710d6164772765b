package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"math/big"
	"time"

	"github.com/animicaorg/animica-core/errors"
)

// AMD SEV-SNP ATTESTATION_REPORT, firmware ABI rev 1.58 table 23. The
// signature covers bytes 0x000..0x29F; the signature blob follows at 0x2A0
// as DER or raw r||s (96 bytes, P-384).
const (
	snpSignedRegion = 0x2A0

	snpOffVersion      = 0x00
	snpOffGuestSVN     = 0x04
	snpOffPolicy       = 0x08
	snpOffFamilyID     = 0x10
	snpOffImageID      = 0x20
	snpOffVMPL         = 0x30
	snpOffSigAlgo      = 0x34
	snpOffCurrentTCB   = 0x38
	snpOffPlatformInfo = 0x40
	snpOffSigningKey   = 0x48
	snpOffReportData   = 0x50
	snpOffMeasurement  = 0x90
	snpOffHostData     = 0xC0
	snpOffIDKeyDigest  = 0xE0
	snpOffAuthorDigest = 0x110
	snpOffReportID     = 0x140
	snpOffReportIDMA   = 0x160
	snpOffReportedTCB  = 0x180
	snpOffChipID       = 0x1A0
	snpOffCommittedTCB = 0x1E0
	snpOffLaunchTCB    = 0x1F0

	snpSigningKeyVCEK = 0
	snpSigningKeyVLEK = 1
)

// SNP PLATFORM_INFO bits, table 24.
const (
	snpPlatSMTEn   = 1 << 0
	snpPlatTSMEEn  = 1 << 1
	snpPlatECCEn   = 1 << 2
	snpPlatRAPLDis = 1 << 3
)

// SNPReport is the parsed ATTESTATION_REPORT subset the verifier consumes.
type SNPReport struct {
	Version      uint32
	GuestSVN     uint32
	Policy       uint64
	FamilyID     [16]byte
	ImageID      [16]byte
	VMPL         uint32
	SigAlgo      uint32
	CurrentTCB   uint64
	PlatformInfo uint64
	SigningKey   uint8 // bits 2:0 of byte 0x48
	ReportData   [64]byte
	Measurement  [48]byte // SHA-384
	HostData     [32]byte
	IDKeyDigest  [48]byte
	AuthorDigest [48]byte
	ReportID     [32]byte
	ReportIDMA   [32]byte
	ReportedTCB  uint64
	ChipID       [64]byte
	CommittedTCB uint64
	LaunchTCB    uint64
	Signature    []byte // DER or raw r||s
	raw          []byte
}

// SigningKeyName maps the signing key selection to its label.
func (r *SNPReport) SigningKeyName() string {
	switch r.SigningKey {
	case snpSigningKeyVCEK:
		return "vcek"
	case snpSigningKeyVLEK:
		return "vlek"
	default:
		return "unknown"
	}
}

// PlatformFlags decodes the PLATFORM_INFO feature bits.
func (r *SNPReport) PlatformFlags() map[string]bool {
	return map[string]bool{
		"smt_en":        r.PlatformInfo&snpPlatSMTEn != 0,
		"tsme_en":       r.PlatformInfo&snpPlatTSMEEn != 0,
		"ecc_en":        r.PlatformInfo&snpPlatECCEn != 0,
		"rapl_disabled": r.PlatformInfo&snpPlatRAPLDis != 0,
	}
}

// ParseSNPReport parses a raw ATTESTATION_REPORT buffer.
func ParseSNPReport(report []byte) (*SNPReport, error) {
	if len(report) < snpSignedRegion {
		return nil, errors.Attestation("SEV-SNP report too short: %d < %d", len(report), snpSignedRegion)
	}
	r := &SNPReport{
		Version:      binary.LittleEndian.Uint32(report[snpOffVersion:]),
		GuestSVN:     binary.LittleEndian.Uint32(report[snpOffGuestSVN:]),
		Policy:       binary.LittleEndian.Uint64(report[snpOffPolicy:]),
		VMPL:         binary.LittleEndian.Uint32(report[snpOffVMPL:]),
		SigAlgo:      binary.LittleEndian.Uint32(report[snpOffSigAlgo:]),
		CurrentTCB:   binary.LittleEndian.Uint64(report[snpOffCurrentTCB:]),
		PlatformInfo: binary.LittleEndian.Uint64(report[snpOffPlatformInfo:]),
		SigningKey:   uint8(binary.LittleEndian.Uint32(report[snpOffSigningKey:]) & 0b111),
		ReportedTCB:  binary.LittleEndian.Uint64(report[snpOffReportedTCB:]),
		CommittedTCB: binary.LittleEndian.Uint64(report[snpOffCommittedTCB:]),
		LaunchTCB:    binary.LittleEndian.Uint64(report[snpOffLaunchTCB:]),
		Signature:    report[snpSignedRegion:],
		raw:          report,
	}
	copy(r.FamilyID[:], report[snpOffFamilyID:])
	copy(r.ImageID[:], report[snpOffImageID:])
	copy(r.ReportData[:], report[snpOffReportData:])
	copy(r.Measurement[:], report[snpOffMeasurement:])
	copy(r.HostData[:], report[snpOffHostData:])
	copy(r.IDKeyDigest[:], report[snpOffIDKeyDigest:])
	copy(r.AuthorDigest[:], report[snpOffAuthorDigest:])
	copy(r.ReportID[:], report[snpOffReportID:])
	copy(r.ReportIDMA[:], report[snpOffReportIDMA:])
	copy(r.ChipID[:], report[snpOffChipID:])
	return r, nil
}

// verifySNPSignature verifies ECDSA P-384 / SHA-384 over the signed region.
// Accepts DER or raw r||s (96 bytes).
func verifySNPSignature(r *SNPReport, pub *ecdsa.PublicKey) bool {
	if pub.Curve != elliptic.P384() {
		return false
	}
	digest := sha512.Sum384(r.raw[:snpSignedRegion])
	if ecdsa.VerifyASN1(pub, digest[:], r.Signature) {
		return true
	}
	if len(r.Signature) == 96 {
		ri := new(big.Int).SetBytes(r.Signature[:48])
		si := new(big.Int).SetBytes(r.Signature[48:])
		return ecdsa.Verify(pub, digest[:], ri, si)
	}
	return false
}

// SNPOptions carries the side inputs to SEV-SNP report verification.
type SNPOptions struct {
	VCEKOrVLEKPEM []byte // leaf certificate that signed the report
	ChainPEM      []byte // optional intermediates (ASK)
	RootPEM       []byte // optional ARK root; when absent the pinned root is used
	PinnedRoot    *x509.Certificate
	Now           time.Time
}

// VerifySNPReport parses and verifies a SEV-SNP attestation report.
func VerifySNPReport(report []byte, opts SNPOptions) (*TEEEvidence, error) {
	r, err := ParseSNPReport(report)
	if err != nil {
		return nil, err
	}

	signatureOK := false
	chainOK := false
	var nb, na time.Time
	if len(opts.VCEKOrVLEKPEM) > 0 {
		leafCerts := ParseCertificatesPEM(opts.VCEKOrVLEKPEM)
		if len(leafCerts) > 0 {
			leaf := leafCerts[0]
			nb, na = leaf.NotBefore, leaf.NotAfter
			if pub, ok := leaf.PublicKey.(*ecdsa.PublicKey); ok {
				signatureOK = verifySNPSignature(r, pub)
			}
			root := opts.PinnedRoot
			if len(opts.RootPEM) > 0 {
				if parsed, err := ParseRootPEM(opts.RootPEM); err == nil {
					root = parsed
				}
			}
			chainOK = WalkChain(leaf, ParseCertificatesPEM(opts.ChainPEM), root)
		}
	}

	// Anti-rollback sanity: the reported TCB must not exceed the current.
	tcb := TCBUpToDate
	if r.ReportedTCB > r.CurrentTCB {
		tcb = TCBOutOfDate
	}

	claims := map[string]any{
		"vendor":      "amd",
		"product":     "sev_snp",
		"measurement": r.Measurement[:],
		"family_id":   r.FamilyID[:],
		"image_id":    r.ImageID[:],
		"tcb_svn":     r.ReportedTCB,
		"debug":       r.Policy&(1<<19) != 0, // SNP policy DEBUG bit
	}

	return &TEEEvidence{
		Vendor:      "amd",
		Kind:        KindSEVSNP,
		Report:      report,
		Measurement: r.Measurement[:],
		ReportData:  r.ReportData[:],
		HostData:    r.HostData[:],
		Policy:      r.Policy,
		Claims:      claims,
		SignatureOK: signatureOK,
		ChainOK:     chainOK,
		TCBStatus:   tcb,
		NotBefore:   nb,
		NotAfter:    na,
		Meta: map[string]any{
			"guest_svn":      uint64(r.GuestSVN),
			"vmpl":           uint64(r.VMPL),
			"signing_key":    r.SigningKeyName(),
			"platform_flags": r.PlatformFlags(),
			"current_tcb":    r.CurrentTCB,
			"committed_tcb":  r.CommittedTCB,
			"launch_tcb":     r.LaunchTCB,
		},
	}, nil
}
