package attest

import (
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"strings"
	"time"

	"github.com/animicaorg/animica-core/errors"
)

// Intel SGX quote v3 layout (ECDSA quotes):
//
//	header: 48 bytes
//	  u16 version, u16 att_key_type, u32 tee_type (0x00 = SGX, 0x81 = TDX),
//	  u16 qe_svn, u16 pce_svn, 16B qe_vendor_id, 20B user_data
//	report body (SGX only): 384 bytes starting at offset 48
//	  attributes.flags @48 (u64 LE, debug bit 0x02), xfrm @56,
//	  mrenclave @64 (32B), mrsigner @128 (32B),
//	  isvprodid @256 (u16 LE), isvsvn @258 (u16 LE)
const (
	sgxHeaderSize     = 48
	sgxReportBodySize = 384
	sgxTeeTypeSGX     = 0x00000000
	sgxTeeTypeTDX     = 0x00000081
	sgxFlagsDebug     = 0x00000002
)

// SGXQuoteHeader is the parsed quote header.
type SGXQuoteHeader struct {
	Version     uint16
	AttKeyType  uint16
	TeeType     uint32
	QESVN       uint16
	PCESVN      uint16
	QEVendorID  [16]byte
	UserData    [20]byte
}

// SGXReportBody is the subset of REPORTBODY fields the verifier binds to.
type SGXReportBody struct {
	AttributesFlags uint64
	AttributesXFRM  uint64
	MREnclave       [32]byte
	MRSigner        [32]byte
	ISVProdID       uint16
	ISVSVN          uint16
	Debug           bool
}

// ParseSGXQuoteHeader parses the 48-byte quote header.
func ParseSGXQuoteHeader(quote []byte) (*SGXQuoteHeader, error) {
	if len(quote) < sgxHeaderSize {
		return nil, errors.Attestation("SGX quote too short for header: %d < %d", len(quote), sgxHeaderSize)
	}
	h := &SGXQuoteHeader{
		Version:    binary.LittleEndian.Uint16(quote[0:2]),
		AttKeyType: binary.LittleEndian.Uint16(quote[2:4]),
		TeeType:    binary.LittleEndian.Uint32(quote[4:8]),
		QESVN:      binary.LittleEndian.Uint16(quote[8:10]),
		PCESVN:     binary.LittleEndian.Uint16(quote[10:12]),
	}
	copy(h.QEVendorID[:], quote[12:28])
	copy(h.UserData[:], quote[28:48])
	return h, nil
}

// ParseSGXReportBody parses a 384-byte SGX REPORTBODY.
func ParseSGXReportBody(body []byte) (*SGXReportBody, error) {
	if len(body) < sgxReportBodySize {
		return nil, errors.Attestation("SGX report body too short: %d < %d", len(body), sgxReportBodySize)
	}
	rb := &SGXReportBody{
		AttributesFlags: binary.LittleEndian.Uint64(body[48:56]),
		AttributesXFRM:  binary.LittleEndian.Uint64(body[56:64]),
		ISVProdID:       binary.LittleEndian.Uint16(body[256:258]),
		ISVSVN:          binary.LittleEndian.Uint16(body[258:260]),
	}
	copy(rb.MREnclave[:], body[64:96])
	copy(rb.MRSigner[:], body[128:160])
	rb.Debug = rb.AttributesFlags&sgxFlagsDebug != 0
	return rb, nil
}

// ParseSGXQuote parses the header and, for plain SGX quotes, the REPORTBODY.
// TDX quotes keep the header only (TDREPORT is structurally different and is
// not parsed here).
func ParseSGXQuote(quote []byte) (*SGXQuoteHeader, *SGXReportBody, error) {
	header, err := ParseSGXQuoteHeader(quote)
	if err != nil {
		return nil, nil, err
	}
	if header.TeeType != sgxTeeTypeSGX {
		return header, nil, nil
	}
	if len(quote) < sgxHeaderSize+sgxReportBodySize {
		return nil, nil, errors.Attestation("SGX quote truncated before report body")
	}
	rb, err := ParseSGXReportBody(quote[sgxHeaderSize : sgxHeaderSize+sgxReportBodySize])
	if err != nil {
		return nil, nil, err
	}
	return header, rb, nil
}

// verifyPCKChain runs the basic PCK bundle checks: parse all PEM blocks,
// treat the first certificate as the leaf, and require now to fall inside
// the leaf validity window. When a pinned Intel root is supplied the bundle
// must also walk issuer->subject up to it. No CRL/OCSP.
func verifyPCKChain(pemBundle []byte, pinnedRoot *x509.Certificate, now time.Time) (bool, time.Time, time.Time) {
	certs := ParseCertificatesPEM(pemBundle)
	if len(certs) == 0 {
		return false, time.Time{}, time.Time{}
	}
	leaf := certs[0]
	ok := !now.Before(leaf.NotBefore) && !now.After(leaf.NotAfter)
	if ok && pinnedRoot != nil {
		ok = WalkChain(leaf, certs[1:], pinnedRoot)
	}
	return ok, leaf.NotBefore, leaf.NotAfter
}

// ParseCertificatesPEM decodes every CERTIFICATE block in a PEM bundle,
// skipping blocks that fail to parse.
func ParseCertificatesPEM(bundle []byte) []*x509.Certificate {
	var certs []*x509.Certificate
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}

// SummarizeTCBStatus derives a coarse TCBStatus from an Intel QE identity
// JSON document, taking the worst status across tcbLevels.
func SummarizeTCBStatus(qeIdentityJSON []byte) TCBStatus {
	if len(qeIdentityJSON) == 0 {
		return TCBUnknown
	}
	var doc struct {
		TCBLevels []struct {
			Status string `json:"status"`
		} `json:"tcbLevels"`
	}
	if err := json.Unmarshal(qeIdentityJSON, &doc); err != nil {
		return TCBUnknown
	}
	worst := TCBUpToDate
	for _, lvl := range doc.TCBLevels {
		status := strings.ToLower(lvl.Status)
		if strings.Contains(status, "revoked") {
			return TCBRevoked
		}
		if strings.Contains(status, "outofdate") || strings.Contains(status, "configurationneeded") {
			worst = TCBOutOfDate
		}
	}
	return worst
}

// SGXOptions carries the side inputs to SGX quote verification.
type SGXOptions struct {
	PCKChainPEM    []byte
	QEIdentityJSON []byte
	PinnedRoot     *x509.Certificate
	Now            time.Time
}

// VerifySGXQuote parses an SGX (or TDX) quote and returns normalized
// evidence. Full DCAP verification (quote signature against the PCK leaf,
// CRLs, QE identity matching) is out of scope; the PCK bundle walk and TCB
// summary give ChainOK and TCBStatus, and policy decides acceptance.
func VerifySGXQuote(quote []byte, opts SGXOptions) (*TEEEvidence, error) {
	header, rb, err := ParseSGXQuote(quote)
	if err != nil {
		return nil, err
	}

	product := "sgx"
	if header.TeeType != sgxTeeTypeSGX {
		product = "tdx"
	}
	claims := map[string]any{
		"vendor":         "intel",
		"product":        product,
		"report_version": uint64(header.Version),
	}
	var measurement []byte
	if rb != nil {
		claims["mrenclave"] = rb.MREnclave[:]
		claims["mrsigner"] = rb.MRSigner[:]
		claims["isvprodid"] = uint64(rb.ISVProdID)
		claims["isvsvn"] = uint64(rb.ISVSVN)
		claims["debug"] = rb.Debug
		measurement = rb.MREnclave[:]
	} else {
		claims["debug"] = false
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	chainOK, nb, na := verifyPCKChain(opts.PCKChainPEM, opts.PinnedRoot, now)
	tcb := SummarizeTCBStatus(opts.QEIdentityJSON)

	var reportData []byte
	if rb != nil {
		reportData = header.UserData[:]
	}

	return &TEEEvidence{
		Vendor:      "intel",
		Kind:        KindSGX,
		Report:      quote,
		Measurement: measurement,
		ReportData:  reportData,
		Claims:      claims,
		SignatureOK: false, // quote signature verification requires full DCAP
		ChainOK:     chainOK,
		TCBStatus:   tcb,
		NotBefore:   nb,
		NotAfter:    na,
		Meta: map[string]any{
			"qe_svn":  uint64(header.QESVN),
			"pce_svn": uint64(header.PCESVN),
		},
	}, nil
}
