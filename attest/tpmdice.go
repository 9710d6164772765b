package attest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"sort"
	"time"

	"github.com/animicaorg/animica-core/errors"
)

// TPM 2.0 event-log replay plus optional Quote and DICE chain checks. The
// event log is the canonical JSON shape used by go-tpm-tools style tooling:
//
//	{"pcrIndex": 7, "eventType": "...", "digests": [{"hashAlg": "sha256",
//	 "digest": "<hex>"}], "data": "<opaque>"}
//
// Replay initializes each selected PCR to zeros and folds
// PCR[n] = H(PCR[n] || digest) in log order.

// TPMEvent is one parsed event-log entry.
type TPMEvent struct {
	PCRIndex int             `json:"pcrIndex"`
	Digests  []TPMEventDigest `json:"digests"`
}

// TPMEventDigest is one per-algorithm digest of an event.
type TPMEventDigest struct {
	HashAlg string `json:"hashAlg"`
	Digest  string `json:"digest"`
}

// ParseEventLogJSON parses a JSON event log (array of events).
func ParseEventLogJSON(buf []byte) ([]TPMEvent, error) {
	var events []TPMEvent
	if err := json.Unmarshal(buf, &events); err != nil {
		return nil, errors.Attestation("TPM event log is not valid JSON: %v", err)
	}
	return events, nil
}

func pcrHash(alg string) (func([]byte) []byte, int, error) {
	switch alg {
	case "sha1":
		return func(b []byte) []byte { d := sha1.Sum(b); return d[:] }, sha1.Size, nil
	case "sha256":
		return func(b []byte) []byte { d := sha256.Sum256(b); return d[:] }, sha256.Size, nil
	default:
		return nil, 0, errors.Attestation("unsupported PCR hash algorithm: %s", alg)
	}
}

// ReplayPCRs extends the selected PCRs with the chosen algorithm's digests
// in log order and returns the resulting register values.
func ReplayPCRs(events []TPMEvent, selection []int, alg string) (map[int][]byte, error) {
	hashFn, size, err := pcrHash(alg)
	if err != nil {
		return nil, err
	}
	selected := make(map[int]bool, len(selection))
	pcrs := make(map[int][]byte, len(selection))
	for _, idx := range selection {
		selected[idx] = true
		pcrs[idx] = make([]byte, size)
	}
	for _, ev := range events {
		if !selected[ev.PCRIndex] {
			continue
		}
		var digest []byte
		for _, d := range ev.Digests {
			if d.HashAlg == alg {
				raw, err := hex.DecodeString(d.Digest)
				if err != nil {
					return nil, errors.Attestation("bad %s digest in event log: %v", alg, err)
				}
				if len(raw) != size {
					return nil, errors.Attestation("event digest length %d != %d", len(raw), size)
				}
				digest = raw
				break
			}
		}
		if digest == nil {
			continue // event has no digest for the chosen bank
		}
		pcrs[ev.PCRIndex] = hashFn(append(pcrs[ev.PCRIndex], digest...))
	}
	return pcrs, nil
}

// CompositeDigest hashes the concatenation of the selected PCR values in
// ascending index order with SHA-256, the construction most quote tooling
// uses.
func CompositeDigest(pcrs map[int][]byte, selection []int) [32]byte {
	sorted := append([]int{}, selection...)
	sort.Ints(sorted)
	h := sha256.New()
	for _, idx := range sorted {
		h.Write(pcrs[idx])
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// tpmGeneratedMagic prefixes every TPMS_ATTEST structure.
var tpmGeneratedMagic = []byte{0xFF, 0x54, 0x43, 0x47}

// parseTPMSAttest best-effort extracts (extraData nonce, pcrDigest) from a
// TPMS_ATTEST buffer for TPM_ST_ATTEST_QUOTE. Layout after the magic and
// type: qualifiedSigner (TPM2B), extraData (TPM2B), clockInfo (17B),
// firmwareVersion (8B), then TPML_PCR_SELECTION and the TPM2B pcrDigest.
func parseTPMSAttest(attest []byte) (nonce, pcrDigest []byte) {
	if len(attest) < 10 || string(attest[:4]) != string(tpmGeneratedMagic) {
		return nil, nil
	}
	off := 6 // magic(4) + type(2)
	readTPM2B := func() ([]byte, bool) {
		if off+2 > len(attest) {
			return nil, false
		}
		n := int(binary.BigEndian.Uint16(attest[off:]))
		off += 2
		if off+n > len(attest) {
			return nil, false
		}
		b := attest[off : off+n]
		off += n
		return b, true
	}
	if _, ok := readTPM2B(); !ok { // qualifiedSigner
		return nil, nil
	}
	extra, ok := readTPM2B()
	if !ok {
		return nil, nil
	}
	off += 17 + 8 // clockInfo + firmwareVersion
	// TPML_PCR_SELECTION: u32 count, then per selection u16 alg, u8 size,
	// size bytes of bitmap.
	if off+4 > len(attest) {
		return extra, nil
	}
	count := int(binary.BigEndian.Uint32(attest[off:]))
	off += 4
	for i := 0; i < count && off+3 <= len(attest); i++ {
		size := int(attest[off+2])
		off += 3 + size
	}
	digest, ok := readTPM2B()
	if !ok {
		return extra, nil
	}
	return extra, digest
}

// verifyQuoteSignature checks the AK signature over the TPMS_ATTEST bytes
// for the common AK types: RSA-PSS, RSASSA-PKCS1v1.5, and ECDSA (P-256 or
// P-384, hash chosen by curve size).
func verifyQuoteSignature(attest, sig []byte, akPubPEM []byte) bool {
	block, _ := pem.Decode(akPubPEM)
	if block == nil {
		return false
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false
	}
	digest256 := sha256.Sum256(attest)
	switch key := pub.(type) {
	case *rsa.PublicKey:
		if rsa.VerifyPSS(key, crypto.SHA256, digest256[:], sig, nil) == nil {
			return true
		}
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest256[:], sig) == nil
	case *ecdsa.PublicKey:
		if key.Curve.Params().BitSize > 256 {
			digest384 := sha512.Sum384(attest)
			return ecdsa.VerifyASN1(key, digest384[:], sig)
		}
		return ecdsa.VerifyASN1(key, digest256[:], sig)
	default:
		return false
	}
}

// verifyDICEChain walks a DER chain (leaf first) up to an optional pinned
// root.
func verifyDICEChain(derChain [][]byte, root *x509.Certificate) bool {
	if len(derChain) == 0 {
		return root == nil
	}
	var leaf *x509.Certificate
	var intermediates []*x509.Certificate
	for i, der := range derChain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return false
		}
		if i == 0 {
			leaf = cert
		} else {
			intermediates = append(intermediates, cert)
		}
	}
	return WalkChain(leaf, intermediates, root)
}

// TPMOptions carries the side inputs to TPM/DICE verification.
type TPMOptions struct {
	PCRSelection []int
	PCRAlg       string // "sha1" or "sha256"
	QuoteAttest  []byte // raw TPMS_ATTEST, optional
	QuoteSig     []byte
	AKPubPEM     []byte
	DICEChainDER [][]byte
	DICERoot     *x509.Certificate
	Now          time.Time
}

// VerifyTPMDICE replays the event log, cross-checks the quote when present,
// and walks the DICE chain. Structural errors raise AttestationError; failed
// cryptographic checks surface through the evidence flags.
func VerifyTPMDICE(eventLogJSON []byte, opts TPMOptions) (*TEEEvidence, error) {
	alg := opts.PCRAlg
	if alg == "" {
		alg = "sha256"
	}
	sel := opts.PCRSelection
	if len(sel) == 0 {
		sel = []int{0, 1, 2, 3, 4, 5, 6, 7}
	}
	events, err := ParseEventLogJSON(eventLogJSON)
	if err != nil {
		return nil, err
	}
	pcrs, err := ReplayPCRs(events, sel, alg)
	if err != nil {
		return nil, err
	}
	composite := CompositeDigest(pcrs, sel)

	var nonce, quotedDigest []byte
	digestMatches := false
	signatureOK := false
	if len(opts.QuoteAttest) > 0 {
		nonce, quotedDigest = parseTPMSAttest(opts.QuoteAttest)
		digestMatches = quotedDigest != nil && string(quotedDigest) == string(composite[:])
		if len(opts.QuoteSig) > 0 && len(opts.AKPubPEM) > 0 {
			signatureOK = verifyQuoteSignature(opts.QuoteAttest, opts.QuoteSig, opts.AKPubPEM)
		}
	}

	chainOK := verifyDICEChain(opts.DICEChainDER, opts.DICERoot)

	measurement := composite[:]
	if digestMatches {
		measurement = quotedDigest
	}

	logDigest := sha256.Sum256(eventLogJSON)
	pcrHex := make(map[string]string, len(pcrs))
	for idx, v := range pcrs {
		pcrHex[itoa(idx)] = hex.EncodeToString(v)
	}

	return &TEEEvidence{
		Vendor:      "tpm",
		Kind:        KindTPM,
		Report:      opts.QuoteAttest,
		Measurement: measurement,
		ReportData:  nonce,
		HostData:    logDigest[:],
		Claims: map[string]any{
			"vendor":  "tpm",
			"product": "tpm_dice",
			"debug":   false,
		},
		SignatureOK: signatureOK,
		ChainOK:     chainOK,
		TCBStatus:   TCBUnknown,
		Meta: map[string]any{
			"pcr_alg":          alg,
			"pcr_selection":    sel,
			"pcr_values":       pcrHex,
			"composite_digest": hex.EncodeToString(composite[:]),
			"digest_matches":   digestMatches,
		},
	}, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
