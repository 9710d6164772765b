package attest

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

// buildSGXQuote assembles a minimal SGX quote: 48-byte header followed by a
// 384-byte REPORTBODY.
func buildSGXQuote(teeType uint32, debug bool, mrenclave, mrsigner byte, isvprodid, isvsvn uint16) []byte {
	quote := make([]byte, sgxHeaderSize+sgxReportBodySize)
	binary.LittleEndian.PutUint16(quote[0:], 3) // version
	binary.LittleEndian.PutUint32(quote[4:], teeType)
	binary.LittleEndian.PutUint16(quote[8:], 7)  // qe_svn
	binary.LittleEndian.PutUint16(quote[10:], 9) // pce_svn

	body := quote[sgxHeaderSize:]
	var flags uint64
	if debug {
		flags |= sgxFlagsDebug
	}
	binary.LittleEndian.PutUint64(body[48:], flags)
	for i := 64; i < 96; i++ {
		body[i] = mrenclave
	}
	for i := 128; i < 160; i++ {
		body[i] = mrsigner
	}
	binary.LittleEndian.PutUint16(body[256:], isvprodid)
	binary.LittleEndian.PutUint16(body[258:], isvsvn)
	return quote
}

func TestParseSGXQuoteFields(t *testing.T) {
	quote := buildSGXQuote(sgxTeeTypeSGX, true, 0xAA, 0xBB, 17, 4)
	header, rb, err := ParseSGXQuote(quote)
	if err != nil {
		t.Fatal(err)
	}
	if header.Version != 3 {
		t.Errorf("version = %d, want 3", header.Version)
	}
	if rb == nil {
		t.Fatal("SGX quote should carry a report body")
	}
	if !rb.Debug {
		t.Error("debug bit not decoded")
	}
	if rb.MREnclave[0] != 0xAA || rb.MRSigner[0] != 0xBB {
		t.Error("measurements not extracted at the documented offsets")
	}
	if rb.ISVProdID != 17 || rb.ISVSVN != 4 {
		t.Errorf("isvprodid/isvsvn = %d/%d, want 17/4", rb.ISVProdID, rb.ISVSVN)
	}
}

func TestParseSGXQuoteTDXSkipsBody(t *testing.T) {
	quote := buildSGXQuote(sgxTeeTypeTDX, false, 0, 0, 0, 0)
	_, rb, err := ParseSGXQuote(quote)
	if err != nil {
		t.Fatal(err)
	}
	if rb != nil {
		t.Error("TDX quotes must not parse an SGX report body")
	}
}

func TestParseSGXQuoteTruncated(t *testing.T) {
	if _, _, err := ParseSGXQuote(make([]byte, 20)); err == nil {
		t.Error("short header accepted")
	}
	if _, _, err := ParseSGXQuote(make([]byte, 100)); err == nil {
		t.Error("truncated report body accepted")
	}
}

func TestVerifySGXQuoteEvidence(t *testing.T) {
	quote := buildSGXQuote(sgxTeeTypeSGX, false, 0xAA, 0xBB, 1, 2)
	evidence, err := VerifySGXQuote(quote, SGXOptions{Now: time.Unix(1700000000, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if evidence.Kind != KindSGX || evidence.Vendor != "intel" {
		t.Errorf("kind/vendor = %s/%s", evidence.Kind, evidence.Vendor)
	}
	if evidence.ChainOK {
		t.Error("ChainOK must be false without a PCK bundle")
	}
	if evidence.SignatureOK {
		t.Error("SignatureOK must be false without DCAP verification")
	}
	if !bytes.Equal(evidence.Measurement, evidence.Claims["mrenclave"].([]byte)) {
		t.Error("measurement should be mrenclave")
	}
	if evidence.DebugMode() {
		t.Error("debug claim wrong")
	}
}

func TestSummarizeTCBStatus(t *testing.T) {
	cases := []struct {
		json string
		want TCBStatus
	}{
		{`{"tcbLevels":[{"status":"UpToDate"}]}`, TCBUpToDate},
		{`{"tcbLevels":[{"status":"OutOfDate"}]}`, TCBOutOfDate},
		{`{"tcbLevels":[{"status":"ConfigurationNeeded"}]}`, TCBOutOfDate},
		{`{"tcbLevels":[{"status":"UpToDate"},{"status":"Revoked"}]}`, TCBRevoked},
		{`not json`, TCBUnknown},
		{``, TCBUnknown},
	}
	for _, c := range cases {
		if got := SummarizeTCBStatus([]byte(c.json)); got != c.want {
			t.Errorf("SummarizeTCBStatus(%q) = %v, want %v", c.json, got, c.want)
		}
	}
}
