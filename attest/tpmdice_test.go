package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
)

func eventLogJSON(t *testing.T, events []map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(events)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestReplayPCRs(t *testing.T) {
	d1 := sha256.Sum256([]byte("stage1"))
	d2 := sha256.Sum256([]byte("stage2"))
	logData := eventLogJSON(t, []map[string]any{
		{"pcrIndex": 0, "digests": []map[string]string{{"hashAlg": "sha256", "digest": hex.EncodeToString(d1[:])}}},
		{"pcrIndex": 0, "digests": []map[string]string{{"hashAlg": "sha256", "digest": hex.EncodeToString(d2[:])}}},
		{"pcrIndex": 7, "digests": []map[string]string{{"hashAlg": "sha256", "digest": hex.EncodeToString(d1[:])}}},
	})
	events, err := ParseEventLogJSON(logData)
	if err != nil {
		t.Fatal(err)
	}
	pcrs, err := ReplayPCRs(events, []int{0, 7}, "sha256")
	if err != nil {
		t.Fatal(err)
	}

	// Fold by hand: PCR0 = H(H(zero32 || d1) || d2).
	zero := make([]byte, 32)
	step1 := sha256.Sum256(append(append([]byte{}, zero...), d1[:]...))
	step2 := sha256.Sum256(append(step1[:], d2[:]...))
	if hex.EncodeToString(pcrs[0]) != hex.EncodeToString(step2[:]) {
		t.Errorf("PCR0 replay = %x, want %x", pcrs[0], step2)
	}

	p7 := sha256.Sum256(append(append([]byte{}, zero...), d1[:]...))
	if hex.EncodeToString(pcrs[7]) != hex.EncodeToString(p7[:]) {
		t.Errorf("PCR7 replay = %x, want %x", pcrs[7], p7)
	}
}

func TestReplayPCRsUnsupportedAlg(t *testing.T) {
	if _, err := ReplayPCRs(nil, []int{0}, "md5"); err == nil {
		t.Error("md5 bank accepted")
	}
}

func TestCompositeDigestOrder(t *testing.T) {
	pcrs := map[int][]byte{
		0: make([]byte, 32),
		7: make([]byte, 32),
	}
	pcrs[7][0] = 1
	a := CompositeDigest(pcrs, []int{7, 0})
	b := CompositeDigest(pcrs, []int{0, 7})
	if a != b {
		t.Error("composite digest must sort the selection")
	}
}

func TestVerifyTPMDICEEvidence(t *testing.T) {
	d := sha256.Sum256([]byte("boot"))
	logData := eventLogJSON(t, []map[string]any{
		{"pcrIndex": 0, "digests": []map[string]string{{"hashAlg": "sha256", "digest": hex.EncodeToString(d[:])}}},
	})
	evidence, err := VerifyTPMDICE(logData, TPMOptions{PCRSelection: []int{0}, PCRAlg: "sha256"})
	if err != nil {
		t.Fatal(err)
	}
	if evidence.Kind != KindTPM {
		t.Errorf("kind = %s", evidence.Kind)
	}
	if len(evidence.Measurement) != 32 {
		t.Errorf("measurement length = %d", len(evidence.Measurement))
	}
	// No quote, no DICE chain: signature unverified, chain lenient.
	if evidence.SignatureOK {
		t.Error("SignatureOK without a quote")
	}
	if !evidence.ChainOK {
		t.Error("absent DICE chain with no pinned root should be lenient")
	}
	logDigest := sha256.Sum256(logData)
	if hex.EncodeToString(evidence.HostData) != hex.EncodeToString(logDigest[:]) {
		t.Error("host data should commit to the raw event log")
	}
}

func TestVerifyTPMDICEBadLog(t *testing.T) {
	if _, err := VerifyTPMDICE([]byte("not json"), TPMOptions{}); err == nil {
		t.Error("non-JSON event log accepted")
	}
}

func TestParseTPMSAttestNonce(t *testing.T) {
	// magic || type || qualifiedSigner(len 0) || extraData(len 4) ...
	attest := []byte{0xFF, 0x54, 0x43, 0x47, 0x80, 0x18,
		0x00, 0x00, // qualifiedSigner: empty
		0x00, 0x04, 0xDE, 0xAD, 0xBE, 0xEF, // extraData
	}
	nonce, _ := parseTPMSAttest(attest)
	if hex.EncodeToString(nonce) != "deadbeef" {
		t.Errorf("nonce = %x", nonce)
	}
	if n, _ := parseTPMSAttest([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}); n != nil {
		t.Error("bad magic accepted")
	}
}
