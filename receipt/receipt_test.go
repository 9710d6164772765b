package receipt

import (
	"bytes"
	"testing"

	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/types"
)

func sampleSignals() map[string]float64 {
	return map[string]float64{
		"units":       1200,
		"traps_ratio": 0.97,
		"qos":         0.940,
		"redundancy":  0.8, // floors to 1 on quantization
	}
}

func sampleReceipt() *ProofReceipt {
	var nf [32]byte
	nf[0] = 0xAB
	return Build(types.AI, nf, []byte{0xA1, 0x61, 0x61, 0x01}, sampleSignals())
}

func TestQuantizeScalesAndOrder(t *testing.T) {
	q := QuantizeSignals(sampleSignals())
	want := map[string]uint64{
		"qos":         940_000_000,
		"redundancy":  1_000_000,
		"traps_ratio": 970_000_000,
		"units":       1_200_000_000, // 1200 * 1e6
	}
	if len(q) != len(want) {
		t.Fatalf("got %d pairs", len(q))
	}
	for i := 1; i < len(q); i++ {
		if q[i-1].Key >= q[i].Key {
			t.Error("pairs not sorted by key")
		}
	}
	for _, pair := range q {
		if want[pair.Key] != pair.Value {
			t.Errorf("%s = %d, want %d", pair.Key, pair.Value, want[pair.Key])
		}
	}
}

func TestQuantizeSanitizes(t *testing.T) {
	q := QuantizeSignals(map[string]float64{
		"traps_ratio":     1.7,
		"qos":             -0.5,
		"heartbeat":       0.3,
		"retrieval_bonus": 0,
		"seconds":         -1,
	})
	byKey := map[string]uint64{}
	for _, p := range q {
		byKey[p.Key] = p.Value
	}
	if byKey["traps_ratio"] != 1_000_000_000 {
		t.Errorf("ratio not clamped: %d", byKey["traps_ratio"])
	}
	if byKey["qos"] != 0 {
		t.Errorf("negative ratio not floored: %d", byKey["qos"])
	}
	if byKey["heartbeat"] != 1 {
		t.Errorf("nonzero boolean must quantize to 1: %d", byKey["heartbeat"])
	}
	if byKey["retrieval_bonus"] != 0 {
		t.Errorf("zero boolean = %d", byKey["retrieval_bonus"])
	}
	if byKey["seconds"] != 0 {
		t.Errorf("negative seconds = %d", byKey["seconds"])
	}
}

func TestReceiptBytesDeterministic(t *testing.T) {
	a, err := sampleReceipt().MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	b, err := sampleReceipt().MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical receipts encode differently")
	}

	la, _ := sampleReceipt().LeafHash()
	lb, _ := sampleReceipt().LeafHash()
	if la != lb {
		t.Error("leaf hashes differ")
	}
}

func TestVerifySignalsMatch(t *testing.T) {
	r := sampleReceipt()
	if !VerifySignalsMatch(r, sampleSignals()) {
		t.Error("matching signals rejected")
	}
	changed := sampleSignals()
	changed["qos"] = 0.941
	if VerifySignalsMatch(r, changed) {
		t.Error("changed signals matched")
	}
	extra := sampleSignals()
	extra["bonus"] = 1
	if VerifySignalsMatch(r, extra) {
		t.Error("extra signal matched")
	}
}

func TestEmptyMerkleSentinel(t *testing.T) {
	want := hashutil.Sha3256([]byte(DomainLeaf))
	if got := MerkleizeLeaves(nil); got != want {
		t.Errorf("empty root = %x, want sentinel %x", got, want)
	}
}

func TestMerkleOddDuplication(t *testing.T) {
	var l1, l2, l3 [32]byte
	l1[0], l2[0], l3[0] = 1, 2, 3

	// Three leaves: root = H(node, H(dom, l3, l3)) with the odd leaf doubled.
	n12 := hashutil.Sha3256([]byte(DomainNode), l1[:], l2[:])
	n33 := hashutil.Sha3256([]byte(DomainNode), l3[:], l3[:])
	want := hashutil.Sha3256([]byte(DomainNode), n12[:], n33[:])
	if got := MerkleizeLeaves([][32]byte{l1, l2, l3}); got != want {
		t.Errorf("odd duplication root = %x, want %x", got, want)
	}

	// Single leaf is its own root.
	if got := MerkleizeLeaves([][32]byte{l1}); got != l1 {
		t.Errorf("single leaf root = %x", got)
	}
}

func TestMerkleizeReceiptsOrderSensitive(t *testing.T) {
	r1 := sampleReceipt()
	var nf [32]byte
	nf[0] = 0xCD
	r2 := Build(types.VDF, nf, []byte{0x01}, map[string]float64{"seconds": 3})

	a, err := Merkleize([]*ProofReceipt{r1, r2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Merkleize([]*ProofReceipt{r2, r1})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("root must depend on receipt order")
	}
}

func TestDigestProofBodyDomain(t *testing.T) {
	body := []byte{0x01, 0x02}
	want := hashutil.Sha3256([]byte(DomainProofBody), body)
	if DigestProofBody(body) != want {
		t.Error("body digest domain wrong")
	}
	if DigestProofBody(body) == hashutil.Sha3256(body) {
		t.Error("body digest must be domain separated")
	}
}
