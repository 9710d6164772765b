package hashutil

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestSha3256KnownVector(t *testing.T) {
	// SHA3-256("") from FIPS 202.
	want := "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a"
	got := Sha3256(nil)
	if hex.EncodeToString(got[:]) != want {
		t.Errorf("SHA3-256(\"\") = %x, want %s", got, want)
	}
}

func TestDomainTag(t *testing.T) {
	if got := DomainTag("proof:ai"); string(got) != "Animica|proof:ai" {
		t.Errorf("DomainTag = %q", got)
	}
}

func TestLengthPrefixDisambiguates(t *testing.T) {
	// ("ab", "c") and ("a", "bc") must hash differently under LP concat.
	a := Sha3256Tag("test", []byte("ab"), []byte("c"))
	b := Sha3256Tag("test", []byte("a"), []byte("bc"))
	if a == b {
		t.Error("length-prefixed transcripts collided")
	}
}

func TestTagBytesEmptyPartMatters(t *testing.T) {
	a := Sha3256Tag("test:domain", []byte("hello"))
	b := Sha3256Tag("test:domain", []byte("hello"), []byte{})
	if a == b {
		t.Error("appending an empty part must change the transcript")
	}
	c := Sha3256Tag("test:domain", []byte("hello"))
	if a != c {
		t.Error("identical transcripts must hash identically")
	}
}

func TestU64BE(t *testing.T) {
	got := U64BE(0xdeadbeefcafebabe)
	want := []byte{0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe, 0xba, 0xbe}
	if !bytes.Equal(got, want) {
		t.Errorf("U64BE = %x, want %x", got, want)
	}
}

func TestKeccakDiffersFromSha3(t *testing.T) {
	data := []byte("animica")
	k := Keccak256(data)
	s := Sha3256(data)
	if k == s {
		t.Error("Keccak-256 and SHA3-256 must differ on the same input")
	}
}

func TestChecksum32(t *testing.T) {
	full := Sha3256([]byte("x"))
	short := Checksum32([]byte("x"))
	if !bytes.Equal(short[:], full[:4]) {
		t.Error("Checksum32 is not the SHA3-256 prefix")
	}
}

func TestCounterStreamDeterministic(t *testing.T) {
	s1 := NewCounterStream([]byte("seed"))
	s2 := NewCounterStream([]byte("seed"))
	for i := 0; i < 4; i++ {
		if s1.Next() != s2.Next() {
			t.Fatalf("stream diverged at block %d", i)
		}
	}
	if s1.Counter() != 4 {
		t.Errorf("counter = %d, want 4", s1.Counter())
	}
}

func TestCounterStreamUint64s(t *testing.T) {
	vals := NewCounterStream([]byte("seed")).Uint64s(10)
	if len(vals) != 10 {
		t.Fatalf("got %d values, want 10", len(vals))
	}
	// Four u64 per digest block: 10 values need 3 blocks.
	s := NewCounterStream([]byte("seed"))
	s.Uint64s(10)
	if s.Counter() != 3 {
		t.Errorf("blocks consumed = %d, want 3", s.Counter())
	}
	// Distinct prefixes must yield distinct streams.
	other := NewCounterStream([]byte("seed2")).Uint64s(10)
	same := true
	for i := range vals {
		if vals[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different prefixes produced identical streams")
	}
}
