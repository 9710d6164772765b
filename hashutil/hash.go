// Package hashutil provides the canonical hashing primitives used across the
// proof verification core: SHA3-256/512, Keccak-256, strong domain separation
// with length-prefixed concatenation, and a deterministic counter-mode hash
// stream for challenge derivation.
//
// Design rules:
//   - never concatenate raw variable-length fields without a length prefix
//   - always domain-separate consensus-critical digests with an ASCII tag
//   - prefer SHA3-256 unless a larger digest is required
package hashutil

import (
	"encoding/binary"
	"encoding/hex"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// DomainPrefix is prepended to every named domain tag.
const DomainPrefix = "Animica|"

// Sha3256 returns the SHA3-256 digest of data.
func Sha3256(data ...[]byte) [32]byte {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Sha3512 returns the SHA3-512 digest of data.
func Sha3512(data ...[]byte) [64]byte {
	h := sha3.New512()
	for _, d := range data {
		h.Write(d)
	}
	var out [64]byte
	h.Sum(out[:0])
	return out
}

// Keccak256 returns the legacy Keccak-256 digest of data. Exposed for callers
// that bind to Ethereum-style header hashes.
func Keccak256(data ...[]byte) [32]byte {
	var out [32]byte
	copy(out[:], gethcrypto.Keccak256(data...))
	return out
}

// DomainTag returns the canonical tag bytes for a named domain, e.g.
// DomainTag("proof:ai") -> "Animica|proof:ai".
func DomainTag(name string) []byte {
	return append([]byte(DomainPrefix), name...)
}

// U64BE encodes v as 8 big-endian bytes.
func U64BE(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// U32BE encodes v as 4 big-endian bytes.
func U32BE(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// LengthPrefix returns u64be(len(part)) || part.
func LengthPrefix(part []byte) []byte {
	out := make([]byte, 8+len(part))
	binary.BigEndian.PutUint64(out[:8], uint64(len(part)))
	copy(out[8:], part)
	return out
}

// ConcatLP concatenates parts, each length-prefixed with a u64be.
func ConcatLP(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += 8 + len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, LengthPrefix(p)...)
	}
	return out
}

// TagBytes builds a domain-separated, length-prefixed byte string:
//
//	domainTag(name) || 0x00 || LP(part1) || LP(part2) || ...
func TagBytes(name string, parts ...[]byte) []byte {
	tag := DomainTag(name)
	out := make([]byte, 0, len(tag)+1+8*len(parts))
	out = append(out, tag...)
	out = append(out, 0x00)
	out = append(out, ConcatLP(parts...)...)
	return out
}

// Sha3256Tag returns SHA3-256 over a domain-tagged, length-prefixed transcript.
func Sha3256Tag(name string, parts ...[]byte) [32]byte {
	return Sha3256(TagBytes(name, parts...))
}

// Sha3512Tag returns SHA3-512 over a domain-tagged, length-prefixed transcript.
func Sha3512Tag(name string, parts ...[]byte) [64]byte {
	return Sha3512(TagBytes(name, parts...))
}

// Checksum32 returns the first 4 bytes of SHA3-256(data), for short ids.
func Checksum32(data []byte) [4]byte {
	d := Sha3256(data)
	var out [4]byte
	copy(out[:], d[:4])
	return out
}

// Hex returns the 0x-prefixed hex encoding of b.
func Hex(b []byte) string { return "0x" + hex.EncodeToString(b) }
