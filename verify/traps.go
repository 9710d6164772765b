package verify

import (
	"bytes"

	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/trapmath"
	"github.com/animicaorg/animica-core/types"
)

// wilsonLowerDetail reports the Wilson lower confidence bound for the trap
// pass counts, for observability only (the pass rule is the raw ratio).
func wilsonLowerDetail(ok, total uint64, alpha float64) float64 {
	return trapmath.WilsonLower(ok, total, alpha)
}

// Trap receipt trees are flat SHA3-256 Merkle trees with per-family domains:
// leaf = H(itemDomain || item_bytes), node = H(rootDomain || left || right),
// odd nodes duplicated Bitcoin-style, empty set = H(rootDomain).

func trapMerkleRoot(itemDomain, rootDomain string, leaves [][]byte) [32]byte {
	if len(leaves) == 0 {
		return hashutil.Sha3256([]byte(rootDomain))
	}
	level := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		level[i] = hashutil.Sha3256([]byte(itemDomain), leaf)
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashutil.Sha3256([]byte(rootDomain), left[:], right[:]))
		}
		level = next
	}
	return level[0]
}

// checkSeedCommit verifies seedCommit == SHA3_256(seedReveal).
func checkSeedCommit(traps types.Body) error {
	commit := bodyBytes(traps, "seedCommit")
	reveal := bodyBytes(traps, "seedReveal")
	d := hashutil.Sha3256(reveal)
	if !bytes.Equal(d[:], commit) {
		return errors.Proof("trap seed commit mismatch")
	}
	return nil
}

// aiTrapLeaf is promptDigest || answerDigest || okByte.
func aiTrapLeaf(prompt, answer []byte, ok bool) []byte {
	leaf := make([]byte, 0, 65)
	leaf = append(leaf, prompt...)
	leaf = append(leaf, answer...)
	if ok {
		leaf = append(leaf, 0x01)
	} else {
		leaf = append(leaf, 0x00)
	}
	return leaf
}

// quantumTrapLeaf is trapDigest || u64be(count) || okByte.
func quantumTrapLeaf(trapDigest []byte, count uint64, ok bool) []byte {
	leaf := make([]byte, 0, 41)
	leaf = append(leaf, trapDigest...)
	leaf = append(leaf, hashutil.U64BE(count)...)
	if ok {
		leaf = append(leaf, 0x01)
	} else {
		leaf = append(leaf, 0x00)
	}
	return leaf
}

// checkDeclaredRoot recomputes the receipts tree and compares it with the
// declared root.
func checkDeclaredRoot(traps types.Body, itemDomain, rootDomain string, leaves [][]byte) ([32]byte, error) {
	root := trapMerkleRoot(itemDomain, rootDomain, leaves)
	declared := bodyBytes(traps, "root")
	if !bytes.Equal(root[:], declared) {
		return root, errors.Proof("trap receipts Merkle root mismatch")
	}
	return root, nil
}
