package receipt

import (
	"github.com/animicaorg/animica-core/hashutil"
)

// MerkleizeLeaves folds already-hashed receipt leaves into the proofsRoot:
// pair leaves left to right, hash with the node domain, duplicate the last
// odd node, repeat to a single root. An empty set yields the sentinel
// SHA3_256(leaf_domain).
func MerkleizeLeaves(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return hashutil.Sha3256([]byte(DomainLeaf))
	}
	level := append([][32]byte{}, leaves...)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashutil.Sha3256([]byte(DomainNode), left[:], right[:]))
		}
		level = next
	}
	return level[0]
}

// Merkleize hashes the receipts in order and folds them to the root.
func Merkleize(receipts []*ProofReceipt) ([32]byte, error) {
	leaves := make([][32]byte, len(receipts))
	for i, r := range receipts {
		leaf, err := r.LeafHash()
		if err != nil {
			return [32]byte{}, err
		}
		leaves[i] = leaf
	}
	return MerkleizeLeaves(leaves), nil
}
