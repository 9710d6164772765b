package verify

import (
	"bytes"

	"github.com/animicaorg/animica-core/cbor"
	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/mathutil"
	"github.com/animicaorg/animica-core/types"
)

const (
	storageLeafDomain      = "Animica/StorageLeaf/v1"
	storageNodeDomain      = "Animica/StorageNode/v1"
	storageChallengeDomain = "Animica/StorageChallenge/v1"

	// storageTicketScaleMs puts a 500ms retrieval at roughly half score.
	storageTicketScaleMs = 500.0
)

func storageLeafHash(raw []byte) [32]byte {
	return hashutil.Sha3256([]byte(storageLeafDomain), raw)
}

func storageNodeHash(left, right [32]byte) [32]byte {
	return hashutil.Sha3256([]byte(storageNodeDomain), left[:], right[:])
}

// verifyStoragePath checks a binary Merkle path from a raw leaf to the
// sector root. The index LSB selects the sibling side at each level; no odd
// duplication, so the path height must match the tree exactly.
func verifyStoragePath(leafRaw []byte, index uint64, path [][]byte, root []byte) bool {
	node := storageLeafHash(leafRaw)
	idx := index
	for _, sib := range path {
		if len(sib) != 32 {
			return false
		}
		var sibling [32]byte
		copy(sibling[:], sib)
		if idx&1 == 0 {
			node = storageNodeHash(node, sibling)
		} else {
			node = storageNodeHash(sibling, node)
		}
		idx >>= 1
	}
	return bytes.Equal(node[:], root)
}

// deriveSampleIndices draws count indices from the challenge seed and epoch
// via the counter-mode hash stream.
func deriveSampleIndices(seed []byte, epoch uint64, count int) []uint64 {
	prefix := make([]byte, 0, len(storageChallengeDomain)+len(seed)+8)
	prefix = append(prefix, []byte(storageChallengeDomain)...)
	prefix = append(prefix, seed...)
	prefix = append(prefix, hashutil.U64BE(epoch)...)
	return hashutil.NewCounterStream(prefix).Uint64s(count)
}

// StorageProof verifies a storage heartbeat: inclusion samples against the
// sector commitment, challenge binding through derived indices, the epoch
// window, and the optional retrieval tickets.
func StorageProof(env *types.ProofEnvelope, ctx *Context) (types.ProofMetrics, types.Details, error) {
	if err := requireType(env, types.Storage, "storage"); err != nil {
		return types.ProofMetrics{}, nil, err
	}
	body := env.Body
	if err := cbor.ValidateBody(types.Storage, body); err != nil {
		return types.ProofMetrics{}, nil, err
	}

	provider := bodyMap(body, "provider")
	commit := bodyMap(body, "commit")
	challenge := bodyMap(body, "challenge")
	proof := bodyMap(body, "proof")

	sectorRoot := bodyBytes(commit, "sectorRoot")
	sectorSize, _ := bodyUint(commit, "sectorSize")
	replicas, _ := bodyUint(commit, "replicas")
	minSamples, _ := bodyUint(commit, "minSamples")
	if sectorSize == 0 || replicas == 0 || minSamples == 0 {
		return types.ProofMetrics{}, nil, errors.Schema("sectorSize, replicas, minSamples must be positive")
	}

	epoch, _ := bodyUint(challenge, "epoch")
	seed := bodyBytes(challenge, "seed")

	// Heartbeat window: [windowStart, windowEnd), evaluated against the
	// current chain epoch. Absent bounds mean the heartbeat is always live.
	now := epoch
	if ctx != nil && ctx.Epoch != 0 {
		now = ctx.Epoch
	}
	if start, ok := bodyUint(challenge, "windowStart"); ok && now < start {
		return types.ProofMetrics{}, nil, errors.Proof("heartbeat before window start (now=%d < %d)", now, start)
	}
	if end, ok := bodyUint(challenge, "windowEnd"); ok && now >= end {
		return types.ProofMetrics{}, nil, errors.Proof("heartbeat outside window (now=%d >= %d)", now, end)
	}

	// Inclusion samples.
	samples := bodyArray(proof, "samples")
	if uint64(len(samples)) < minSamples {
		return types.ProofMetrics{}, nil,
			errors.Proof("insufficient samples: got %d, need >= %d", len(samples), minSamples)
	}

	provided := make(map[uint64]bool, len(samples))
	maxIndex := uint64(0)
	validCount := uint64(0)
	for i, s := range samples {
		m := s.(map[string]any)
		leaf := m["leaf"].([]byte)
		index, _ := bodyUint(m, "index")
		rawPath := m["path"].([]any)
		path := make([][]byte, len(rawPath))
		for j, p := range rawPath {
			path[j] = p.([]byte)
		}
		if provided[index] {
			return types.ProofMetrics{}, nil, errors.Proof("duplicate sample index %d", index)
		}
		provided[index] = true
		if index > maxIndex {
			maxIndex = index
		}
		if !verifyStoragePath(leaf, index, path, sectorRoot) {
			return types.ProofMetrics{}, nil, errors.Proof("invalid Merkle path for sample %d (index %d)", i, index)
		}
		validCount++
	}

	// Challenge binding: the derived indices must all appear among the
	// provided ones. The tree size comes from the committed height when
	// present, otherwise the next power of two above the highest index.
	treeSize := mathutil.NextPow2(maxIndex + 1)
	if height, ok := bodyUint(commit, "treeHeight"); ok && height > 0 && height < 64 {
		treeSize = uint64(1) << height
	}
	derived := deriveSampleIndices(seed, epoch, int(minSamples))
	for _, d := range derived {
		if !provided[d%treeSize] {
			return types.ProofMetrics{}, nil,
				errors.Proof("derived challenge indices are not fully covered by provided samples")
		}
	}

	// Proven storage, scaled by sample coverage.
	coverage := float64(validCount) / float64(maxU64(validCount, minSamples))
	quality := mathutil.Clamp01(0.5 + 0.5*coverage)
	storageBytes := uint64(float64(sectorSize) * float64(replicas) * quality)

	// Optional retrieval tickets.
	bonus, bonusDetails := retrievalBonus(bodyMap(body, "retrieval"))
	qos := mathutil.Clamp01(0.5 + 0.5*bonus)

	metrics := types.ProofMetrics{
		Kind:           types.Storage,
		StorageBytes:   storageBytes,
		HeartbeatOK:    true,
		RetrievalBonus: bonus,
		RetrievalFlag:  bonus > 0,
		QoS:            qos,
	}
	details := types.Details{
		"providerId": hashutil.Hex(bodyBytes(provider, "providerId")),
		"sectorRoot": hashutil.Hex(sectorRoot),
		"sectorSize": sectorSize,
		"replicas":   replicas,
		"minSamples": minSamples,
		"challenge":  types.Details{"epoch": epoch, "seed": hashutil.Hex(seed)},
		"samples": types.Details{
			"provided":  len(samples),
			"valid":     validCount,
			"coverage":  coverage,
			"tree_size": treeSize,
		},
		"quality":       quality,
		"storage_bytes": storageBytes,
		"retrieval":     bonusDetails,
	}
	return metrics, details, nil
}

// retrievalBonus scores the optional retrieval tickets:
// 0.7*success_ratio + 0.3*avg latency score over successful tickets.
func retrievalBonus(retrieval types.Body) (float64, types.Details) {
	if retrieval == nil {
		return 0, types.Details{"count": 0, "ok": 0}
	}
	tickets := bodyArray(retrieval, "tickets")
	if len(tickets) == 0 {
		return 0, types.Details{"count": 0, "ok": 0}
	}
	oks := 0
	latSum := 0.0
	for _, t := range tickets {
		m := t.(map[string]any)
		if ok, _ := m["ok"].(bool); !ok {
			continue
		}
		oks++
		latencyMs, _ := bodyUint(m, "latencyMs")
		latSum += mathutil.LatencyScore(latencyMs, storageTicketScaleMs)
	}
	success := float64(oks) / float64(len(tickets))
	latAvg := 0.0
	if oks > 0 {
		latAvg = latSum / float64(oks)
	}
	bonus := mathutil.Clamp01(0.7*success + 0.3*latAvg)
	return bonus, types.Details{
		"count":   len(tickets),
		"ok":      oks,
		"lat_avg": latAvg,
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
