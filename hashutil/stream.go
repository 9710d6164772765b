package hashutil

// CounterStream yields an unbounded deterministic stream of SHA3-256 digests
// derived from a fixed seed transcript:
//
//	block_i = SHA3_256(prefix || u64be(i))
//
// It backs challenge-index sampling and challenge-prime derivation where a
// single digest is not enough entropy.
type CounterStream struct {
	prefix []byte
	ctr    uint64
}

// NewCounterStream starts a stream over the given prefix bytes. The prefix is
// copied; callers may reuse their buffer.
func NewCounterStream(prefix []byte) *CounterStream {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &CounterStream{prefix: p}
}

// Next returns the next 32-byte block and advances the counter.
func (s *CounterStream) Next() [32]byte {
	d := Sha3256(s.prefix, U64BE(s.ctr))
	s.ctr++
	return d
}

// Counter reports how many blocks have been produced so far.
func (s *CounterStream) Counter() uint64 { return s.ctr }

// Uint64s draws n uint64 values from the stream, four per digest block.
func (s *CounterStream) Uint64s(n int) []uint64 {
	out := make([]uint64, 0, n)
	for len(out) < n {
		d := s.Next()
		for i := 0; i < 32 && len(out) < n; i += 8 {
			v := uint64(d[i])<<56 | uint64(d[i+1])<<48 | uint64(d[i+2])<<40 | uint64(d[i+3])<<32 |
				uint64(d[i+4])<<24 | uint64(d[i+5])<<16 | uint64(d[i+6])<<8 | uint64(d[i+7])
			out = append(out, v)
		}
	}
	return out
}
