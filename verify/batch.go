package verify

import (
	"sync"

	"github.com/animicaorg/animica-core/log"
	"github.com/animicaorg/animica-core/types"
)

var batchLog = log.Default().Module("verify")

// Batch verification runs each envelope through its verifier concurrently
// while preserving input order in the results. The core is stateless, so
// parallelism is free; ordering only matters for receipt emission and
// failure attribution.

// Result records the outcome of verifying a single envelope.
type Result struct {
	Index   int
	Metrics types.ProofMetrics
	Details types.Details
	Err     error
}

// BatchResult aggregates a batch run. Results holds one entry per envelope
// in input order. FirstErrIndex is -1 when every envelope verified.
type BatchResult struct {
	Results      []Result
	TotalValid   int
	TotalInvalid int
	FirstErrIndex int
	FirstErr     error
}

// AllValid reports whether every envelope in the batch verified.
func (br *BatchResult) AllValid() bool { return br.TotalInvalid == 0 }

// BatchConfig bounds the verification worker pool.
type BatchConfig struct {
	Workers int
}

// DefaultBatchConfig uses eight workers, enough to saturate typical
// validator hardware on the VDF-heavy worst case.
func DefaultBatchConfig() BatchConfig { return BatchConfig{Workers: 8} }

// Batch verifies the envelopes with the given context and worker count.
// Envelope-level failures do not abort the batch: every envelope is
// attempted, failures are recorded in place, and the lowest failing index is
// surfaced so the caller can decide whether to abort block assembly.
func Batch(envs []*types.ProofEnvelope, ctx *Context, cfg BatchConfig) *BatchResult {
	out := &BatchResult{
		Results:       make([]Result, len(envs)),
		FirstErrIndex: -1,
	}
	if len(envs) == 0 {
		return out
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(envs) {
		workers = len(envs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				env := envs[i]
				res := Result{Index: i}
				fn, err := ForType(env.TypeID)
				if err != nil {
					res.Err = err
				} else {
					res.Metrics, res.Details, res.Err = fn(env, ctx)
				}
				out.Results[i] = res
			}
		}()
	}
	for i := range envs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i := range out.Results {
		if err := out.Results[i].Err; err != nil {
			out.TotalInvalid++
			batchLog.Warn("envelope failed verification",
				"index", i, "type", envs[i].TypeID.String(), "err", err)
			if out.FirstErrIndex == -1 {
				out.FirstErrIndex = i
				out.FirstErr = err
			}
		} else {
			out.TotalValid++
		}
	}
	return out
}
