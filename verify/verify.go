// Package verify implements the per-kind proof verifiers. Each verifier is a
// pure function over (envelope, context): it validates structure, runs the
// cryptographic checks for its family, and produces ProofMetrics plus a
// details record for observability. Any failed cryptographic relation is a
// ProofError; malformed fields are SchemaErrors; evidence failures are
// AttestationErrors.
package verify

import (
	"time"

	"github.com/animicaorg/animica-core/attest"
	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/qpu"
	"github.com/animicaorg/animica-core/types"
)

// Context carries the read-only environment a verification runs against.
// The zero value is usable for kinds that need no environment (hash share,
// VDF); AI and quantum verification need Attest and QPU respectively.
type Context struct {
	// Now is the wall clock used for attestation validity windows. Zero
	// means time.Now().
	Now time.Time

	// Epoch is the current chain epoch, used for storage heartbeat windows.
	Epoch uint64

	// Attest verifies TEE evidence bundles for AI proofs.
	Attest *attest.Verifier

	// QPU is the provider trust environment for quantum proofs.
	QPU qpu.Trust

	// TrapAlpha is the significance level for trap confidence bounds.
	// Zero means 0.05.
	TrapAlpha float64
}

func (c *Context) now() time.Time {
	if c == nil || c.Now.IsZero() {
		return time.Now().UTC()
	}
	return c.Now
}

func (c *Context) alpha() float64 {
	if c == nil || c.TrapAlpha <= 0 || c.TrapAlpha >= 1 {
		return 0.05
	}
	return c.TrapAlpha
}

// Func is the verifier signature the registry dispatches to.
type Func func(env *types.ProofEnvelope, ctx *Context) (types.ProofMetrics, types.Details, error)

// ForType returns the built-in verifier for a proof type.
func ForType(pt types.ProofType) (Func, error) {
	switch pt {
	case types.HashShare:
		return HashShare, nil
	case types.AI:
		return AIProof, nil
	case types.Quantum:
		return QuantumProof, nil
	case types.Storage:
		return StorageProof, nil
	case types.VDF:
		return VDFProof, nil
	default:
		return nil, errors.Schema("no verifier for proof type %d", uint8(pt))
	}
}

func requireType(env *types.ProofEnvelope, want types.ProofType, name string) error {
	if env == nil {
		return errors.Schema("nil envelope")
	}
	if env.TypeID != want {
		return errors.Schema("wrong proof type for %s verifier: %d", name, uint8(env.TypeID))
	}
	return nil
}

// body field accessors. The shape rules ran before any verifier, so these
// only normalize types; missing optional values return the ok=false form.

func bodyMap(m types.Body, key string) types.Body {
	v, _ := m[key].(map[string]any)
	return v
}

func bodyBytes(m types.Body, key string) []byte {
	v, _ := m[key].([]byte)
	return v
}

func bodyUint(m types.Body, key string) (uint64, bool) {
	switch v := m[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

func bodyArray(m types.Body, key string) []any {
	v, _ := m[key].([]any)
	return v
}

func bodyText(m types.Body, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}
