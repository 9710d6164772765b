// Package registry binds each ProofType to its verifier, shape rules, and
// schema-root digest. Registration is eager: New populates all five built-in
// verifiers and computes every schema root at construction, after which the
// registry is read-only and safe to share across verification goroutines.
package registry

import (
	"embed"
	"encoding/hex"
	"strconv"

	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/hashutil"
	"github.com/animicaorg/animica-core/nullifier"
	"github.com/animicaorg/animica-core/policy"
	"github.com/animicaorg/animica-core/receipt"
	"github.com/animicaorg/animica-core/types"
	"github.com/animicaorg/animica-core/verify"

	animicacbor "github.com/animicaorg/animica-core/cbor"
)

//go:embed schemas/*.cddl
var schemaFS embed.FS

const envelopeSchema = "schemas/proof_envelope.cddl"

// schemaFiles lists the type-specific schema files in declared order.
var schemaFiles = map[types.ProofType][]string{
	types.HashShare: {"schemas/hashshare.cddl"},
	types.AI:        {"schemas/ai.cddl"},
	types.Quantum:   {"schemas/quantum.cddl"},
	types.Storage:   {"schemas/storage.cddl"},
	types.VDF:       {"schemas/vdf.cddl"},
}

// Entry is one registry binding.
type Entry struct {
	Type       types.ProofType
	Verifier   verify.Func
	SchemaRoot [32]byte
}

// Registry is the process-global ProofType dispatch table.
type Registry struct {
	entries map[types.ProofType]Entry
}

// New builds the registry, registering every built-in verifier and
// computing the schema roots from the embedded CDDL files.
func New() (*Registry, error) {
	envBytes, err := schemaFS.ReadFile(envelopeSchema)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSchema, "embedded envelope schema missing", err)
	}
	envDigest := hashutil.Sha3256(envBytes)

	r := &Registry{entries: make(map[types.ProofType]Entry, len(schemaFiles))}
	for _, pt := range types.AllProofTypes() {
		fn, err := verify.ForType(pt)
		if err != nil {
			return nil, err
		}
		root, err := schemaRoot(pt, envDigest)
		if err != nil {
			return nil, err
		}
		r.entries[pt] = Entry{Type: pt, Verifier: fn, SchemaRoot: root}
	}
	return r, nil
}

// schemaRoot computes the per-type root:
//
//	root = SHA3_256("env=" || H(envelope.cddl) || "|type_id=" || ascii(id)
//	                || ("|" || H(file_i))...)
func schemaRoot(pt types.ProofType, envDigest [32]byte) ([32]byte, error) {
	files, ok := schemaFiles[pt]
	if !ok {
		return [32]byte{}, errors.Schema("no schema file list for proof type %d", uint8(pt))
	}
	buf := make([]byte, 0, 128)
	buf = append(buf, "env="...)
	buf = append(buf, envDigest[:]...)
	buf = append(buf, "|type_id="...)
	buf = append(buf, strconv.Itoa(int(pt))...)
	for _, name := range files {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return [32]byte{}, errors.Wrap(errors.CodeSchema, "embedded schema missing: "+name, err)
		}
		d := hashutil.Sha3256(data)
		buf = append(buf, '|')
		buf = append(buf, d[:]...)
	}
	return hashutil.Sha3256(buf), nil
}

// Entry returns the binding for a proof type.
func (r *Registry) Entry(pt types.ProofType) (Entry, error) {
	e, ok := r.entries[pt]
	if !ok {
		return Entry{}, errors.Schema("no verifier registered for proof type %d", uint8(pt))
	}
	return e, nil
}

// SchemaRoot returns the 32-byte schema-root digest for a proof type.
func (r *Registry) SchemaRoot(pt types.ProofType) ([32]byte, error) {
	e, err := r.Entry(pt)
	if err != nil {
		return [32]byte{}, err
	}
	return e.SchemaRoot, nil
}

// SchemaHexMap returns {type_id -> root hex} for header binding.
func (r *Registry) SchemaHexMap() map[uint8]string {
	out := make(map[uint8]string, len(r.entries))
	for pt, e := range r.entries {
		out[uint8(pt)] = hex.EncodeToString(e.SchemaRoot[:])
	}
	return out
}

// Verify dispatches an envelope to its registered verifier and returns
// bounded metrics.
func (r *Registry) Verify(env *types.ProofEnvelope, ctx *verify.Context) (types.ProofMetrics, types.Details, error) {
	if env == nil {
		return types.ProofMetrics{}, nil, errors.Schema("nil envelope")
	}
	e, err := r.Entry(env.TypeID)
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}
	metrics, details, err := e.Verifier(env, ctx)
	if err != nil {
		return types.ProofMetrics{}, nil, err
	}
	return metrics.EnsureBounds(), details, nil
}

// Outcome bundles everything the consensus layer needs from one verified
// envelope: bounded metrics, ψ-signals, the recomputed nullifier, and the
// aggregation receipt.
type Outcome struct {
	Metrics   types.ProofMetrics
	Details   types.Details
	Psi       types.PsiInput
	Nullifier [32]byte
	Receipt   *receipt.ProofReceipt
}

// Process runs the full pipeline for one envelope: verify, recompute and
// check the nullifier, adapt metrics to ψ-signals, and build the receipt
// over the canonical body bytes.
func (r *Registry) Process(env *types.ProofEnvelope, ctx *verify.Context, salt nullifier.Salt) (*Outcome, error) {
	metrics, details, err := r.Verify(env, ctx)
	if err != nil {
		return nil, err
	}
	if err := nullifier.Check(env, salt); err != nil {
		return nil, err
	}
	bodyCBOR, err := animicacbor.Marshal(env.Body)
	if err != nil {
		return nil, err
	}
	psi := policy.ToPsiInput(env.TypeID, metrics)
	rec := receipt.Build(env.TypeID, env.Nullifier, bodyCBOR, psi.Signals)
	return &Outcome{
		Metrics:   metrics,
		Details:   details,
		Psi:       psi,
		Nullifier: env.Nullifier,
		Receipt:   rec,
	}, nil
}
