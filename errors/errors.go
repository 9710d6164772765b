// Package errors defines the structured error values surfaced by the proof
// verification core. Every failure carries a stable machine code, a human
// message, and a small context map of hex-encoded identifiers so callers can
// classify failures without string matching.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a stable machine-readable error classification.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Schema / decoding / shape issues.
	CodeSchema    Code = "SCHEMA"
	CodeDecode    Code = "DECODE"
	CodeSizeLimit Code = "SIZE_LIMIT"

	// Policy / linkage issues.
	CodePolicyMismatch Code = "POLICY_MISMATCH"
	CodeRootMismatch   Code = "ROOT_MISMATCH"

	// Nullifiers. Reported by the consensus layer, never by this core;
	// defined here so the taxonomy is complete at the boundary.
	CodeNullifierReuse Code = "NULLIFIER_REUSE"

	// Per-proof families.
	CodeProof       Code = "PROOF"
	CodeAttestation Code = "ATTESTATION"
	CodeHashShare   Code = "HASH_SHARE_INVALID"
	CodeAIProof     Code = "AI_PROOF_INVALID"
	CodeQuantum     Code = "QUANTUM_PROOF_INVALID"
	CodeStorage     Code = "STORAGE_PROOF_INVALID"
	CodeVDF         Code = "VDF_PROOF_INVALID"
)

// ProofError is the structured error type for the proofs core.
type ProofError struct {
	Code  Code
	Msg   string
	Ctx   map[string]string
	cause error
}

// Error implements the error interface.
func (e *ProofError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Msg)
	if len(e.Ctx) > 0 {
		keys := make([]string, 0, len(e.Ctx))
		for k := range e.Ctx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" ctx={")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Ctx[k])
		}
		b.WriteString("}")
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *ProofError) Unwrap() error { return e.cause }

// Is reports code equality so callers can match with errors.Is against a
// bare code sentinel constructed via New(code, "").
func (e *ProofError) Is(target error) bool {
	var pe *ProofError
	if errors.As(target, &pe) {
		return e.Code == pe.Code
	}
	return false
}

// WithCtx returns a copy of the error with the extra key/value merged into
// its context map. The receiver is not modified.
func (e *ProofError) WithCtx(key, value string) *ProofError {
	ctx := make(map[string]string, len(e.Ctx)+1)
	for k, v := range e.Ctx {
		ctx[k] = v
	}
	ctx[key] = value
	return &ProofError{Code: e.Code, Msg: e.Msg, Ctx: ctx, cause: e.cause}
}

// New builds a ProofError with the given code and message.
func New(code Code, msg string) *ProofError {
	return &ProofError{Code: code, Msg: msg}
}

// Newf builds a ProofError with a formatted message.
func Newf(code Code, format string, args ...any) *ProofError {
	return &ProofError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new ProofError.
func Wrap(code Code, msg string, cause error) *ProofError {
	return &ProofError{Code: code, Msg: msg, cause: cause}
}

// Schema reports a shape/type/size violation.
func Schema(format string, args ...any) *ProofError {
	return Newf(CodeSchema, format, args...)
}

// Decode reports malformed wire bytes.
func Decode(msg string, cause error) *ProofError {
	return Wrap(CodeDecode, msg, cause)
}

// Proof reports a failed cryptographic relation (Merkle mismatch, Wesolowski
// equation, u-draw binding, out-of-window heartbeat, ...).
func Proof(format string, args ...any) *ProofError {
	return Newf(CodeProof, format, args...)
}

// Attestation reports a TEE/QPU evidence parse or policy failure.
func Attestation(format string, args ...any) *ProofError {
	return Newf(CodeAttestation, format, args...)
}

// CodeOf extracts the machine code from any error, or CodeUnknown when the
// error is not a ProofError.
func CodeOf(err error) Code {
	var pe *ProofError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool { return CodeOf(err) == code }
