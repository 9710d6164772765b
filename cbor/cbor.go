// Package cbor implements the canonical CBOR codec for proof envelopes and
// bodies, plus light structural validation against the per-kind shape rules.
//
// Canonical ordering follows RFC 7049 §3.9: map keys sort by the length of
// their encoded form first, then bytewise. Because every proof map uses text
// keys only, this matches sorting by (len(utf8(key)), utf8(key)). Integers
// are minimal-form, indefinite lengths are forbidden, and re-encoding a
// decoded value is byte-identical.
package cbor

import (
	"reflect"

	fxcbor "github.com/fxamacker/cbor/v2"

	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/types"
)

var (
	encMode fxcbor.EncMode
	decMode fxcbor.DecMode
)

func init() {
	encOpts := fxcbor.CanonicalEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		panic("cbor: enc mode: " + err.Error())
	}
	encMode = em

	decOpts := fxcbor.DecOptions{
		DupMapKey:      fxcbor.DupMapKeyEnforcedAPF,
		IndefLength:    fxcbor.IndefLengthForbidden,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	dm, err := decOpts.DecMode()
	if err != nil {
		panic("cbor: dec mode: " + err.Error())
	}
	decMode = dm
}

// Marshal encodes v as canonical CBOR.
func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSchema, "cbor encode failed", err)
	}
	return b, nil
}

// Unmarshal decodes canonical CBOR bytes into v. Maps decode as
// map[string]any; non-text map keys are rejected by the decoder.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return errors.Decode("malformed CBOR", err)
	}
	return nil
}

// Decode decodes bytes into the generic value form used by the verifiers.
func Decode(data []byte) (any, error) {
	var v any
	if err := Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeEnvelope validates and canonically encodes a proof envelope as
// {"type_id": uint, "body": map, "nullifier": bstr(32)}.
func EncodeEnvelope(env *types.ProofEnvelope) ([]byte, error) {
	if env == nil {
		return nil, errors.Schema("nil envelope")
	}
	d := map[string]any{
		"type_id":   uint64(env.TypeID),
		"body":      env.Body,
		"nullifier": env.Nullifier[:],
	}
	if err := ValidateEnvelopeMap(d); err != nil {
		return nil, err
	}
	return Marshal(d)
}

// DecodeEnvelope decodes CBOR bytes into a ProofEnvelope and runs the
// envelope and per-kind body shape checks.
func DecodeEnvelope(data []byte) (*types.ProofEnvelope, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Schema("CBOR did not decode to a map for envelope")
	}
	if err := ValidateEnvelopeMap(m); err != nil {
		return nil, err
	}
	tid := asUint(m["type_id"])
	var nf [32]byte
	copy(nf[:], m["nullifier"].([]byte))
	return &types.ProofEnvelope{
		TypeID:    types.ProofType(tid),
		Body:      m["body"].(map[string]any),
		Nullifier: nf,
	}, nil
}

// ValidateEnvelopeMap checks the envelope surface: type_id is a known uint,
// nullifier is 32 bytes, and the body matches the per-kind shape rules.
func ValidateEnvelopeMap(d map[string]any) error {
	for _, k := range []string{"type_id", "nullifier", "body"} {
		if _, ok := d[k]; !ok {
			return errors.Schema("envelope missing required key %q", k)
		}
	}
	tid, ok := uintValue(d["type_id"])
	if !ok {
		return errors.Schema("type_id must be unsigned int")
	}
	pt := types.ProofType(tid)
	if uint64(uint8(tid)) != tid || !pt.Known() {
		return errors.Schema("unknown type_id: %d", tid)
	}
	nf, ok := d["nullifier"].([]byte)
	if !ok || len(nf) != 32 {
		return errors.Schema("nullifier must be 32 bytes")
	}
	body, ok := d["body"].(map[string]any)
	if !ok {
		return errors.Schema("proof body must be a map")
	}
	return ValidateBody(pt, body)
}

// asUint extracts an already-validated unsigned integer value.
func asUint(v any) uint64 {
	u, _ := uintValue(v)
	return u
}

// uintValue normalizes the integer types the decoder can produce to a uint64.
func uintValue(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int64:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	case uint:
		return uint64(x), true
	case int:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	default:
		return 0, false
	}
}
