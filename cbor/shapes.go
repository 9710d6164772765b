package cbor

import (
	"github.com/animicaorg/animica-core/errors"
	"github.com/animicaorg/animica-core/types"
)

// fieldKind is the structural type a shape rule requires.
type fieldKind uint8

const (
	kindUint fieldKind = iota
	kindBstr
	kindText
	kindBool
	kindArray
	kindMap
)

// fieldRule describes one field of a body (or nested) map. Size applies to
// bstr fields only (0 means any length). Fields holds nested rules for map
// fields; Elem holds the rule applied to every element of an array field.
type fieldRule struct {
	Kind     fieldKind
	Size     int
	Required bool
	Fields   map[string]fieldRule
	Elem     *fieldRule
}

func uintReq() fieldRule           { return fieldRule{Kind: kindUint, Required: true} }
func uintOpt() fieldRule           { return fieldRule{Kind: kindUint} }
func bstrReq(size int) fieldRule   { return fieldRule{Kind: kindBstr, Size: size, Required: true} }
func bstrOpt(size int) fieldRule   { return fieldRule{Kind: kindBstr, Size: size} }
func textOpt() fieldRule           { return fieldRule{Kind: kindText} }
func textReq() fieldRule           { return fieldRule{Kind: kindText, Required: true} }
func boolReq() fieldRule           { return fieldRule{Kind: kindBool, Required: true} }
func mapOpt(f map[string]fieldRule) fieldRule {
	return fieldRule{Kind: kindMap, Fields: f}
}
func mapReq(f map[string]fieldRule) fieldRule {
	return fieldRule{Kind: kindMap, Required: true, Fields: f}
}
func arrayReq(elem fieldRule) fieldRule {
	return fieldRule{Kind: kindArray, Required: true, Elem: &elem}
}
func arrayOpt(elem fieldRule) fieldRule {
	return fieldRule{Kind: kindArray, Elem: &elem}
}

// qosRules is shared by the AI and quantum bodies.
func qosRules() map[string]fieldRule {
	return map[string]fieldRule{
		"latencyMsP95":  uintReq(),
		"successPermil": uintReq(),
		"uptimePermil":  uintReq(),
	}
}

// bodyRules maps each proof type to its shape rule table. Unknown keys are
// tolerated for forward compatibility but must be text (the decoder already
// guarantees that).
var bodyRules = map[types.ProofType]map[string]fieldRule{
	types.HashShare: {
		"headerHash": bstrReq(32),
		"nonce":      uintReq(),
		"u":          bstrReq(32),
		"mixSeed":    bstrOpt(32),
		"targetMu":   uintOpt(),
		"algo":       textOpt(),
	},
	types.AI: {
		"tee": mapReq(map[string]fieldRule{
			"kind":     textReq(),
			"evidence": bstrReq(0),
			"policy":   mapOpt(nil),
		}),
		"job": mapReq(map[string]fieldRule{
			"taskId":       bstrReq(32),
			"inputDigest":  bstrReq(32),
			"outputDigest": bstrReq(32),
			"runtimeSec":   uintReq(),
			"aiUnits":      uintOpt(),
		}),
		"traps": mapReq(map[string]fieldRule{
			"seedCommit": bstrReq(32),
			"seedReveal": bstrReq(32),
			"receipts": arrayReq(mapReq(map[string]fieldRule{
				"promptDigest": bstrReq(32),
				"answerDigest": bstrReq(32),
				"ok":           boolReq(),
			})),
			"root": bstrReq(32),
		}),
		"redundancy": mapReq(map[string]fieldRule{
			"replicas": uintReq(),
			"agree":    uintReq(),
			"total":    uintReq(),
		}),
		"qos": mapReq(qosRules()),
	},
	types.Quantum: {
		"provider": mapReq(map[string]fieldRule{
			"certChain":   bstrReq(0),
			"endorsedAlgs": arrayOpt(textReq()),
			"policy":      mapOpt(nil),
		}),
		"job": mapReq(map[string]fieldRule{
			"taskId":        bstrReq(32),
			"circuitDigest": bstrReq(32),
			"resultDigest":  bstrReq(32),
			"depth":         uintReq(),
			"width":         uintReq(),
			"shots":         uintReq(),
			"quantumUnits":  uintOpt(),
		}),
		"traps": mapReq(map[string]fieldRule{
			"seedCommit": bstrReq(32),
			"seedReveal": bstrReq(32),
			"receipts": arrayReq(mapReq(map[string]fieldRule{
				"trapDigest": bstrReq(32),
				"count":      uintReq(),
				"ok":         boolReq(),
			})),
			"root": bstrReq(32),
		}),
		"qos": mapReq(qosRules()),
	},
	types.Storage: {
		"provider": mapReq(map[string]fieldRule{
			"providerId": bstrReq(32),
		}),
		"commit": mapReq(map[string]fieldRule{
			"sectorRoot": bstrReq(32),
			"sectorSize": uintReq(),
			"replicas":   uintReq(),
			"minSamples": uintReq(),
			"treeHeight": uintOpt(),
		}),
		"challenge": mapReq(map[string]fieldRule{
			"epoch":       uintReq(),
			"seed":        bstrReq(32),
			"windowStart": uintOpt(),
			"windowEnd":   uintOpt(),
		}),
		"proof": mapReq(map[string]fieldRule{
			"samples": arrayReq(mapReq(map[string]fieldRule{
				"leaf":  bstrReq(32),
				"index": uintReq(),
				"path":  arrayReq(bstrReq(32)),
			})),
		}),
		"retrieval": mapOpt(map[string]fieldRule{
			"tickets": arrayReq(mapReq(map[string]fieldRule{
				"blobCommitment": bstrReq(32),
				"latencyMs":      uintReq(),
				"ok":             boolReq(),
			})),
		}),
	},
	types.VDF: {
		"group": mapReq(map[string]fieldRule{
			"kind": textReq(),
			"N":    bstrReq(0),
		}),
		"g": bstrReq(0),
		"y": bstrReq(0),
		"T": uintReq(),
		"proof": mapReq(map[string]fieldRule{
			"pi": bstrReq(0),
		}),
		"calibration": mapOpt(map[string]fieldRule{
			"itersPerSec": uintReq(),
		}),
	},
}

// ValidateBody enforces the per-kind required fields and types on a decoded
// body map. It fails with a SchemaError naming the violating path.
func ValidateBody(pt types.ProofType, body map[string]any) error {
	rules, ok := bodyRules[pt]
	if !ok {
		return errors.Schema("no schema rules registered for proof type %d", uint8(pt))
	}
	return checkMap("body", body, rules)
}

func checkMap(path string, m map[string]any, rules map[string]fieldRule) error {
	for name, rule := range rules {
		v, present := m[name]
		if !present {
			if rule.Required {
				return errors.Schema("missing required field %s.%s", path, name)
			}
			continue
		}
		if err := checkField(path+"."+name, v, rule); err != nil {
			return err
		}
	}
	// Unknown keys are tolerated (forward-compatible); the decoder already
	// rejected non-text keys.
	return nil
}

func checkField(path string, v any, rule fieldRule) error {
	switch rule.Kind {
	case kindUint:
		if _, ok := uintValue(v); !ok {
			return errors.Schema("field %s must be unsigned int", path)
		}
	case kindBstr:
		b, ok := v.([]byte)
		if !ok {
			return errors.Schema("field %s must be bytes", path)
		}
		if rule.Size > 0 && len(b) != rule.Size {
			return errors.Schema("field %s must be %d bytes, got %d", path, rule.Size, len(b))
		}
	case kindText:
		if _, ok := v.(string); !ok {
			return errors.Schema("field %s must be text", path)
		}
	case kindBool:
		if _, ok := v.(bool); !ok {
			return errors.Schema("field %s must be bool", path)
		}
	case kindArray:
		arr, ok := v.([]any)
		if !ok {
			return errors.Schema("field %s must be array", path)
		}
		if rule.Elem != nil {
			for i, el := range arr {
				if err := checkField(indexPath(path, i), el, *rule.Elem); err != nil {
					return err
				}
			}
		}
	case kindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return errors.Schema("field %s must be map", path)
		}
		if rule.Fields != nil {
			return checkMap(path, m, rule.Fields)
		}
	}
	return nil
}

func indexPath(path string, i int) string {
	// Small helper kept out of fmt to avoid allocations on the hot path.
	return path + "[" + itoa(i) + "]"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
