// Package policy maps verifier-produced ProofMetrics into the normalized
// ψ-input signals the PoIES scorer consumes. It only normalizes ranges and
// names: ratios clamp to [0,1], counts floor at 0, redundancy floors at 1,
// booleans map to {0,1}. Weighting and capping belong to the scorer.
package policy

import (
	"github.com/animicaorg/animica-core/mathutil"
	"github.com/animicaorg/animica-core/types"
)

// Signal keys, stable across versions; the scorer policy references them by
// string.
const (
	SignalDRatio         = "d_ratio"
	SignalUnits          = "units"
	SignalTrapsRatio     = "traps_ratio"
	SignalQoS            = "qos"
	SignalRedundancy     = "redundancy"
	SignalHeartbeat      = "heartbeat"
	SignalRetrievalBonus = "retrieval_bonus"
	SignalSeconds        = "seconds"
)

func bool01(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MetricsToSignals maps a single proof's metrics to its ψ-input signal
// dictionary. Unknown proof types yield an empty map.
func MetricsToSignals(pt types.ProofType, m types.ProofMetrics) map[string]float64 {
	switch pt {
	case types.HashShare:
		return map[string]float64{
			SignalDRatio: mathutil.Floor0(m.DRatio),
		}
	case types.AI:
		return map[string]float64{
			SignalUnits:      mathutil.Floor0(float64(m.AIUnits)),
			SignalTrapsRatio: mathutil.Clamp01(m.TrapsRatio),
			SignalQoS:        mathutil.Clamp01(m.QoS),
			SignalRedundancy: mathutil.AtLeastOne(m.Redundancy),
		}
	case types.Quantum:
		return map[string]float64{
			SignalUnits:      mathutil.Floor0(float64(m.QuantumUnits)),
			SignalTrapsRatio: mathutil.Clamp01(m.TrapsRatio),
			SignalQoS:        mathutil.Clamp01(m.QoS),
		}
	case types.Storage:
		return map[string]float64{
			SignalHeartbeat:      bool01(m.HeartbeatOK),
			SignalRetrievalBonus: bool01(m.RetrievalFlag),
			SignalQoS:            mathutil.Clamp01(m.QoS),
		}
	case types.VDF:
		return map[string]float64{
			SignalSeconds: mathutil.Floor0(m.VDFSeconds),
		}
	default:
		return map[string]float64{}
	}
}

// ToPsiInput wraps the signal map with its proof kind.
func ToPsiInput(pt types.ProofType, m types.ProofMetrics) types.PsiInput {
	return types.PsiInput{Kind: pt, Signals: MetricsToSignals(pt, m)}
}
