package config

import "sort"

// StrictnessGate is the filtering rule applied to checker results before
// notification synthesis. Higher strictness values surface lower-confidence
// claims and tolerate weaker sourcing.
type StrictnessGate struct {
	MinConfidence float64
	MinSources    int
	AllowTierC    bool
}

var strictnessTable = map[float64]StrictnessGate{
	0.0: {MinConfidence: 0.90, MinSources: 1, AllowTierC: false},
	0.2: {MinConfidence: 0.80, MinSources: 1, AllowTierC: false},
	0.4: {MinConfidence: 0.75, MinSources: 1, AllowTierC: false},
	0.5: {MinConfidence: 0.70, MinSources: 1, AllowTierC: true},
	0.6: {MinConfidence: 0.65, MinSources: 1, AllowTierC: true},
	0.8: {MinConfidence: 0.60, MinSources: 1, AllowTierC: true},
	1.0: {MinConfidence: 0.50, MinSources: 0, AllowTierC: true},
}

var strictnessKeys = func() []float64 {
	keys := make([]float64, 0, len(strictnessTable))
	for k := range strictnessTable {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}()

// GateFor returns the gate for the highest table key not exceeding s.
// Values below the lowest key clamp to the strictest gate.
func GateFor(s float64) StrictnessGate {
	chosen := strictnessKeys[0]
	for _, k := range strictnessKeys {
		if k <= s {
			chosen = k
		}
	}
	return strictnessTable[chosen]
}
