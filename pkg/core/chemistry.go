// Package core provides chemistry calculations used to derive fitting weights
package core

import "math"

// Atomic masses (monoisotopic)
const (
	MassH = 1.0078250321
	MassC = 12.0000000000
	MassN = 14.0030740052
	MassO = 15.9949146221
	MassS = 31.9720706900
)

// AminoAcidComposition stores elemental composition
type AminoAcidComposition struct {
	C, H, N, O, S int
}

// AminoAcidMasses maps amino acid one-letter codes to elemental composition
var AminoAcidMasses = map[rune]AminoAcidComposition{
	'A': {C: 3, H: 5, N: 1, O: 1, S: 0},
	'R': {C: 6, H: 12, N: 4, O: 1, S: 0},
	'N': {C: 4, H: 6, N: 2, O: 2, S: 0},
	'D': {C: 4, H: 5, N: 1, O: 3, S: 0},
	'C': {C: 3, H: 5, N: 1, O: 1, S: 1},
	'E': {C: 5, H: 7, N: 1, O: 3, S: 0},
	'Q': {C: 5, H: 8, N: 2, O: 2, S: 0},
	'G': {C: 2, H: 3, N: 1, O: 1, S: 0},
	'H': {C: 6, H: 7, N: 3, O: 1, S: 0},
	'I': {C: 6, H: 11, N: 1, O: 1, S: 0},
	'L': {C: 6, H: 11, N: 1, O: 1, S: 0},
	'K': {C: 6, H: 12, N: 2, O: 1, S: 0},
	'M': {C: 5, H: 9, N: 1, O: 1, S: 1},
	'F': {C: 9, H: 9, N: 1, O: 1, S: 0},
	'P': {C: 5, H: 7, N: 1, O: 1, S: 0},
	'S': {C: 3, H: 5, N: 1, O: 2, S: 0},
	'T': {C: 4, H: 7, N: 1, O: 2, S: 0},
	'W': {C: 11, H: 10, N: 2, O: 1, S: 0},
	'Y': {C: 9, H: 9, N: 1, O: 2, S: 0},
	'V': {C: 5, H: 9, N: 1, O: 1, S: 0},
}

// CalculateNeutralMass computes the neutral monoisotopic mass of a peptide
func CalculateNeutralMass(sequence string, modifications []Modification) float64 {
	comp := AminoAcidComposition{C: 0, H: 2, N: 0, O: 1, S: 0} // Add water

	for _, aa := range sequence {
		if aaComp, ok := AminoAcidMasses[aa]; ok {
			comp.C += aaComp.C
			comp.H += aaComp.H
			comp.N += aaComp.N
			comp.O += aaComp.O
			comp.S += aaComp.S
		}
	}

	mass := float64(comp.C)*MassC +
		float64(comp.H)*MassH +
		float64(comp.N)*MassN +
		float64(comp.O)*MassO +
		float64(comp.S)*MassS

	// Add modification masses
	for _, mod := range modifications {
		mass += mod.Mass
	}

	return mass
}

// Log2Ratio converts a linear ratio to the log2 scale written to data files.
func Log2Ratio(r Ratio) float64 {
	return math.Log2(r.Value)
}

// FittingWeight returns the weight written next to a ratio in the base data file.
//
// Isobaric ratios use the explicit weight when present, else the reporter intensity.
// Isotopologue ratios use maxIntensity/sqrt(neutralMass). That formula is kept for
// reproducibility of earlier results; its dimensional meaning is doubtful.
// QuantUnknown computes the isotopologue value and then fails: the value is never used.
func FittingWeight(p *PSM, r Ratio, qt QuantType) (float64, error) {
	switch qt {
	case QuantIsobaric:
		if r.Weight > 0 {
			return r.Weight, nil
		}
		if r.Intensity > 0 {
			return r.Intensity, nil
		}
		return 1, nil
	case QuantIsotopologue:
		if r.Weight > 0 {
			return r.Weight, nil
		}
		return isotopologueWeight(p, r), nil
	default:
		_ = isotopologueWeight(p, r)
		return 0, ErrUnsupportedQuantType
	}
}

func isotopologueWeight(p *PSM, r Ratio) float64 {
	mass := p.NeutralMass()
	if mass <= 0 {
		return 0
	}
	return r.Intensity / math.Sqrt(mass)
}
