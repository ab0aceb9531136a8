// Package core provides the quantification data model shared by the key builder,
// clustering engine, level model and integration pipeline.
package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// QuantType identifies how the ratios of a PSM were measured.
type QuantType int

const (
	// QuantUnknown is set when the quantification source did not declare a type.
	QuantUnknown QuantType = iota
	// QuantIsobaric covers reporter-ion labels (TMT, iTRAQ).
	QuantIsobaric
	// QuantIsotopologue covers paired light/heavy precursor labels (SILAC, 18O).
	QuantIsotopologue
)

// ErrUnsupportedQuantType is returned for quantification types the pipeline cannot weight.
var ErrUnsupportedQuantType = errors.New("unsupported quantification type")

func (q QuantType) String() string {
	switch q {
	case QuantIsobaric:
		return "isobaric"
	case QuantIsotopologue:
		return "isotopologue"
	default:
		return "unknown"
	}
}

// ParseQuantType parses the configuration spelling of a quantification type.
func ParseQuantType(s string) (QuantType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "isobaric", "tmt", "itraq":
		return QuantIsobaric, nil
	case "isotopologue", "silac", "18o":
		return QuantIsotopologue, nil
	case "", "unknown":
		return QuantUnknown, nil
	}
	return QuantUnknown, fmt.Errorf("invalid quantification type '%s'", s)
}

// Outcome is the entity level an analysis integrates peptides into.
type Outcome int

const (
	OutcomePeptide Outcome = iota
	OutcomeProtein
	OutcomeProteinGroup
	OutcomeProteinCluster
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProtein:
		return "protein"
	case OutcomeProteinGroup:
		return "protein-group"
	case OutcomeProteinCluster:
		return "protein-cluster"
	default:
		return "peptide"
	}
}

// ParseOutcome parses the configuration spelling of an analysis outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "peptide":
		return OutcomePeptide, nil
	case "protein":
		return OutcomeProtein, nil
	case "protein-group", "proteingroup", "group":
		return OutcomeProteinGroup, nil
	case "protein-cluster", "proteincluster", "cluster":
		return OutcomeProteinCluster, nil
	}
	return OutcomePeptide, fmt.Errorf("invalid analysis outcome '%s'", s)
}

// Ratio is one quantification ratio attached to a PSM. Isobaric PSMs carry one
// ratio per reporter channel, isotopologue PSMs usually a single one.
type Ratio struct {
	IonSerieType string  // Reporter or label name (e.g., "TMT127", "heavy")
	IonNumber    int     // Index within the ion series
	Value        float64 // Linear ratio
	Intensity    float64 // Reporter intensity or maximum isotopologue peak intensity
	Weight       float64 // Explicit fitting weight; 0 means derive it
}

// PSM is a single identified and quantified spectrum.
type PSM struct {
	RawFile          string
	Scan             string
	Sequence         string // Plain amino acid sequence
	ModifiedSequence string // Sequence with inline modifications (e.g., "PEPM[Oxidation]TIDE")
	Charge           int
	Proteins         []string // Protein accessions the peptide maps to
	Ratios           []Ratio
	Discarded        bool
	HasPTM           bool

	// PrecursorMass is the neutral precursor mass; computed from the sequence when zero.
	PrecursorMass float64
}

// ValidationError represents an error found during PSM validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Validate checks that a PSM carries what the pipeline needs to key and weight it.
func (p *PSM) Validate() error {
	var errs []string

	if p.Sequence == "" && p.ModifiedSequence == "" {
		errs = append(errs, "sequence is required")
	}
	if p.Charge < 0 {
		errs = append(errs, "charge must not be negative")
	}
	if p.RawFile == "" && p.Scan == "" {
		errs = append(errs, "raw file or scan is required")
	}
	if len(p.Ratios) == 0 {
		errs = append(errs, "at least one ratio is required")
	}

	for i, r := range p.Ratios {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			errs = append(errs, fmt.Sprintf("ratio %d is not finite", i))
		} else if r.Value <= 0 {
			errs = append(errs, fmt.Sprintf("ratio %d must be positive", i))
		}
		if r.Intensity < 0 || r.Weight < 0 {
			errs = append(errs, fmt.Sprintf("ratio %d has a negative intensity or weight", i))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{
			Field:   "PSM",
			Message: strings.Join(errs, "; "),
		}
	}

	return nil
}

// FullSequence returns the modified sequence, falling back to the plain one.
func (p *PSM) FullSequence() string {
	if p.ModifiedSequence != "" {
		return p.ModifiedSequence
	}
	return p.Sequence
}

// PlainSequence returns the sequence with inline modifications removed.
func (p *PSM) PlainSequence() string {
	if p.Sequence != "" {
		return p.Sequence
	}
	return StripModifications(p.ModifiedSequence)
}

// NeutralMass returns the precursor neutral mass, computing it from the sequence if unset.
func (p *PSM) NeutralMass() float64 {
	if p.PrecursorMass > 0 {
		return p.PrecursorMass
	}
	mods, _ := DefaultModDatabase().ParseModifiedSequence(p.ModifiedSequence)
	return CalculateNeutralMass(p.PlainSequence(), mods)
}

// Name returns the PSM name in format "Sequence/Charge"
func (p *PSM) Name() string {
	return fmt.Sprintf("%s/%d", p.FullSequence(), p.Charge)
}
