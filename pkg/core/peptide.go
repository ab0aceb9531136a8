package core

import (
	"sort"
)

// Peptide aggregates the PSMs sharing a peptide key. It is derived on demand
// from a PSM collection and never persisted on its own.
type Peptide struct {
	Key      string
	Sequence string // Plain sequence, used for alignment
	PSMs     []*PSM
	Proteins map[string]struct{}
}

// ProteinList returns the associated protein accessions in sorted order.
func (p *Peptide) ProteinList() []string {
	out := make([]string, 0, len(p.Proteins))
	for acc := range p.Proteins {
		out = append(out, acc)
	}
	sort.Strings(out)
	return out
}

// BuildPeptides groups PSMs by the key returned from keyFn. Discarded PSMs are skipped.
func BuildPeptides(psms []*PSM, keyFn func(*PSM) string) map[string]*Peptide {
	peptides := make(map[string]*Peptide)
	for _, psm := range psms {
		if psm == nil || psm.Discarded {
			continue
		}
		key := keyFn(psm)
		pep, ok := peptides[key]
		if !ok {
			pep = &Peptide{
				Key:      key,
				Sequence: psm.PlainSequence(),
				Proteins: make(map[string]struct{}),
			}
			peptides[key] = pep
		}
		pep.PSMs = append(pep.PSMs, psm)
		for _, acc := range psm.Proteins {
			if acc != "" {
				pep.Proteins[acc] = struct{}{}
			}
		}
	}
	return peptides
}

// SortedPeptideKeys returns the keys of a peptide map in lexicographic order.
func SortedPeptideKeys(peptides map[string]*Peptide) []string {
	keys := make([]string, 0, len(peptides))
	for k := range peptides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProteinGroup is a set of accessions that together explain a body of peptide evidence.
type ProteinGroup struct {
	Accessions []string
}

// Grouper assigns each peptide to the protein group it is quantified under.
// Protein inference proper is done outside this module; implementations adapt its output.
type Grouper interface {
	Group(p *Peptide) (ProteinGroup, bool)
}

// SharedPeptideGrouper places a peptide in the group formed by every protein it maps to,
// i.e. proteins that cannot be told apart by that peptide.
type SharedPeptideGrouper struct{}

// Group implements Grouper.
func (SharedPeptideGrouper) Group(p *Peptide) (ProteinGroup, bool) {
	if len(p.Proteins) == 0 {
		return ProteinGroup{}, false
	}
	return ProteinGroup{Accessions: p.ProteinList()}, true
}

// MapGrouper looks peptide groups up in a precomputed peptide key -> accessions table.
type MapGrouper map[string][]string

// Group implements Grouper.
func (m MapGrouper) Group(p *Peptide) (ProteinGroup, bool) {
	accs, ok := m[p.Key]
	if !ok || len(accs) == 0 {
		return ProteinGroup{}, false
	}
	return ProteinGroup{Accessions: accs}, true
}
