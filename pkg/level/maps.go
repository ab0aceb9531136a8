package level

import (
	"fmt"
	"regexp"

	"github.com/ChrisMcGann/hquant/pkg/core"
	"github.com/ChrisMcGann/hquant/pkg/keys"
	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

// Relationship file headers, higher level first.
const (
	headerIon        = "spectrum\tion"
	headerSpectrum   = "peptide\tspectrum"
	headerReplicate  = "peptide\tpeptide-replicate"
	headerAll        = "all\t"
	headerExperiment = "all\tall-experiment"
)

// BaseData returns the lowest-level data rows of a dataset: one row per
// reporter ion for isobaric data, one row per spectrum otherwise. Rows are
// sorted by key so the file is reproducible.
func (m *Model) BaseData(ds *Dataset) ([]relmap.Row, error) {
	isobaric := m.opts.QuantType == core.QuantIsobaric
	seen := make(map[string]bool)
	var rows []relmap.Row
	for _, psm := range ds.PSMs {
		if psm.Discarded || len(psm.Ratios) == 0 {
			continue
		}
		ratios := psm.Ratios
		if !isobaric {
			ratios = ratios[:1]
		}
		for _, r := range ratios {
			w, err := core.FittingWeight(psm, r, m.opts.QuantType)
			if err != nil {
				return nil, fmt.Errorf("PSM %s: %w", psm.Name(), err)
			}
			var key string
			if isobaric {
				key = keys.IonKey(r, psm, m.opts.Keys.ChargeSensitive)
			} else {
				key = keys.SpectrumKey(psm, m.opts.Keys.ChargeSensitive)
			}
			key = keys.Suffix(key, ds.Replicate, ds.Experiment)
			if seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, relmap.Row{Key: key, X: core.Log2Ratio(r), Weight: w})
		}
	}
	sortRows(rows)
	return rows, nil
}

// IonMap relates reporter ions to their spectrum.
func (m *Model) IonMap(ds *Dataset) (*relmap.Map, error) {
	if err := m.Check(Ion, ds.ExperimentIndex); err != nil {
		return nil, err
	}
	cs := m.opts.Keys.ChargeSensitive
	rm := relmap.New(headerIon)
	for _, psm := range active(ds.PSMs) {
		parent := keys.Suffix(keys.SpectrumKey(psm, cs), ds.Replicate, ds.Experiment)
		for _, r := range psm.Ratios {
			rm.Add(parent, keys.Suffix(keys.IonKey(r, psm, cs), ds.Replicate, ds.Experiment))
		}
	}
	return rm, nil
}

// SpectrumMap relates spectra to their peptide, both suffixed with replicate and experiment.
func (m *Model) SpectrumMap(ds *Dataset) *relmap.Map {
	rm := relmap.New(headerSpectrum)
	for _, psm := range active(ds.PSMs) {
		rm.Add(
			keys.Suffix(keys.PeptideKey(psm, m.opts.Keys), ds.Replicate, ds.Experiment),
			keys.Suffix(keys.SpectrumKey(psm, m.opts.Keys.ChargeSensitive), ds.Replicate, ds.Experiment),
		)
	}
	return rm
}

// ReplicateMap relates replicate-level peptides to experiment-level peptides.
func (m *Model) ReplicateMap(exp int) (*relmap.Map, error) {
	if err := m.Check(Replicate, exp); err != nil {
		return nil, err
	}
	rm := relmap.New(headerReplicate)
	for _, ds := range m.datasets[exp] {
		rm = rm.Merge(m.replicatePeptides(ds))
	}
	return rm, nil
}

// replicatePeptides relates the peptides of one replicate to their
// experiment-level keys.
func (m *Model) replicatePeptides(ds *Dataset) *relmap.Map {
	rm := relmap.New(headerReplicate)
	for _, psm := range active(ds.PSMs) {
		pep := keys.PeptideKey(psm, m.opts.Keys)
		rm.Add(keys.Suffix(pep, "", ds.Experiment), keys.Suffix(pep, ds.Replicate, ds.Experiment))
	}
	return rm
}

// EntityMap relates experiment-level peptides to the proteins, protein groups
// or clusters of the analysis outcome.
func (m *Model) EntityMap(exp int) (*relmap.Map, error) {
	if err := m.Check(Entity, exp); err != nil {
		return nil, err
	}
	suffix := core.ExperimentSuffix(m.experiments, exp)
	rm := relmap.New(m.opts.Outcome.String() + "\tpeptide")
	for _, pep := range m.experimentPeptides(exp) {
		child := keys.Suffix(pep.Key, "", suffix)
		for _, parent := range m.entityKeys(pep) {
			rm.Add(keys.Suffix(parent, "", suffix), child)
		}
	}
	return rm, nil
}

// AllMap relates every top entity of an experiment to the experiment's "all" key.
// Its children are the entity keys, or the peptide keys when the entity level is skipped.
func (m *Model) AllMap(exp int) (*relmap.Map, error) {
	suffix := core.ExperimentSuffix(m.experiments, exp)
	parent := keys.Suffix(keys.All, "", suffix)

	if m.Check(Entity, exp) != nil {
		rm := relmap.New(headerAll + "peptide")
		for _, pep := range m.experimentPeptides(exp) {
			rm.Add(parent, keys.Suffix(pep.Key, "", suffix))
		}
		return rm, nil
	}

	em, err := m.EntityMap(exp)
	if err != nil {
		return nil, err
	}
	rm := relmap.New(headerAll + m.opts.Outcome.String())
	for _, e := range em.Parents() {
		rm.Add(parent, e)
	}
	return rm, nil
}

// ExperimentMergeMap relates the per-experiment "all" keys to the global one.
func (m *Model) ExperimentMergeMap() (*relmap.Map, error) {
	if err := m.CheckExperimentMerge(); err != nil {
		return nil, err
	}
	rm := relmap.New(headerExperiment)
	for i := range m.experiments {
		rm.Add(keys.All, keys.Suffix(keys.All, "", core.ExperimentSuffix(m.experiments, i)))
	}
	return rm, nil
}

// experimentPeptides aggregates every replicate of an experiment into peptides
// keyed without suffix.
func (m *Model) experimentPeptides(exp int) []*core.Peptide {
	var psms []*core.PSM
	for _, ds := range m.datasets[exp] {
		psms = append(psms, ds.PSMs...)
	}
	peps := core.BuildPeptides(psms, func(p *core.PSM) string { return keys.PeptideKey(p, m.opts.Keys) })
	out := make([]*core.Peptide, 0, len(peps))
	for _, k := range core.SortedPeptideKeys(peps) {
		out = append(out, peps[k])
	}
	return out
}

// AllPeptides aggregates every dataset of the analysis, as input to clustering.
func AllPeptides(exps []*core.Experiment, opts keys.Options, filter func([]*core.PSM) []*core.PSM) (map[string]*core.Peptide, error) {
	var psms []*core.PSM
	for _, e := range exps {
		for _, r := range e.Replicates {
			ps, err := r.Source.PSMs()
			if err != nil {
				return nil, fmt.Errorf("failed to read replicate '%s' of experiment '%s': %w", r.Name, e.Name, err)
			}
			if filter != nil {
				ps = filter(ps)
			}
			psms = append(psms, ps...)
		}
	}
	return core.BuildPeptides(psms, func(p *core.PSM) string { return keys.PeptideKey(p, opts) }), nil
}

func (m *Model) entityKeys(pep *core.Peptide) []string {
	switch m.opts.Outcome {
	case core.OutcomeProtein:
		return pep.ProteinList()
	case core.OutcomeProteinGroup:
		if g, ok := m.opts.Grouper.Group(pep); ok {
			return []string{keys.GroupKey(g.Accessions)}
		}
	case core.OutcomeProteinCluster:
		return m.opts.Clusters.ClusterKeys(pep.Key)
	}
	return nil
}

func active(psms []*core.PSM) []*core.PSM {
	out := make([]*core.PSM, 0, len(psms))
	for _, p := range psms {
		if !p.Discarded && len(p.Ratios) > 0 {
			out = append(out, p)
		}
	}
	return out
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9.-]+`)

// fileLabel builds a label unique per (experiment, replicate); ri < 0 labels
// the experiment alone.
func fileLabel(ei int, exp string, ri int, rep string) string {
	label := fmt.Sprintf("e%02d", ei+1)
	if exp != "" {
		label += "-" + unsafeFileChars.ReplaceAllString(exp, "-")
	}
	if ri >= 0 {
		label += fmt.Sprintf("_r%02d", ri+1)
		if rep != "" {
			label += "-" + unsafeFileChars.ReplaceAllString(rep, "-")
		}
	}
	return label
}
