// Package level models the five-level integration hierarchy and writes the
// relationship and data files consumed by each level transition.
package level

import (
	"errors"
	"fmt"

	"github.com/ChrisMcGann/hquant/pkg/cluster"
	"github.com/ChrisMcGann/hquant/pkg/core"
	"github.com/ChrisMcGann/hquant/pkg/keys"
)

// Kind identifies a level transition, ordered from the lowest level up.
type Kind int

const (
	Ion       Kind = iota + 1 // ion -> spectrum, isobaric data only
	Spectrum                  // spectrum -> peptide(+replicate+experiment)
	Replicate                 // peptide(+replicate+experiment) -> peptide(+experiment)
	Entity                    // peptide(+experiment) -> protein, group or cluster
	All                       // entity -> all
)

// Kinds lists every transition in pipeline order.
var Kinds = []Kind{Ion, Spectrum, Replicate, Entity, All}

func (k Kind) String() string {
	switch k {
	case Ion:
		return "ion"
	case Spectrum:
		return "spectrum"
	case Replicate:
		return "replicate"
	case Entity:
		return "entity"
	case All:
		return "all"
	default:
		return fmt.Sprintf("level(%d)", int(k))
	}
}

// NotNeededError signals a degenerate transition that must be skipped. It is
// expected control flow, not a failure.
type NotNeededError struct {
	Kind   Kind
	Reason string
}

func (e *NotNeededError) Error() string {
	return fmt.Sprintf("%s level not needed: %s", e.Kind, e.Reason)
}

// IsNotNeeded reports whether err is, or wraps, a NotNeededError.
func IsNotNeeded(err error) bool {
	var nn *NotNeededError
	return errors.As(err, &nn)
}

// Level describes one transition of one experiment.
type Level struct {
	Kind       Kind
	Experiment string
	Needed     bool
	Reason     string // Why the level is skipped, when it is
}

// Options controls how keys are built at each level.
type Options struct {
	QuantType               core.QuantType
	Outcome                 core.Outcome
	Keys                    keys.Options
	KeepExperimentsSeparate bool

	// Grouper assigns peptides to protein groups for OutcomeProteinGroup.
	Grouper core.Grouper
	// Clusters holds the clustering result for OutcomeProteinCluster.
	Clusters *cluster.Result
}

// Dataset is the filtered PSM content of one replicate, with the suffix names
// its keys carry.
type Dataset struct {
	ExperimentIndex int
	ReplicateIndex  int
	Experiment      string // Experiment suffix; empty for a single experiment
	Replicate       string // Replicate suffix; empty for a single replicate
	Label           string // Unique file label
	PSMs            []*core.PSM
}

// Model is the level hierarchy of one analysis.
type Model struct {
	opts        Options
	experiments []*core.Experiment
	datasets    [][]*Dataset
}

// NewModel loads every replicate source once, applies filter (may be nil) and
// returns the model. Configuration errors are reported before any file is written.
func NewModel(exps []*core.Experiment, opts Options, filter func([]*core.PSM) []*core.PSM) (*Model, error) {
	if err := core.ValidateExperiments(exps); err != nil {
		return nil, err
	}
	switch opts.Outcome {
	case core.OutcomeProteinCluster:
		if opts.Clusters == nil {
			return nil, fmt.Errorf("protein-cluster outcome requires a clustering result")
		}
	case core.OutcomeProteinGroup:
		if opts.Grouper == nil {
			opts.Grouper = core.SharedPeptideGrouper{}
		}
	}

	m := &Model{opts: opts, experiments: exps}
	for ei, e := range exps {
		var sets []*Dataset
		for ri, r := range e.Replicates {
			psms, err := r.Source.PSMs()
			if err != nil {
				return nil, fmt.Errorf("failed to read replicate '%s' of experiment '%s': %w", r.Name, e.Name, err)
			}
			if filter != nil {
				psms = filter(psms)
			}
			sets = append(sets, &Dataset{
				ExperimentIndex: ei,
				ReplicateIndex:  ri,
				Experiment:      core.ExperimentSuffix(exps, ei),
				Replicate:       e.ReplicateSuffix(ri),
				Label:           fileLabel(ei, e.Name, ri, r.Name),
				PSMs:            psms,
			})
		}
		m.datasets = append(m.datasets, sets)
	}
	return m, nil
}

// Experiments returns the number of experiments.
func (m *Model) Experiments() int {
	return len(m.experiments)
}

// ExperimentName returns the configured name of experiment i.
func (m *Model) ExperimentName(i int) string {
	return m.experiments[i].Name
}

// ExperimentLabel returns the file label of experiment i.
func (m *Model) ExperimentLabel(i int) string {
	return fileLabel(i, m.experiments[i].Name, -1, "")
}

// Datasets returns the replicate datasets of experiment i.
func (m *Model) Datasets(i int) []*Dataset {
	return m.datasets[i]
}

// Check reports whether transition k is needed for experiment exp. A skipped
// transition returns a *NotNeededError.
func (m *Model) Check(k Kind, exp int) error {
	switch k {
	case Ion:
		if m.opts.QuantType != core.QuantIsobaric {
			return &NotNeededError{Kind: k, Reason: "no reporter ions in " + m.opts.QuantType.String() + " data"}
		}
	case Replicate:
		if len(m.datasets[exp]) <= 1 {
			return &NotNeededError{Kind: k, Reason: "experiment has a single replicate"}
		}
	case Entity:
		if m.opts.Outcome == core.OutcomePeptide {
			return &NotNeededError{Kind: k, Reason: "peptide outcome maps every peptide onto itself"}
		}
	case Spectrum, All:
	default:
		return fmt.Errorf("unknown level %d", int(k))
	}
	return nil
}

// CheckExperimentMerge reports whether experiment results must be merged.
func (m *Model) CheckExperimentMerge() error {
	if len(m.experiments) <= 1 {
		return &NotNeededError{Kind: All, Reason: "analysis has a single experiment"}
	}
	if m.opts.KeepExperimentsSeparate {
		return &NotNeededError{Kind: All, Reason: "experiments are kept separate"}
	}
	return nil
}

// Levels lists every transition of every experiment with its needed flag.
func (m *Model) Levels() []Level {
	var out []Level
	for ei, e := range m.experiments {
		for _, k := range Kinds {
			lv := Level{Kind: k, Experiment: e.Name, Needed: true}
			if err := m.Check(k, ei); err != nil {
				lv.Needed = false
				lv.Reason = err.(*NotNeededError).Reason
			}
			out = append(out, lv)
		}
	}
	return out
}
