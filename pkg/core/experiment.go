package core

import "fmt"

// Source yields the PSMs of one replicate. Vendor file parsing lives behind it.
type Source interface {
	PSMs() ([]*PSM, error)
}

// StaticSource is a Source over PSMs already in memory.
type StaticSource []*PSM

// PSMs implements Source.
func (s StaticSource) PSMs() ([]*PSM, error) {
	return s, nil
}

// Replicate is one quantification run of an experiment.
type Replicate struct {
	Name   string
	Source Source
}

// Experiment owns an ordered list of replicates.
type Experiment struct {
	Name       string
	Replicates []*Replicate
}

// ReplicateSuffix returns the replicate name used in composite keys. It is empty
// when the experiment has a single replicate so keys carry no redundant suffix.
func (e *Experiment) ReplicateSuffix(i int) string {
	if len(e.Replicates) <= 1 {
		return ""
	}
	return e.Replicates[i].Name
}

// ExperimentSuffix returns the experiment name used in composite keys, empty when
// the analysis contains a single experiment.
func ExperimentSuffix(exps []*Experiment, i int) string {
	if len(exps) <= 1 {
		return ""
	}
	return exps[i].Name
}

// ValidateExperiments checks names are present and unique where they end up in keys.
func ValidateExperiments(exps []*Experiment) error {
	if len(exps) == 0 {
		return fmt.Errorf("at least one experiment is required")
	}
	seen := make(map[string]bool)
	for _, e := range exps {
		if len(exps) > 1 {
			if e.Name == "" {
				return fmt.Errorf("experiment name is required when there is more than one experiment")
			}
			if seen[e.Name] {
				return fmt.Errorf("duplicate experiment name '%s'", e.Name)
			}
			seen[e.Name] = true
		}
		if len(e.Replicates) == 0 {
			return fmt.Errorf("experiment '%s' has no replicates", e.Name)
		}
		reps := make(map[string]bool)
		for _, r := range e.Replicates {
			if r.Source == nil {
				return fmt.Errorf("replicate '%s' of experiment '%s' has no source", r.Name, e.Name)
			}
			if len(e.Replicates) > 1 {
				if r.Name == "" {
					return fmt.Errorf("experiment '%s': replicate name is required when there is more than one replicate", e.Name)
				}
				if reps[r.Name] {
					return fmt.Errorf("experiment '%s': duplicate replicate name '%s'", e.Name, r.Name)
				}
				reps[r.Name] = true
			}
		}
	}
	return nil
}
