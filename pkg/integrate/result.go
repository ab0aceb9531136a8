package integrate

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

// ExperimentResult holds the steps of one experiment.
type ExperimentResult struct {
	Name  string
	Label string
	// Branches holds the lower-level steps of each replicate, in replicate order.
	Branches [][]*StepResult
	// Steps holds the replicate merge, entity and top level steps that ran.
	Steps []*StepResult
	Final *StepResult
}

// Result is the outcome of a pipeline run.
type Result struct {
	Experiments []*ExperimentResult
	Merged      *StepResult // nil when experiments were not merged
}

// Final returns the top result of the run: the merged result when
// experiments were merged, else one per experiment.
func (r *Result) Final() []*StepResult {
	if r.Merged != nil {
		return []*StepResult{r.Merged}
	}
	out := make([]*StepResult, len(r.Experiments))
	for i, er := range r.Experiments {
		out[i] = er.Final
	}
	return out
}

// Steps returns every step of the run in execution order per experiment.
func (r *Result) Steps() []*StepResult {
	var out []*StepResult
	for _, er := range r.Experiments {
		for _, b := range er.Branches {
			out = append(out, b...)
		}
		out = append(out, er.Steps...)
	}
	if r.Merged != nil {
		out = append(out, r.Merged)
	}
	return out
}

// Summary describes the values a step produced.
type Summary struct {
	N        int
	Mean     float64
	StdDev   float64
	Min, Max float64
	Variance float64 // Estimated by the integration tool
}

// Summarize reads the higher-level file of sr and summarizes its values,
// weighted by their integration weights.
func Summarize(sr *StepResult) (Summary, error) {
	rows, err := relmap.ReadDataFile(sr.HigherLevel)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{N: len(rows), Variance: sr.Variance}
	if len(rows) == 0 {
		return s, nil
	}
	xs := make([]float64, len(rows))
	ws := make([]float64, len(rows))
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	for i, r := range rows {
		xs[i], ws[i] = r.X, r.Weight
		s.Min = math.Min(s.Min, r.X)
		s.Max = math.Max(s.Max, r.X)
	}
	if !positive(ws) {
		ws = nil
	}
	s.Mean, s.StdDev = stat.MeanStdDev(xs, ws)
	if len(rows) == 1 {
		s.StdDev = 0
	}
	return s, nil
}

func positive(ws []float64) bool {
	for _, w := range ws {
		if w <= 0 {
			return false
		}
	}
	return true
}
