package integrate

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/ChrisMcGann/hquant/pkg/exttool"
	"github.com/ChrisMcGann/hquant/pkg/level"
	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

// transition is one integration from a data file to the next level up.
type transition struct {
	kind       level.Kind
	experiment string
	dataset    string // File label of the branch, experiment or merge
	data       string
	rels       *level.LevelFile // nil for merges
	final      bool
}

func (t transition) prefix() string {
	p := t.dataset + "_" + t.kind.String()
	if t.rels == nil {
		p += "_merge"
	}
	return p
}

func (t transition) merge() bool {
	return t.rels == nil
}

// StepResult is the outcome of one level transition.
type StepResult struct {
	Level      level.Kind
	Experiment string
	Dataset    string
	Merge      bool

	DataFile    string // Data integrated, after calibration
	RelFile     string // Relationship file used by the last integration
	HigherLevel string
	InfoFile    string
	Variance    float64
	// Stats holds the per-row statistics of the last integration, or those of
	// the outlier removal when the integration wrote none.
	Stats []exttool.Stat

	Trace   []State
	Retried bool
	Reused  bool
}

// machine drives one transition through its states.
type machine struct {
	o     *Orchestrator
	t     transition
	state State
	res   *StepResult
	last  *exttool.Result
}

func (o *Orchestrator) step(ctx context.Context, t transition) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, t.cancelled(err)
	}
	if res, ok := o.reuse(t); ok {
		return res, nil
	}

	// Tool calls run to completion or timeout once started.
	ctx = context.WithoutCancel(ctx)

	m := &machine{o: o, t: t, state: AwaitingCalibration, res: &StepResult{
		Level:      t.kind,
		Experiment: t.experiment,
		Dataset:    t.dataset,
		Merge:      t.merge(),
		DataFile:   t.data,
	}}
	if t.rels != nil {
		m.res.RelFile = t.rels.Path
	}
	for !m.state.terminal() {
		m.res.Trace = append(m.res.Trace, m.state)
		next, err := m.advance(ctx)
		if err != nil {
			return nil, &StepError{Level: t.kind, Dataset: t.dataset, State: m.state, Err: err}
		}
		m.state = next
	}
	m.res.Trace = append(m.res.Trace, m.state)
	m.res.HigherLevel = m.last.HigherLevel
	m.res.InfoFile = existing(m.last.Info)
	m.o.logf("%s %s: %s, variance %g", t.dataset, t.kind, m.state, m.res.Variance)
	return m.res, nil
}

func (m *machine) advance(ctx context.Context) (State, error) {
	cfg := m.o.cfg
	switch m.state {
	case AwaitingCalibration:
		if cfg.Calibrate && !m.t.merge() {
			res, err := cfg.Runner.Calibrate(ctx, m.request(""))
			if err != nil {
				return m.state, &CalibrationError{Err: err}
			}
			m.res.DataFile = res.Calibrated
		}
		return Calibrated, nil

	case Calibrated:
		if !m.t.merge() {
			if err := m.checkConsistency(m.t.rels.Map); err != nil {
				return m.state, err
			}
		}
		res, err := m.o.integrate(ctx, m.request(""), m)
		if err != nil {
			return m.state, err
		}
		m.last = res
		m.res.Variance = res.Variance
		m.res.Stats = res.Rows
		return Integrated, nil

	case Integrated:
		if cfg.RemoveOutliers && !m.t.merge() && !m.t.final {
			return OutlierCheck, nil
		}
		return m.finish(), nil

	case OutlierCheck:
		req := m.request("")
		req.InfoFile = existing(m.last.Info)
		req.FDR = cfg.FDR
		out, err := cfg.Runner.RemoveOutliers(ctx, req)
		if err != nil {
			return m.state, errors.Wrap(err, "outlier removal")
		}
		if _, err := os.Stat(out.Stats); err == nil {
			if m.res.Stats, err = exttool.ReadStats(out.Stats); err != nil {
				return m.state, err
			}
		}

		re := m.request("_clean")
		re.RelFile = out.CleanRels
		re.ForcedVariance = exttool.Variance(m.res.Variance)
		res, err := m.o.integrate(ctx, re, m)
		if err != nil {
			return m.state, errors.Wrap(err, "re-integration")
		}
		m.last = res
		m.res.RelFile = out.CleanRels
		if len(res.Rows) > 0 {
			m.res.Stats = res.Rows
		}
		return ReIntegrated, nil

	case ReIntegrated:
		return m.finish(), nil
	}
	return m.state, errors.Errorf("no transition from state %s", m.state)
}

// cancelled reports a transition that was not started because the run was cancelled.
func (t transition) cancelled(err error) error {
	return &StepError{Level: t.kind, Dataset: t.dataset, State: AwaitingCalibration, Err: err}
}

// existing returns path if the file is there, else "".
func existing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (m *machine) finish() State {
	if m.t.final {
		return Done
	}
	return NextLevel
}

func (m *machine) request(suffix string) exttool.Request {
	req := exttool.Request{
		WorkDir:        m.o.cfg.WorkDir,
		DataFile:       m.res.DataFile,
		Prefix:         m.t.prefix() + suffix,
		MaxIterations:  m.o.cfg.MaxIterations,
		NoRelationship: m.t.merge(),
	}
	if m.t.rels != nil {
		req.RelFile = m.t.rels.Path
	}
	return req
}

func (m *machine) checkConsistency(rm *relmap.Map) error {
	rows, err := relmap.ReadDataFile(m.res.DataFile)
	if err != nil {
		return err
	}
	if missing := relmap.MissingKeys(rows, rm); len(missing) > 0 {
		return &ConsistencyError{DataFile: m.res.DataFile, RelFile: m.t.rels.Path, Missing: missing}
	}
	return nil
}

// integrate runs the integration tool, retrying once with the variance forced
// to zero when the first call times out.
func (o *Orchestrator) integrate(ctx context.Context, req exttool.Request, m *machine) (*exttool.Result, error) {
	res, err := o.cfg.Runner.Integrate(ctx, req)
	if err == nil {
		return res, nil
	}
	if !exttool.IsTimeout(err) {
		return nil, errors.Wrap(err, "integration")
	}

	o.logf("%s %s: integration timed out after %s, retrying with variance 0", m.t.dataset, m.t.kind, o.cfg.Timeout)
	if err := exttool.RemovePartial(req); err != nil {
		return nil, err
	}
	req.ForcedVariance = exttool.Variance(0)
	m.res.Retried = true
	res, err = o.cfg.Runner.Integrate(ctx, req)
	if err == nil {
		return res, nil
	}
	if exttool.IsTimeout(err) {
		return nil, errors.Wrapf(err, "integration timed out twice with timeout %s", o.cfg.Timeout)
	}
	return nil, errors.Wrap(err, "integration retry")
}

// reuse returns the result of a transition whose outputs are already on disk.
func (o *Orchestrator) reuse(t transition) (*StepResult, bool) {
	if o.cfg.Override {
		return nil, false
	}
	prefix := t.prefix()
	outliers := o.cfg.RemoveOutliers && !t.merge() && !t.final
	req := exttool.Request{WorkDir: o.cfg.WorkDir, Prefix: prefix}
	if outliers {
		req.Prefix = prefix + "_clean"
	}
	final := req.Artifacts()
	if _, err := os.Stat(final.HigherLevel); err != nil {
		return nil, false
	}
	first, err := exttool.Collect(exttool.Request{WorkDir: o.cfg.WorkDir, Prefix: prefix})
	if err != nil {
		return nil, false
	}
	last, err := exttool.Collect(req)
	if err != nil {
		return nil, false
	}

	res := &StepResult{
		Level:       t.kind,
		Experiment:  t.experiment,
		Dataset:     t.dataset,
		Merge:       t.merge(),
		DataFile:    t.data,
		HigherLevel: final.HigherLevel,
		InfoFile:    existing(first.Info),
		Variance:    first.Variance,
		Stats:       last.Rows,
		Reused:      true,
	}
	if t.rels != nil {
		res.RelFile = t.rels.Path
	}
	if outliers {
		res.RelFile = first.CleanRels
		res.InfoFile = existing(final.Info)
		if len(res.Stats) == 0 {
			res.Stats = first.Rows
		}
	}
	if o.cfg.Calibrate && !t.merge() {
		res.DataFile = first.Calibrated
	}
	o.logf("%s %s: reusing %s", t.dataset, t.kind, final.HigherLevel)
	return res, true
}
