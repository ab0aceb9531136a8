// Package integrate drives the external tools up the level hierarchy: each
// replicate branch through its lower levels, the replicate and experiment
// merges, then the entity and top levels.
package integrate

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/ChrisMcGann/hquant/pkg/exttool"
	"github.com/ChrisMcGann/hquant/pkg/level"
	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

// Config controls an Orchestrator.
type Config struct {
	Runner  exttool.Runner
	Logger  *log.Logger // nil discards
	WorkDir string

	Calibrate      bool
	RemoveOutliers bool
	FDR            float64

	// Timeout is the per-call limit the runner enforces, quoted in errors.
	Timeout       time.Duration
	MaxIterations int
	// Workers bounds concurrent tool calls; zero means one.
	Workers  int
	Override bool
}

// Orchestrator runs the integration pipeline.
type Orchestrator struct {
	cfg Config
	log *log.Logger
	sem chan struct{}
}

// New returns an Orchestrator for cfg.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, pkgerrors.New("integrate: no tool runner configured")
	}
	if cfg.RemoveOutliers && (cfg.FDR <= 0 || cfg.FDR >= 1) {
		return nil, pkgerrors.Errorf("integrate: FDR must be in (0, 1), got %g", cfg.FDR)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{cfg: cfg, log: logger, sem: make(chan struct{}, cfg.Workers)}, nil
}

// Run integrates every experiment of files. The first fatal error stops the
// run; files already produced stay on disk.
func (o *Orchestrator) Run(ctx context.Context, files *level.Files) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &Result{Experiments: make([]*ExperimentResult, len(files.Experiments))}
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i, ef := range files.Experiments {
		wg.Add(1)
		go func(i int, ef *level.ExperimentFiles) {
			defer wg.Done()
			er, err := o.experiment(ctx, ef)
			if err != nil {
				fail(err)
				return
			}
			res.Experiments[i] = er
		}(i, ef)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	if files.Merge != nil {
		tops := make([]string, len(res.Experiments))
		for i, er := range res.Experiments {
			tops[i] = er.Final.HigherLevel
		}
		merged, err := o.merge(ctx, level.MergeLabel, "", level.All, tops, files.Merge.Map, true)
		if err != nil {
			return nil, err
		}
		res.Merged = merged
	}
	return res, nil
}

// experiment runs the replicate branches of one experiment concurrently, then
// the replicate merge and the entity and top levels.
func (o *Orchestrator) experiment(ctx context.Context, ef *level.ExperimentFiles) (*ExperimentResult, error) {
	er := &ExperimentResult{Name: ef.Name, Label: ef.Label, Branches: make([][]*StepResult, len(ef.Branches))}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i, bf := range ef.Branches {
		wg.Add(1)
		go func(i int, bf *level.BranchFiles) {
			defer wg.Done()
			steps, err := o.branch(ctx, ef.Name, bf)
			if err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
				return
			}
			er.Branches[i] = steps
		}(i, bf)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	var data string
	if ef.Replicate != nil {
		outs := make([]string, len(er.Branches))
		for i, steps := range er.Branches {
			outs[i] = steps[len(steps)-1].HigherLevel
		}
		merged, err := o.merge(ctx, ef.Label, ef.Name, level.Replicate, outs, ef.Replicate.Map, false)
		if err != nil {
			return nil, err
		}
		er.Steps = append(er.Steps, merged)
		data = merged.HigherLevel
	} else {
		steps := er.Branches[0]
		data = steps[len(steps)-1].HigherLevel
		o.logf("%s: single replicate promoted", ef.Label)
	}

	for _, lf := range []*level.LevelFile{ef.Entity, ef.All} {
		if lf == nil {
			continue
		}
		sr, err := o.run(ctx, transition{
			kind:       lf.Kind,
			experiment: ef.Name,
			dataset:    ef.Label,
			data:       data,
			rels:       lf,
			final:      lf.Kind == level.All,
		})
		if err != nil {
			return nil, err
		}
		er.Steps = append(er.Steps, sr)
		data = sr.HigherLevel
	}
	er.Final = er.Steps[len(er.Steps)-1]
	return er, nil
}

// branch runs the lower levels of one replicate.
func (o *Orchestrator) branch(ctx context.Context, experiment string, bf *level.BranchFiles) ([]*StepResult, error) {
	var steps []*StepResult
	data := bf.Data
	for _, lf := range []*level.LevelFile{bf.Ion, bf.Spectrum} {
		if lf == nil {
			continue
		}
		sr, err := o.run(ctx, transition{
			kind:       lf.Kind,
			experiment: experiment,
			dataset:    bf.Dataset.Label,
			data:       data,
			rels:       lf,
		})
		if err != nil {
			return nil, err
		}
		steps = append(steps, sr)
		data = sr.HigherLevel
	}
	return steps, nil
}

// merge relabels the rows of inputs to their parents in m, concatenates them
// and integrates the result without a relationship file.
func (o *Orchestrator) merge(ctx context.Context, label, experiment string, kind level.Kind, inputs []string, m *relmap.Map, final bool) (*StepResult, error) {
	rows, err := relmap.Concat(inputs...)
	if err != nil {
		return nil, &StepError{Level: kind, Dataset: label, State: AwaitingCalibration, Err: err}
	}
	rows, err = relmap.Relabel(rows, m)
	if err != nil {
		return nil, &StepError{Level: kind, Dataset: label, State: AwaitingCalibration, Err: err}
	}

	path := filepath.Join(o.cfg.WorkDir, label+"_"+kind.String()+"_merge_data.tsv")
	if err := o.writeData(path, rows); err != nil {
		return nil, &StepError{Level: kind, Dataset: label, State: AwaitingCalibration, Err: err}
	}
	o.logf("%s %s: merging %d files, %d rows", label, kind, len(inputs), len(rows))
	return o.run(ctx, transition{kind: kind, experiment: experiment, dataset: label, data: path, final: final})
}

func (o *Orchestrator) writeData(path string, rows []relmap.Row) error {
	if !o.cfg.Override {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return relmap.WriteDataFile(path, rows)
}

// run executes one transition while holding a worker slot.
func (o *Orchestrator) run(ctx context.Context, t transition) (*StepResult, error) {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, t.cancelled(ctx.Err())
	}
	defer func() { <-o.sem }()
	return o.step(ctx, t)
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	o.log.Printf(format, args...)
}
