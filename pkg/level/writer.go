package level

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

// MergeLabel labels the files of the cross-experiment merge.
const MergeLabel = "experiments"

// LevelFile is one relationship file and the map it holds.
type LevelFile struct {
	Kind Kind
	Path string
	Map  *relmap.Map
}

// BranchFiles holds the files of one replicate branch.
type BranchFiles struct {
	Dataset  *Dataset
	Data     string     // Base data file
	Ion      *LevelFile // nil unless the data is isobaric
	Spectrum *LevelFile
}

// ExperimentFiles holds the files of one experiment.
type ExperimentFiles struct {
	Index     int
	Name      string
	Label     string
	Branches  []*BranchFiles
	Replicate *LevelFile // nil for a single replicate
	Entity    *LevelFile // nil for the peptide outcome
	All       *LevelFile
}

// Files is everything WriteFiles produced.
type Files struct {
	Dir         string
	Experiments []*ExperimentFiles
	Merge       *LevelFile // nil unless experiment results are merged
}

// Written counts how many files were written and how many were left as found.
type Written struct {
	Written int
	Skipped int
}

// DataPath returns the base data file path of a dataset.
func DataPath(dir string, ds *Dataset) string {
	return filepath.Join(dir, ds.Label+"_data.tsv")
}

// RelsPath returns the relationship file path for a label and transition.
func RelsPath(dir, label string, k Kind) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_rels.tsv", label, k))
}

// WriteFiles builds every needed relationship map and base data file and
// writes them under dir. With override disabled an existing file is left
// untouched, but its map is still built and returned.
func (m *Model) WriteFiles(dir string, override bool) (*Files, Written, error) {
	var stats Written
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, stats, fmt.Errorf("failed to create working directory %s: %w", dir, err)
	}

	put := func(path string, write func(string) error) error {
		if !override {
			_, err := os.Stat(path)
			if err == nil {
				stats.Skipped++
				return nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}
		}
		if err := write(path); err != nil {
			return err
		}
		stats.Written++
		return nil
	}
	putMap := func(label string, k Kind, rm *relmap.Map) (*LevelFile, error) {
		if err := checkAggregates(k, label, rm); err != nil {
			return nil, err
		}
		lf := &LevelFile{Kind: k, Path: RelsPath(dir, label, k), Map: rm}
		if err := put(lf.Path, rm.WriteFile); err != nil {
			return nil, err
		}
		return lf, nil
	}

	files := &Files{Dir: dir}
	for ei := range m.experiments {
		ef := &ExperimentFiles{Index: ei, Name: m.ExperimentName(ei), Label: m.ExperimentLabel(ei)}

		for _, ds := range m.datasets[ei] {
			bf := &BranchFiles{Dataset: ds, Data: DataPath(dir, ds)}
			rows, err := m.BaseData(ds)
			if err != nil {
				return nil, stats, fmt.Errorf("dataset %s: %w", ds.Label, err)
			}
			if err := put(bf.Data, func(p string) error { return relmap.WriteDataFile(p, rows) }); err != nil {
				return nil, stats, err
			}

			ion, err := m.IonMap(ds)
			switch {
			case err == nil:
				if bf.Ion, err = putMap(ds.Label, Ion, ion); err != nil {
					return nil, stats, err
				}
			case !IsNotNeeded(err):
				return nil, stats, err
			}
			if bf.Spectrum, err = putMap(ds.Label, Spectrum, m.SpectrumMap(ds)); err != nil {
				return nil, stats, err
			}
			ef.Branches = append(ef.Branches, bf)
		}

		rep, err := m.ReplicateMap(ei)
		switch {
		case err == nil:
			if ef.Replicate, err = putMap(ef.Label, Replicate, rep); err != nil {
				return nil, stats, err
			}
		case !IsNotNeeded(err):
			return nil, stats, err
		}

		ent, err := m.EntityMap(ei)
		switch {
		case err == nil:
			if ef.Entity, err = putMap(ef.Label, Entity, ent); err != nil {
				return nil, stats, err
			}
		case !IsNotNeeded(err):
			return nil, stats, err
		}

		all, err := m.AllMap(ei)
		if err != nil {
			return nil, stats, err
		}
		if ef.All, err = putMap(ef.Label, All, all); err != nil {
			return nil, stats, err
		}
		files.Experiments = append(files.Experiments, ef)
	}

	merge, err := m.ExperimentMergeMap()
	switch {
	case err == nil:
		if files.Merge, err = putMap(MergeLabel, All, merge); err != nil {
			return nil, stats, err
		}
	case !IsNotNeeded(err):
		return nil, stats, err
	}
	return files, stats, nil
}

// checkAggregates rejects a non-empty map that relates every key to itself.
// Integrating it would only reproduce the lower level.
func checkAggregates(k Kind, label string, rm *relmap.Map) error {
	if rm.Len() > 0 && rm.IsIdentity() {
		return fmt.Errorf("%s %s relationships map every key onto itself", label, k)
	}
	return nil
}

func sortRows(rows []relmap.Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
}
