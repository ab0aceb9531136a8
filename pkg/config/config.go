// Package config loads the YAML analysis description.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChrisMcGann/hquant/pkg/cluster"
	"github.com/ChrisMcGann/hquant/pkg/core"
	"github.com/ChrisMcGann/hquant/pkg/exttool"
	"github.com/ChrisMcGann/hquant/pkg/filter"
	"github.com/ChrisMcGann/hquant/pkg/keys"
	"github.com/ChrisMcGann/hquant/pkg/reader/psmtsv"
)

// Config is a complete analysis.
type Config struct {
	Experiments []Experiment `yaml:"experiments"`
	QuantType   string       `yaml:"quant_type"`
	Outcome     string       `yaml:"outcome"`

	Keys       Keys                `yaml:"keys"`
	Filter     filter.Config       `yaml:"filter"`
	Clustering Clustering          `yaml:"clustering"`
	Groups     map[string][]string `yaml:"protein_groups"` // Peptide key -> group accessions

	// Modifications is a CSV of extra modification masses (mod,massshift,aa)
	// added to the built-in ones.
	Modifications string `yaml:"modifications"`

	Tools          Tools         `yaml:"tools"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxIterations  int           `yaml:"max_iterations"`
	Calibrate      bool          `yaml:"calibrate"`
	RemoveOutliers bool          `yaml:"remove_outliers"`
	FDR            float64       `yaml:"fdr"`

	KeepExperimentsSeparate bool   `yaml:"keep_experiments_separate"`
	Override                bool   `yaml:"override"`
	Workers                 int    `yaml:"workers"`
	WorkDir                 string `yaml:"work_dir"`
	Database                string `yaml:"database"`

	baseDir string
}

// Experiment lists the replicate files of one experiment.
type Experiment struct {
	Name       string      `yaml:"name"`
	Replicates []Replicate `yaml:"replicates"`
}

// Replicate is one PSM table.
type Replicate struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

// Keys mirrors keys.Options.
type Keys struct {
	ChargeSensitive          bool `yaml:"charge_sensitive"`
	DistinguishModifications bool `yaml:"distinguish_modifications"`
}

// Clustering holds the protein-cluster thresholds, or an explicit partition.
type Clustering struct {
	MinAlignmentScore             int        `yaml:"min_alignment_score"`
	MinSimilarityPercentage       float64    `yaml:"min_similarity_percentage"`
	MinConsecutiveIdenticalLength int        `yaml:"min_consecutive_identical_length"`
	Forced                        [][]string `yaml:"forced"`
}

// Tool is one external program.
type Tool struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// Tools configures the three external programs.
type Tools struct {
	Calibrate Tool `yaml:"calibrate"`
	Integrate Tool `yaml:"integrate"`
	Outliers  Tool `yaml:"outliers"`
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// Default returns the configuration used for fields a file leaves out.
func Default() *Config {
	return &Config{
		QuantType:     "isobaric",
		Outcome:       "protein",
		Keys:          Keys{ChargeSensitive: true, DistinguishModifications: true},
		Timeout:       30 * time.Minute,
		MaxIterations: 100,
		FDR:           0.01,
		Workers:       runtime.NumCPU(),
		WorkDir:       "hquant_work",
	}
}

// Load reads the YAML file at path over the defaults. Relative file paths in
// it resolve against the file's directory.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	c.baseDir = filepath.Dir(path)
	return c, nil
}

// Validate checks the configuration before any file is written.
func (c *Config) Validate() error {
	qt, err := core.ParseQuantType(c.QuantType)
	if err != nil {
		return &ValidationError{Field: "quant_type", Message: err.Error()}
	}
	if qt == core.QuantUnknown {
		return &ValidationError{Field: "quant_type", Message: core.ErrUnsupportedQuantType.Error()}
	}
	outcome, err := core.ParseOutcome(c.Outcome)
	if err != nil {
		return &ValidationError{Field: "outcome", Message: err.Error()}
	}

	if len(c.Experiments) == 0 {
		return &ValidationError{Field: "experiments", Message: "at least one experiment is required"}
	}
	for i, e := range c.Experiments {
		if len(e.Replicates) == 0 {
			return &ValidationError{Field: fmt.Sprintf("experiments[%d]", i), Message: "no replicates"}
		}
		for j, r := range e.Replicates {
			if r.File == "" {
				return &ValidationError{Field: fmt.Sprintf("experiments[%d].replicates[%d].file", i, j), Message: "required"}
			}
		}
	}
	if _, err := c.ModDatabase(); err != nil {
		return &ValidationError{Field: "modifications", Message: err.Error()}
	}
	if _, err := c.CoreExperiments(); err != nil {
		return &ValidationError{Field: "experiments", Message: err.Error()}
	}

	if outcome == core.OutcomeProteinCluster && len(c.Clustering.Forced) == 0 {
		if err := c.ClusterParams().Validate(); err != nil {
			return &ValidationError{Field: "clustering", Message: err.Error()}
		}
	}

	if c.Tools.Integrate.Path == "" {
		return &ValidationError{Field: "tools.integrate.path", Message: "required"}
	}
	if c.Calibrate && c.Tools.Calibrate.Path == "" {
		return &ValidationError{Field: "tools.calibrate.path", Message: "required when calibrate is set"}
	}
	if c.RemoveOutliers {
		if c.Tools.Outliers.Path == "" {
			return &ValidationError{Field: "tools.outliers.path", Message: "required when remove_outliers is set"}
		}
		if c.FDR <= 0 || c.FDR >= 1 {
			return &ValidationError{Field: "fdr", Message: fmt.Sprintf("must be in (0, 1), got %g", c.FDR)}
		}
	}
	if c.Timeout < 0 {
		return &ValidationError{Field: "timeout", Message: "must not be negative"}
	}
	if c.Workers < 1 {
		return &ValidationError{Field: "workers", Message: "must be at least 1"}
	}
	if c.WorkDir == "" {
		return &ValidationError{Field: "work_dir", Message: "required"}
	}
	return nil
}

// QuantTypeValue returns the parsed quantification type.
func (c *Config) QuantTypeValue() core.QuantType {
	qt, _ := core.ParseQuantType(c.QuantType)
	return qt
}

// OutcomeValue returns the parsed analysis outcome.
func (c *Config) OutcomeValue() core.Outcome {
	o, _ := core.ParseOutcome(c.Outcome)
	return o
}

// KeyOptions returns the key options.
func (c *Config) KeyOptions() keys.Options {
	return keys.Options{ChargeSensitive: c.Keys.ChargeSensitive, DistinguishModifications: c.Keys.DistinguishModifications}
}

// ClusterParams returns the clustering thresholds.
func (c *Config) ClusterParams() cluster.Params {
	return cluster.Params{
		MinAlignmentScore:             c.Clustering.MinAlignmentScore,
		MinSimilarityPercentage:       c.Clustering.MinSimilarityPercentage,
		MinConsecutiveIdenticalLength: c.Clustering.MinConsecutiveIdenticalLength,
	}
}

// ExecTools returns the tool specs for exttool.Exec.
func (c *Config) ExecTools() exttool.Tools {
	spec := func(t Tool) exttool.ToolSpec { return exttool.ToolSpec{Path: t.Path, Args: t.Args} }
	return exttool.Tools{
		Calibrate: spec(c.Tools.Calibrate),
		Integrate: spec(c.Tools.Integrate),
		Outliers:  spec(c.Tools.Outliers),
	}
}

// Grouper returns the configured protein groups, or nil for the default grouping.
func (c *Config) Grouper() core.Grouper {
	if len(c.Groups) == 0 {
		return nil
	}
	return core.MapGrouper(c.Groups)
}

// Resolve returns path relative to the configuration file's directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.baseDir == "" {
		return path
	}
	return filepath.Join(c.baseDir, path)
}

// ModDatabase returns the built-in modifications plus those of the
// modifications file, if one is configured.
func (c *Config) ModDatabase() (*core.ModDatabase, error) {
	modDB := core.DefaultModDatabase()
	if c.Modifications == "" {
		return modDB, nil
	}
	f, err := os.Open(c.Resolve(c.Modifications))
	if err != nil {
		return nil, fmt.Errorf("failed to open modifications: %w", err)
	}
	defer f.Close()
	if err := modDB.LoadFromCSV(f); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Modifications, err)
	}
	return modDB, nil
}

// CoreExperiments builds the experiments with a file source per replicate.
func (c *Config) CoreExperiments() ([]*core.Experiment, error) {
	modDB, err := c.ModDatabase()
	if err != nil {
		return nil, err
	}

	var exps []*core.Experiment
	for _, e := range c.Experiments {
		ce := &core.Experiment{Name: e.Name}
		for _, r := range e.Replicates {
			ce.Replicates = append(ce.Replicates, &core.Replicate{
				Name:   r.Name,
				Source: psmtsv.FileSource{Path: c.Resolve(r.File), ModDB: modDB},
			})
		}
		exps = append(exps, ce)
	}
	if err := core.ValidateExperiments(exps); err != nil {
		return nil, err
	}
	return exps, nil
}
