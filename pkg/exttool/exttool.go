// Package exttool invokes the external calibration, integration and outlier
// removal programs that do the statistics of each level transition.
//
// Every program is called with the same flag set:
//
//	-data <file> -prefix <prefix> -outdir <dir> [-rels <file>] [-info <file>]
//	[-variance <v>] [-iterations <n>] [-fdr <f>] [-norels]
//
// and writes its outputs as <dir>/<prefix>_<artifact>. Exiting with
// TimeoutExitCode reports a timeout, the same as exceeding the wall clock.
package exttool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TimeoutExitCode is the exit code that signals a timed out tool run.
const TimeoutExitCode = 124

// Artifact file suffixes.
const (
	SuffixCalibrated  = "_calibrated.tsv"
	SuffixInfo        = "_infoFile.txt"
	SuffixHigherLevel = "_higherLevel.tsv"
	SuffixStats       = "_outStats.tsv"
	SuffixCleanRels   = "_cleanRels.tsv"
)

// Request describes one tool invocation.
type Request struct {
	WorkDir  string
	DataFile string
	RelFile  string // Empty with NoRelationship
	InfoFile string // Info file of a previous run, for outlier removal
	Prefix   string

	// ForcedVariance skips variance estimation when set.
	ForcedVariance *float64
	MaxIterations  int
	FDR            float64
	// NoRelationship integrates rows sharing an identifier into one value and
	// corrects for multiple loading.
	NoRelationship bool
}

// Artifacts lists the output paths a request produces.
type Artifacts struct {
	Calibrated  string
	Info        string
	HigherLevel string
	Stats       string
	CleanRels   string
}

// Artifacts returns the output paths of r.
func (r Request) Artifacts() Artifacts {
	base := filepath.Join(r.WorkDir, r.Prefix)
	return Artifacts{
		Calibrated:  base + SuffixCalibrated,
		Info:        base + SuffixInfo,
		HigherLevel: base + SuffixHigherLevel,
		Stats:       base + SuffixStats,
		CleanRels:   base + SuffixCleanRels,
	}
}

// All returns every artifact path.
func (a Artifacts) All() []string {
	return []string{a.Calibrated, a.Info, a.HigherLevel, a.Stats, a.CleanRels}
}

// Variance returns a variance pointer for Request.ForcedVariance.
func Variance(v float64) *float64 {
	return &v
}

// Result is the outcome of a successful tool run.
type Result struct {
	Artifacts
	// Variance is read from the info file; zero when the tool wrote none.
	Variance float64
	// Rows holds the per-row statistics (id, X, FDR) when the tool wrote them.
	Rows []Stat
}

// Runner runs the three external tools.
type Runner interface {
	Calibrate(ctx context.Context, req Request) (*Result, error)
	Integrate(ctx context.Context, req Request) (*Result, error)
	RemoveOutliers(ctx context.Context, req Request) (*Result, error)
}

// RemovePartial deletes whatever outputs a failed run of req left behind.
func RemovePartial(req Request) error {
	for _, p := range req.Artifacts().All() {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove partial output %s", p)
		}
	}
	return nil
}

// ReadVariance parses the "Variance = <value>" line of an info file.
func ReadVariance(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open info file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "variance") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "%s: invalid variance", path)
		}
		return v, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrapf(err, "read %s", path)
	}
	return 0, errors.Errorf("%s: no variance line", path)
}

// Stat is one row of a statistics file.
type Stat struct {
	ID  string
	X   float64
	FDR float64
}

// ReadStats parses a statistics file. The header names the id, X and FDR
// columns; other columns are ignored.
func ReadStats(path string) ([]Stat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open stats file")
	}
	defer f.Close()

	var (
		stats  []Stat
		cols   map[string]int
		lineNo int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if cols == nil {
			cols = make(map[string]int)
			for i, h := range fields {
				cols[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "#"))] = i
			}
			for _, want := range []string{"id", "x", "fdr"} {
				if _, ok := cols[want]; !ok {
					return nil, errors.Errorf("%s: header has no %s column", path, want)
				}
			}
			continue
		}
		s, err := parseStat(fields, cols)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: line %d", path, lineNo)
		}
		stats = append(stats, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return stats, nil
}

func parseStat(fields []string, cols map[string]int) (Stat, error) {
	get := func(name string) (string, error) {
		i := cols[name]
		if i >= len(fields) {
			return "", fmt.Errorf("missing %s column", name)
		}
		return strings.TrimSpace(fields[i]), nil
	}
	id, err := get("id")
	if err != nil {
		return Stat{}, err
	}
	xs, err := get("x")
	if err != nil {
		return Stat{}, err
	}
	fs, err := get("fdr")
	if err != nil {
		return Stat{}, err
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return Stat{}, errors.Wrap(err, "invalid X")
	}
	fdr, err := strconv.ParseFloat(fs, 64)
	if err != nil {
		return Stat{}, errors.Wrap(err, "invalid FDR")
	}
	return Stat{ID: id, X: x, FDR: fdr}, nil
}
