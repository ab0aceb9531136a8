package integrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ChrisMcGann/hquant/pkg/core"
	"github.com/ChrisMcGann/hquant/pkg/exttool"
	"github.com/ChrisMcGann/hquant/pkg/keys"
	"github.com/ChrisMcGann/hquant/pkg/level"
	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

type call struct {
	Tool string
	Req  exttool.Request
}

// fakeRunner averages child rows into their parents and records every call.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []call
	timeouts  map[string]int // Prefix -> timeouts left to report
	failCalib bool
	variance  float64
	noInfo    bool // Integrate writes no info file

	// hold blocks the integration with this prefix until release is closed.
	hold    string
	started chan struct{}
	release chan struct{}
}

func (f *fakeRunner) record(tool string, req exttool.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Tool: tool, Req: req})
}

func (f *fakeRunner) Calls(tool string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRunner) Calibrate(_ context.Context, req exttool.Request) (*exttool.Result, error) {
	f.record("calibrate", req)
	if f.failCalib {
		return nil, &exttool.ToolError{Tool: "calibrate", ExitCode: 2}
	}
	b, err := os.ReadFile(req.DataFile)
	if err != nil {
		return nil, err
	}
	a := req.Artifacts()
	if err := os.WriteFile(a.Calibrated, b, 0o644); err != nil {
		return nil, err
	}
	return &exttool.Result{Artifacts: a}, nil
}

func (f *fakeRunner) Integrate(_ context.Context, req exttool.Request) (*exttool.Result, error) {
	f.record("integrate", req)
	a := req.Artifacts()
	if f.hold != "" && req.Prefix == f.hold {
		close(f.started)
		<-f.release
	}

	f.mu.Lock()
	timeout := f.timeouts[req.Prefix] > 0
	if timeout {
		f.timeouts[req.Prefix]--
	}
	f.mu.Unlock()
	if timeout {
		os.WriteFile(a.HigherLevel, []byte("partial"), 0o644)
		return nil, &exttool.ToolError{Tool: "integrate", ExitCode: exttool.TimeoutExitCode, Timeout: true}
	}

	rows, err := relmap.ReadDataFile(req.DataFile)
	if err != nil {
		return nil, err
	}
	parentsOf := func(k string) []string { return []string{k} }
	if !req.NoRelationship {
		rm, err := relmap.ReadFile(req.RelFile)
		if err != nil {
			return nil, err
		}
		parentsOf = rm.ParentsOf
	}
	sums := make(map[string][]float64)
	for _, r := range rows {
		for _, p := range parentsOf(r.Key) {
			sums[p] = append(sums[p], r.X)
		}
	}
	var out []relmap.Row
	for k, xs := range sums {
		var s float64
		for _, x := range xs {
			s += x
		}
		out = append(out, relmap.Row{Key: k, X: s / float64(len(xs)), Weight: float64(len(xs))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if err := relmap.WriteDataFile(a.HigherLevel, out); err != nil {
		return nil, err
	}

	stats := "id\tX\tFDR\n"
	for _, r := range out {
		stats += fmt.Sprintf("%s\t%g\t0.5\n", r.Key, r.X)
	}
	if err := os.WriteFile(a.Stats, []byte(stats), 0o644); err != nil {
		return nil, err
	}

	v := f.variance
	if req.ForcedVariance != nil {
		v = *req.ForcedVariance
	}
	if !f.noInfo {
		if err := os.WriteFile(a.Info, []byte(fmt.Sprintf("Variance = %g\n", v)), 0o644); err != nil {
			return nil, err
		}
	}
	return exttool.Collect(req)
}

func (f *fakeRunner) RemoveOutliers(_ context.Context, req exttool.Request) (*exttool.Result, error) {
	f.record("outliers", req)
	a := req.Artifacts()
	b, err := os.ReadFile(req.RelFile)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(a.CleanRels, b, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(a.Stats, []byte("id\tX\tFDR\nx\t0.1\t0.5\n"), 0o644); err != nil {
		return nil, err
	}
	return &exttool.Result{Artifacts: a}, nil
}

func psm(raw, scan, seq string, proteins []string, value float64) *core.PSM {
	return &core.PSM{RawFile: raw, Scan: scan, Sequence: seq, Charge: 2, Proteins: proteins,
		Ratios: []core.Ratio{{Value: value, Weight: 1}}}
}

func twoExperiments() []*core.Experiment {
	return []*core.Experiment{
		{Name: "A", Replicates: []*core.Replicate{
			{Name: "R1", Source: core.StaticSource{psm("a1", "1", "AAAK", []string{"P1"}, 2), psm("a1", "2", "CCCK", []string{"P1"}, 4)}},
			{Name: "R2", Source: core.StaticSource{psm("a2", "1", "AAAK", []string{"P1"}, 8)}},
		}},
		{Name: "B", Replicates: []*core.Replicate{
			{Name: "R1", Source: core.StaticSource{psm("b1", "7", "AAAK", []string{"P1"}, 1)}},
		}},
	}
}

func setup(t *testing.T, exps []*core.Experiment, outcome core.Outcome) (*level.Files, string) {
	t.Helper()
	return setupWith(t, exps, level.Options{QuantType: core.QuantIsotopologue, Outcome: outcome, Keys: keys.DefaultOptions()})
}

func setupWith(t *testing.T, exps []*core.Experiment, opts level.Options) (*level.Files, string) {
	t.Helper()
	m, err := level.NewModel(exps, opts, nil)
	if err != nil {
		t.Fatalf("NewModel() error = %v", err)
	}
	dir := t.TempDir()
	files, _, err := m.WriteFiles(dir, true)
	if err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}
	return files, dir
}

func TestRunFullPipeline(t *testing.T) {
	files, dir := setup(t, twoExperiments(), core.OutcomeProtein)
	runner := &fakeRunner{variance: 0.04}
	o, err := New(Config{Runner: runner, WorkDir: dir, Calibrate: true, RemoveOutliers: true, FDR: 0.01, Workers: 3})
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Merged == nil {
		t.Fatal("experiments were not merged")
	}
	rows, err := relmap.ReadDataFile(res.Merged.HigherLevel)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Key != keys.All {
		t.Errorf("merged rows = %+v, want one %q row", rows, keys.All)
	}
	for _, sr := range res.Final() {
		if len(sr.Stats) != 1 || sr.Stats[0].ID != keys.All || sr.Stats[0].FDR != 0.5 {
			t.Errorf("final %s stats = %+v, want one %q row", sr.Dataset, sr.Stats, keys.All)
		}
	}

	a := res.Experiments[0]
	var got []string
	for _, sr := range a.Steps {
		got = append(got, fmt.Sprintf("%s merge=%v", sr.Level, sr.Merge))
	}
	want := []string{"replicate merge=true", "entity merge=false", "all merge=false"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("experiment A steps mismatch (-want +got):\n%s", diff)
	}
	if len(res.Experiments[1].Steps) != 2 {
		t.Errorf("single replicate experiment ran %d steps, want entity and all", len(res.Experiments[1].Steps))
	}

	// Calibration and outliers run on relationship steps only, outliers not on the top level.
	if n := len(runner.Calls("calibrate")); n != 7 {
		t.Errorf("calibrate calls = %d, want 7", n)
	}
	if n := len(runner.Calls("outliers")); n != 5 {
		t.Errorf("outlier calls = %d, want 5", n)
	}
	for _, c := range runner.Calls("integrate") {
		if strings.HasSuffix(c.Req.Prefix, "_clean") {
			if c.Req.ForcedVariance == nil || *c.Req.ForcedVariance != 0.04 {
				t.Errorf("re-integration %s did not force the estimated variance", c.Req.Prefix)
			}
		}
		if strings.HasSuffix(c.Req.Prefix, "_merge") && !c.Req.NoRelationship {
			t.Errorf("merge %s ran with a relationship file", c.Req.Prefix)
		}
	}
	for _, c := range runner.Calls("outliers") {
		if c.Req.InfoFile != filepath.Join(dir, c.Req.Prefix+exttool.SuffixInfo) {
			t.Errorf("outlier removal %s got info file %q", c.Req.Prefix, c.Req.InfoFile)
		}
	}

	entity := a.Steps[1]
	wantTrace := []State{AwaitingCalibration, Calibrated, Integrated, OutlierCheck, ReIntegrated, NextLevel}
	if diff := cmp.Diff(wantTrace, entity.Trace); diff != "" {
		t.Errorf("entity trace mismatch (-want +got):\n%s", diff)
	}
	if len(entity.Stats) != 1 || entity.Stats[0].ID != "P1_A" {
		t.Errorf("entity stats = %+v, want the re-integrated P1_A row", entity.Stats)
	}
	top := a.Final
	if diff := cmp.Diff([]State{AwaitingCalibration, Calibrated, Integrated, Done}, top.Trace); diff != "" {
		t.Errorf("top trace mismatch (-want +got):\n%s", diff)
	}
}

func TestSingleReplicatePromoted(t *testing.T) {
	exps := []*core.Experiment{{Name: "only", Replicates: []*core.Replicate{
		{Source: core.StaticSource{psm("r", "1", "PEPTIDE", nil, 2), psm("r", "2", "PEPTIDE", nil, 4)}},
	}}}
	files, dir := setup(t, exps, core.OutcomePeptide)
	runner := &fakeRunner{}
	o, err := New(Config{Runner: runner, WorkDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Merged != nil {
		t.Error("single experiment was merged")
	}
	calls := runner.Calls("integrate")
	if len(calls) != 2 {
		t.Fatalf("integrate calls = %d, want spectrum and all", len(calls))
	}
	final := res.Final()[0]
	s, err := Summarize(final)
	if err != nil {
		t.Fatal(err)
	}
	if s.N != 1 || s.Mean != 1.5 {
		t.Errorf("Summarize() = %+v, want one row with mean 1.5", s)
	}
}

func TestIntegrationTimeoutRetry(t *testing.T) {
	files, dir := setup(t, twoExperiments()[1:], core.OutcomeProtein)
	prefix := files.Experiments[0].Branches[0].Dataset.Label + "_spectrum"

	runner := &fakeRunner{timeouts: map[string]int{prefix: 1}, variance: 0.3}
	o, err := New(Config{Runner: runner, WorkDir: dir, Timeout: 30 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var spectrum []call
	for _, c := range runner.Calls("integrate") {
		if c.Req.Prefix == prefix {
			spectrum = append(spectrum, c)
		}
	}
	if len(spectrum) != 2 {
		t.Fatalf("spectrum integrations = %d, want 2", len(spectrum))
	}
	if spectrum[0].Req.ForcedVariance != nil {
		t.Error("first attempt forced a variance")
	}
	if v := spectrum[1].Req.ForcedVariance; v == nil || *v != 0 {
		t.Errorf("retry variance = %v, want forced 0", v)
	}
	step := res.Experiments[0].Branches[0][0]
	if !step.Retried || step.Variance != 0 {
		t.Errorf("step = %+v, want retried with variance 0", step)
	}
}

func TestIntegrationSecondTimeoutFails(t *testing.T) {
	files, dir := setup(t, twoExperiments()[1:], core.OutcomeProtein)
	prefix := files.Experiments[0].Branches[0].Dataset.Label + "_spectrum"

	runner := &fakeRunner{timeouts: map[string]int{prefix: 2}}
	o, err := New(Config{Runner: runner, WorkDir: dir, Timeout: 30 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.Run(context.Background(), files)
	if err == nil {
		t.Fatal("expected error after two timeouts")
	}
	if !strings.Contains(err.Error(), "30s") {
		t.Errorf("error %q does not name the timeout", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Level != level.Spectrum {
		t.Errorf("error %v is not a spectrum StepError", err)
	}
	if n := len(runner.Calls("integrate")); n != 2 {
		t.Errorf("integrate calls = %d, want exactly 2", n)
	}
}

func TestConsistencyErrorNotRetried(t *testing.T) {
	files, dir := setup(t, twoExperiments()[1:], core.OutcomeProtein)
	bf := files.Experiments[0].Branches[0]
	rows, err := relmap.ReadDataFile(bf.Data)
	if err != nil {
		t.Fatal(err)
	}
	rows = append(rows, relmap.Row{Key: "stray", X: 1, Weight: 1})
	if err := relmap.WriteDataFile(bf.Data, rows); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	o, err := New(Config{Runner: runner, WorkDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.Run(context.Background(), files)
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("Run() error = %v, want ConsistencyError", err)
	}
	if diff := cmp.Diff([]string{"stray"}, ce.Missing); diff != "" {
		t.Errorf("missing keys mismatch (-want +got):\n%s", diff)
	}
	if n := len(runner.Calls("integrate")); n != 0 {
		t.Errorf("integrate called %d times despite inconsistent data", n)
	}
}

func TestCalibrationFailureFatal(t *testing.T) {
	files, dir := setup(t, twoExperiments()[1:], core.OutcomeProtein)
	runner := &fakeRunner{failCalib: true}
	o, err := New(Config{Runner: runner, WorkDir: dir, Calibrate: true})
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.Run(context.Background(), files)
	var ce *CalibrationError
	if !errors.As(err, &ce) {
		t.Fatalf("Run() error = %v, want CalibrationError", err)
	}
	if n := len(runner.Calls("calibrate")); n != 1 {
		t.Errorf("calibrate calls = %d, want 1", n)
	}
}

func TestResumeReusesOutputs(t *testing.T) {
	files, dir := setup(t, twoExperiments(), core.OutcomeProtein)
	first := &fakeRunner{variance: 0.2}
	o, err := New(Config{Runner: first, WorkDir: dir, RemoveOutliers: true, FDR: 0.05})
	if err != nil {
		t.Fatal(err)
	}
	want, err := o.Run(context.Background(), files)
	if err != nil {
		t.Fatal(err)
	}

	second := &fakeRunner{}
	o, err = New(Config{Runner: second, WorkDir: dir, RemoveOutliers: true, FDR: 0.05})
	if err != nil {
		t.Fatal(err)
	}
	got, err := o.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if len(second.calls) != 0 {
		t.Errorf("resumed run made %d tool calls", len(second.calls))
	}
	for _, sr := range got.Steps() {
		if !sr.Reused {
			t.Errorf("%s %s was not reused", sr.Dataset, sr.Level)
		}
	}
	if got.Merged.HigherLevel != want.Merged.HigherLevel || got.Merged.Variance != want.Merged.Variance {
		t.Errorf("resumed merge = %+v, want %+v", got.Merged, want.Merged)
	}
	if diff := cmp.Diff(want.Merged.Stats, got.Merged.Stats); diff != "" {
		t.Errorf("resumed merge stats mismatch (-want +got):\n%s", diff)
	}
	wantEntity, gotEntity := want.Experiments[0].Steps[1], got.Experiments[0].Steps[1]
	if diff := cmp.Diff(wantEntity.Stats, gotEntity.Stats); diff != "" {
		t.Errorf("resumed entity stats mismatch (-want +got):\n%s", diff)
	}
}

func TestKeepExperimentsSeparate(t *testing.T) {
	files, dir := setupWith(t, twoExperiments(), level.Options{
		QuantType:               core.QuantIsotopologue,
		Outcome:                 core.OutcomeProtein,
		Keys:                    keys.DefaultOptions(),
		KeepExperimentsSeparate: true,
	})
	if files.Merge != nil {
		t.Fatal("experiment merge file written for separate experiments")
	}

	runner := &fakeRunner{variance: 0.1}
	o, err := New(Config{Runner: runner, WorkDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Merged != nil {
		t.Error("separate experiments were merged")
	}

	final := res.Final()
	var got []string
	for _, sr := range final {
		got = append(got, fmt.Sprintf("%s %s merge=%v", sr.Experiment, sr.Level, sr.Merge))
		if id := keys.Suffix(keys.All, "", sr.Experiment); len(sr.Stats) != 1 || sr.Stats[0].ID != id {
			t.Errorf("%s final stats = %+v, want one %q row", sr.Experiment, sr.Stats, id)
		}
	}
	want := []string{"A all merge=false", "B all merge=false"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("final results mismatch (-want +got):\n%s", diff)
	}
	for _, c := range runner.Calls("integrate") {
		if strings.HasPrefix(c.Req.Prefix, level.MergeLabel) {
			t.Errorf("cross-experiment integration %s ran", c.Req.Prefix)
		}
	}
}

func TestOutliersWithoutInfoFile(t *testing.T) {
	files, dir := setup(t, twoExperiments()[1:], core.OutcomeProtein)
	runner := &fakeRunner{noInfo: true}
	o, err := New(Config{Runner: runner, WorkDir: dir, RemoveOutliers: true, FDR: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	calls := runner.Calls("outliers")
	if len(calls) == 0 {
		t.Fatal("outlier removal never ran")
	}
	for _, c := range calls {
		if c.Req.InfoFile != "" {
			t.Errorf("outlier removal %s was passed missing info file %q", c.Req.Prefix, c.Req.InfoFile)
		}
	}
	for _, sr := range res.Steps() {
		if sr.InfoFile != "" {
			t.Errorf("%s %s InfoFile = %q, want none", sr.Dataset, sr.Level, sr.InfoFile)
		}
	}
}

func TestCancelLetsRunningCallFinish(t *testing.T) {
	files, dir := setup(t, twoExperiments()[1:], core.OutcomeProtein)
	prefix := files.Experiments[0].Branches[0].Dataset.Label + "_spectrum"
	runner := &fakeRunner{hold: prefix, started: make(chan struct{}), release: make(chan struct{})}
	o, err := New(Config{Runner: runner, WorkDir: dir})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := o.Run(ctx, files)
		errc <- err
	}()
	<-runner.started
	cancel()
	close(runner.release)
	err = <-errc

	var se *StepError
	if !errors.As(err, &se) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want a cancelled StepError", err)
	}
	if se.Level != level.Entity || se.Dataset != files.Experiments[0].Label {
		t.Errorf("cancelled at %s %s, want the entity level of %s", se.Level, se.Dataset, files.Experiments[0].Label)
	}
	if n := len(runner.Calls("integrate")); n != 1 {
		t.Errorf("integrate calls = %d, want only the running one", n)
	}
	if _, err := os.Stat(filepath.Join(dir, prefix+exttool.SuffixHigherLevel)); err != nil {
		t.Errorf("running call did not finish: %v", err)
	}
}

func TestCancelledRunSchedulesNothing(t *testing.T) {
	files, dir := setup(t, twoExperiments(), core.OutcomeProtein)
	runner := &fakeRunner{}
	o, err := New(Config{Runner: runner, WorkDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Run(ctx, files)
	var se *StepError
	if !errors.Is(err, context.Canceled) || !errors.As(err, &se) {
		t.Errorf("Run() error = %v, want a StepError wrapping context.Canceled", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("cancelled run made %d tool calls", len(runner.calls))
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without a runner")
	}
	if _, err := New(Config{Runner: &fakeRunner{}, RemoveOutliers: true}); err == nil {
		t.Error("expected error for outlier removal without an FDR")
	}
}
