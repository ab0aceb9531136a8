package psmtsv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ChrisMcGann/hquant/pkg/core"
)

const isobaricTable = "RawFile\tScan\tSequence\tCharge\tProteins\tIonSerie\tIonNumber\tRatio\tIntensity\n" +
	"run1\t100\tPEPTIDEK\t2\tP1;P2\tTMT\t127\t1.5\t2000\n" +
	"run1\t100\tPEPTIDEK\t2\tP1;P2\tTMT\t128\t0.5\t1000\n" +
	"\n" +
	"run1\t101\tAAAK\t3\tP3\tTMT\t127\t2\t500\n"

func TestReaderGroupsChannels(t *testing.T) {
	r := NewReader(strings.NewReader(isobaricTable), nil)

	var got []*core.PSM
	for r.Next() {
		got = append(got, r.PSM())
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}

	want := []*core.PSM{
		{RawFile: "run1", Scan: "100", Sequence: "PEPTIDEK", Charge: 2, Proteins: []string{"P1", "P2"}, Ratios: []core.Ratio{
			{IonSerieType: "TMT", IonNumber: 127, Value: 1.5, Intensity: 2000},
			{IonSerieType: "TMT", IonNumber: 128, Value: 0.5, Intensity: 1000},
		}},
		{RawFile: "run1", Scan: "101", Sequence: "AAAK", Charge: 3, Proteins: []string{"P3"}, Ratios: []core.Ratio{
			{IonSerieType: "TMT", IonNumber: 127, Value: 2, Intensity: 500},
		}},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(core.PSM{}, "PrecursorMass")); diff != "" {
		t.Errorf("PSMs mismatch (-want +got):\n%s", diff)
	}
}

func TestReaderPrecursorMass(t *testing.T) {
	modDB := core.NewModDatabase()
	modDB.Add("Label", 8.0142)

	table := "ModifiedSequence\tRatio\nAAAK[Label]\t1\n"
	r := NewReader(strings.NewReader(table), modDB)
	if !r.Next() {
		t.Fatalf("Next() = false, Err() = %v", r.Err())
	}
	want := core.CalculateNeutralMass("AAAK", []core.Modification{{Mass: 8.0142, Position: 3, Name: "Label"}})
	if got := r.PSM().PrecursorMass; got != want {
		t.Errorf("PrecursorMass = %v, want %v", got, want)
	}

	// The default database does not know the label.
	r = NewReader(strings.NewReader(table), nil)
	if r.Next() || r.Err() == nil || !strings.Contains(r.Err().Error(), "Label") {
		t.Errorf("Err() = %v, want unknown modification", r.Err())
	}
}

func TestReaderFlags(t *testing.T) {
	table := "modifiedsequence\tcharge\tratio\tdiscarded\thasptm\tprecursormass\tweight\n" +
		"PEPM[Oxidation]K\t2\t3\ttrue\t1\t612.5\t0.7\n"
	r := NewReader(strings.NewReader(table), nil)
	if !r.Next() {
		t.Fatalf("Next() = false, Err() = %v", r.Err())
	}
	p := r.PSM()
	if !p.Discarded || !p.HasPTM || p.PrecursorMass != 612.5 || p.Ratios[0].Weight != 0.7 {
		t.Errorf("PSM = %+v", p)
	}
	if p.PlainSequence() != "PEPMK" {
		t.Errorf("PlainSequence() = %q", p.PlainSequence())
	}
	if r.Next() {
		t.Error("Next() returned a second PSM")
	}
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		table string
		want  string
	}{
		{"no ratio column", "Sequence\tCharge\nAAAK\t2\n", "Ratio column"},
		{"no sequence column", "Charge\tRatio\n2\t1\n", "Sequence"},
		{"bad charge", "Sequence\tCharge\tRatio\nAAAK\tx\t1\n", "line 2"},
		{"bad ratio", "Sequence\tRatio\nAAAK\t1\nCCCK\tabc\n", "line 3"},
		{"missing ratio", "Sequence\tRatio\nAAAK\t\n", "missing ratio"},
		{"bad flag", "Sequence\tRatio\tDiscarded\nAAAK\t1\tmaybe\n", "discarded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.table), nil)
			for r.Next() {
			}
			if r.Err() == nil || !strings.Contains(r.Err().Error(), tt.want) {
				t.Errorf("Err() = %v, want error containing %q", r.Err(), tt.want)
			}
		})
	}
}

func TestReaderEmptyInput(t *testing.T) {
	r := NewReader(strings.NewReader(""), nil)
	if r.Next() || r.Err() != nil {
		t.Errorf("empty input: Next() true or Err() = %v", r.Err())
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "psms.tsv")
	if err := os.WriteFile(path, []byte(isobaricTable), 0o644); err != nil {
		t.Fatal(err)
	}
	psms, err := FileSource{Path: path}.PSMs()
	if err != nil {
		t.Fatalf("PSMs() error = %v", err)
	}
	if len(psms) != 2 {
		t.Errorf("PSMs() returned %d PSMs, want 2", len(psms))
	}

	if _, err := (FileSource{Path: filepath.Join(t.TempDir(), "missing.tsv")}).PSMs(); err == nil {
		t.Error("expected error for missing file")
	}
}
