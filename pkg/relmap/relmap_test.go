package relmap

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMapWriteSorted(t *testing.T) {
	m := New("peptide\tspectrum")
	m.Add("PEPB", "s3")
	m.Add("PEPA", "s2")
	m.Add("PEPA", "s1")
	m.Add("PEPA", "s1")

	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := "#peptide\tspectrum\nPEPA\ts1\nPEPA\ts2\nPEPB\ts3\n"
	if buf.String() != want {
		t.Errorf("Write() = %q, want %q", buf.String(), want)
	}
	if m.Len() != 2 || m.Pairs() != 3 {
		t.Errorf("Len() = %d, Pairs() = %d", m.Len(), m.Pairs())
	}
}

func TestMapRoundTrip(t *testing.T) {
	m := New("protein\tpeptide")
	m.Add("P1", "AAAK")
	m.Add("P2", "AAAK")
	m.Add("P2", "CCCK")

	path := filepath.Join(t.TempDir(), "rels.tsv")
	if err := m.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if got.Header != "protein\tpeptide" {
		t.Errorf("Header = %q", got.Header)
	}
	if diff := cmp.Diff([]string{"P1", "P2"}, got.ParentsOf("AAAK")); diff != "" {
		t.Errorf("ParentsOf mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"AAAK", "CCCK"}, got.ChildKeys()); diff != "" {
		t.Errorf("ChildKeys mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRejectsMalformedLine(t *testing.T) {
	_, err := Read(strings.NewReader("#h\nonlyparent\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Read() error = %v, want line 2 error", err)
	}
}

func TestIsIdentity(t *testing.T) {
	id := New("")
	id.Add("A", "A")
	id.Add("B", "B")
	if !id.IsIdentity() {
		t.Error("expected identity map")
	}
	id.Add("B", "C")
	if id.IsIdentity() {
		t.Error("map with an aggregating parent reported as identity")
	}
}

func TestMergeAndRestrict(t *testing.T) {
	a := New("h")
	a.Add("P", "x_R1")
	b := New("other")
	b.Add("P", "x_R2")

	merged := a.Merge(b)
	if merged.Header != "h" {
		t.Errorf("Merge header = %q", merged.Header)
	}
	if diff := cmp.Diff([]string{"x_R1", "x_R2"}, merged.Children("P")); diff != "" {
		t.Errorf("merged children mismatch (-want +got):\n%s", diff)
	}

	r1 := merged.Restrict(func(c string) bool { return strings.HasSuffix(c, "_R1") })
	if diff := cmp.Diff([]string{"x_R1"}, r1.ChildKeys()); diff != "" {
		t.Errorf("restricted children mismatch (-want +got):\n%s", diff)
	}
}

func TestDataRoundTrip(t *testing.T) {
	rows := []Row{
		{Key: "s1", X: 1, Weight: 10},
		{Key: "s2", X: -0.5, Weight: 2.25},
	}
	path := filepath.Join(t.TempDir(), "data.tsv")
	if err := WriteDataFile(path, rows); err != nil {
		t.Fatalf("WriteDataFile() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := "#id\tX\tVcal\ns1\t1\t10\ns2\t-0.5\t2.25\n"; string(raw) != want {
		t.Errorf("data file = %q, want %q", raw, want)
	}

	got, err := ReadDataFile(path)
	if err != nil {
		t.Fatalf("ReadDataFile() error = %v", err)
	}
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestReadDataExtraColumns(t *testing.T) {
	rows, err := ReadData(strings.NewReader("#id\tX\tVcal\tn\nP1\t0.3\t4\t7\n"))
	if err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if diff := cmp.Diff([]Row{{Key: "P1", X: 0.3, Weight: 4}}, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckDataValidity(t *testing.T) {
	m := New("")
	m.Add("PEP", "s1")
	m.Add("PEP", "s2")
	m.Add("PEP2", "s3")

	rows := []Row{{Key: "s1"}, {Key: "s3"}}
	if !CheckDataValidity(rows, m) {
		t.Error("subset of children reported invalid")
	}

	pruned := m.Restrict(func(c string) bool { return c != "s3" })
	if CheckDataValidity(rows, pruned) {
		t.Error("data key missing from relationship reported valid")
	}
	if diff := cmp.Diff([]string{"s3"}, MissingKeys(rows, pruned)); diff != "" {
		t.Errorf("MissingKeys mismatch (-want +got):\n%s", diff)
	}
}

func TestUnusedKeys(t *testing.T) {
	m := New("")
	m.Add("PEP", "s1")
	m.Add("PEP", "s2")
	m.Add("PEP2", "s3")
	m.Add("PEP3", "s3")

	tests := []struct {
		name string
		rows []Row
		want []string
	}{
		{"all used", []Row{{Key: "s1"}, {Key: "s2"}, {Key: "s3"}}, []string{}},
		{"child shared by two parents", []Row{{Key: "s1"}, {Key: "s2"}}, []string{"s3"}},
		{"no data", nil, []string{"s1", "s2", "s3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, UnusedKeys(tt.rows, m)); diff != "" {
				t.Errorf("UnusedKeys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRelabel(t *testing.T) {
	m := New("")
	m.Add("PEP_E1", "PEP_R1_E1")
	m.Add("PEP_E1", "PEP_R2_E1")

	got, err := Relabel([]Row{{Key: "PEP_R1_E1", X: 1}, {Key: "PEP_R2_E1", X: 2}}, m)
	if err != nil {
		t.Fatalf("Relabel() error = %v", err)
	}
	want := []Row{{Key: "PEP_E1", X: 1}, {Key: "PEP_E1", X: 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Relabel mismatch (-want +got):\n%s", diff)
	}

	if _, err := Relabel([]Row{{Key: "unknown"}}, m); err == nil {
		t.Error("expected error for key without parent")
	}
}

func TestConcat(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.tsv")
	b := filepath.Join(dir, "b.tsv")
	if err := WriteDataFile(a, []Row{{Key: "x", X: 1, Weight: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := WriteDataFile(b, []Row{{Key: "y", X: 2, Weight: 1}}); err != nil {
		t.Fatal(err)
	}
	rows, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if len(rows) != 2 || rows[0].Key != "x" || rows[1].Key != "y" {
		t.Errorf("Concat() = %+v", rows)
	}
	if _, err := Concat(a, filepath.Join(dir, "missing.tsv")); err == nil {
		t.Error("expected error for missing file")
	}
}
