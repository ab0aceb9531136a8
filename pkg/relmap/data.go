package relmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DataHeader is the header line of every data file.
const DataHeader = "#id\tX\tVcal"

// Row is one data file row: a lower-level key, its log2 ratio and fitting weight.
type Row struct {
	Key    string
	X      float64
	Weight float64
}

// WriteData writes rows in the order given.
func WriteData(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, DataHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\n", r.Key, formatFloat(r.X), formatFloat(r.Weight)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteDataFile writes rows to path.
func WriteDataFile(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create data file %s: %w", path, err)
	}
	if err := WriteData(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write data file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close data file %s: %w", path, err)
	}
	return nil
}

// ReadData parses a data file. Columns after the third are ignored so that
// higher-level files produced by the integration tool can be read back.
func ReadData(r io.Reader) ([]Row, error) {
	var rows []Row
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			return nil, fmt.Errorf("line %d: expected 3 tab-separated fields (id, X, Vcal), got %d", lineNum, len(parts))
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid X value '%s': %w", lineNum, parts[1], err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid Vcal value '%s': %w", lineNum, parts[2], err)
		}
		rows = append(rows, Row{Key: parts[0], X: x, Weight: v})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading data file: %w", err)
	}
	return rows, nil
}

// ReadDataFile parses the data file at path.
func ReadDataFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()
	rows, err := ReadData(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// Concat reads and concatenates data files in the order given.
func Concat(paths ...string) ([]Row, error) {
	var all []Row
	for _, p := range paths {
		rows, err := ReadDataFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

// Relabel replaces each row key by its parent in m. Every key must have
// exactly one parent.
func Relabel(rows []Row, m *Map) ([]Row, error) {
	out := make([]Row, len(rows))
	for i, r := range rows {
		parents := m.ParentsOf(r.Key)
		if len(parents) != 1 {
			return nil, fmt.Errorf("key '%s' has %d parents in the merge map, expected 1", r.Key, len(parents))
		}
		out[i] = Row{Key: parents[0], X: r.X, Weight: r.Weight}
	}
	return out, nil
}

// MissingKeys returns the data keys that are not children in m, in row order.
func MissingKeys(rows []Row, m *Map) []string {
	var missing []string
	for _, r := range rows {
		if !m.HasChild(r.Key) {
			missing = append(missing, r.Key)
		}
	}
	return missing
}

// UnusedKeys returns the children of m that no data row carries, sorted.
func UnusedKeys(rows []Row, m *Map) []string {
	present := make(map[string]bool, len(rows))
	for _, r := range rows {
		present[r.Key] = true
	}
	return m.Restrict(func(child string) bool { return !present[child] }).ChildKeys()
}

// CheckDataValidity reports whether every data key appears as a child in m.
func CheckDataValidity(rows []Row, m *Map) bool {
	return len(MissingKeys(rows, m)) == 0
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
