// Package psmtsv provides streaming readers for tab-separated quantified PSM tables
//
// The first line is a header naming the columns. Recognized columns (case-insensitive):
//
//	RawFile, Scan, Sequence, ModifiedSequence, Charge, Proteins (';'-separated),
//	IonSerie, IonNumber, Ratio, Intensity, Weight, Discarded, HasPTM, PrecursorMass
//
// Sequence or ModifiedSequence and Ratio are required. Consecutive rows sharing
// raw file, scan, sequence and charge are one PSM with one ratio per row, which
// is how isobaric reporter channels are listed.
package psmtsv

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/hquant/pkg/core"
)

// Reader provides streaming access to PSM tables
type Reader struct {
	scanner *bufio.Scanner
	modDB   *core.ModDatabase
	cols    map[string]int
	lineNum int
	pending *row
	current *core.PSM
	err     error
}

type row struct {
	psm   *core.PSM
	ratio core.Ratio
	line  int
}

// NewReader creates a new PSM table reader. modDB resolves modification names
// when a precursor mass has to be computed from the modified sequence.
func NewReader(r io.Reader, modDB *core.ModDatabase) *Reader {
	if modDB == nil {
		modDB = core.DefaultModDatabase()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{scanner: scanner, modDB: modDB}
}

// Next advances to the next PSM. Returns false when no more PSMs or error.
func (r *Reader) Next() bool {
	r.current = nil
	if r.err != nil {
		return false
	}
	if r.cols == nil {
		if err := r.readHeader(); err != nil {
			if err != io.EOF {
				r.err = err
			}
			return false
		}
	}

	first := r.pending
	r.pending = nil
	if first == nil {
		var err error
		first, err = r.readRow()
		if err != nil {
			if err != io.EOF {
				r.err = err
			}
			return false
		}
	}

	psm := first.psm
	psm.Ratios = append(psm.Ratios, first.ratio)
	for {
		next, err := r.readRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.err = err
			return false
		}
		if !samePSM(psm, next.psm) {
			r.pending = next
			break
		}
		psm.Ratios = append(psm.Ratios, next.ratio)
	}

	// Ratio values are left to the filter; only identity is checked here.
	if psm.FullSequence() == "" {
		r.err = fmt.Errorf("line %d: PSM without sequence", first.line)
		return false
	}

	// Recalculate the precursor mass from sequence and modifications
	if psm.PrecursorMass == 0 {
		mods, err := r.modDB.ParseModifiedSequence(psm.ModifiedSequence)
		if err != nil {
			r.err = fmt.Errorf("line %d: %w", first.line, err)
			return false
		}
		psm.PrecursorMass = core.CalculateNeutralMass(psm.PlainSequence(), mods)
	}
	r.current = psm
	return true
}

// PSM returns the current PSM
func (r *Reader) PSM() *core.PSM {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// readHeader maps column names to indices
func (r *Reader) readHeader() error {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.cols = make(map[string]int)
		for i, name := range strings.Split(line, "\t") {
			r.cols[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))] = i
		}
		if !r.has("sequence") && !r.has("modifiedsequence") {
			return fmt.Errorf("line %d: header needs a Sequence or ModifiedSequence column", r.lineNum)
		}
		if !r.has("ratio") {
			return fmt.Errorf("line %d: header needs a Ratio column", r.lineNum)
		}
		return nil
	}
	if err := r.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// readRow parses the next non-empty data line
func (r *Reader) readRow() (*row, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rw, err := r.parseRow(strings.Split(line, "\t"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
		}
		rw.line = r.lineNum
		return rw, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *Reader) parseRow(fields []string) (*row, error) {
	get := func(name string) string {
		i, ok := r.cols[name]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	psm := &core.PSM{
		RawFile:          get("rawfile"),
		Scan:             get("scan"),
		Sequence:         get("sequence"),
		ModifiedSequence: get("modifiedsequence"),
	}

	var err error
	if psm.Charge, err = parseInt(get("charge"), "charge"); err != nil {
		return nil, err
	}
	if prots := get("proteins"); prots != "" {
		for _, acc := range strings.Split(prots, ";") {
			if acc = strings.TrimSpace(acc); acc != "" {
				psm.Proteins = append(psm.Proteins, acc)
			}
		}
	}
	if psm.Discarded, err = parseBool(get("discarded"), "discarded"); err != nil {
		return nil, err
	}
	if psm.HasPTM, err = parseBool(get("hasptm"), "hasptm"); err != nil {
		return nil, err
	}
	if psm.PrecursorMass, err = parseFloat(get("precursormass"), "precursor mass"); err != nil {
		return nil, err
	}

	ratio := core.Ratio{IonSerieType: get("ionserie")}
	if ratio.IonNumber, err = parseInt(get("ionnumber"), "ion number"); err != nil {
		return nil, err
	}
	rs := get("ratio")
	if rs == "" {
		return nil, fmt.Errorf("missing ratio")
	}
	if ratio.Value, err = parseFloat(rs, "ratio"); err != nil {
		return nil, err
	}
	if ratio.Intensity, err = parseFloat(get("intensity"), "intensity"); err != nil {
		return nil, err
	}
	if ratio.Weight, err = parseFloat(get("weight"), "weight"); err != nil {
		return nil, err
	}

	return &row{psm: psm, ratio: ratio}, nil
}

// samePSM reports whether b continues the PSM a
func samePSM(a, b *core.PSM) bool {
	return a.RawFile == b.RawFile && a.Scan == b.Scan &&
		a.FullSequence() == b.FullSequence() && a.Charge == b.Charge
}

func (r *Reader) has(name string) bool {
	_, ok := r.cols[name]
	return ok
}

func parseInt(s, what string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", what, s, err)
	}
	return n, nil
}

func parseFloat(s, what string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", what, s, err)
	}
	return v, nil
}

func parseBool(s, what string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "false", "no":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	}
	return false, fmt.Errorf("invalid %s flag '%s'", what, s)
}

// FileSource reads the PSMs of one replicate from a table on disk.
type FileSource struct {
	Path  string
	ModDB *core.ModDatabase // nil uses the default modifications
}

// PSMs implements core.Source.
func (s FileSource) PSMs() ([]*core.PSM, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PSM file: %w", err)
	}
	defer f.Close()

	var psms []*core.PSM
	r := NewReader(f, s.ModDB)
	for r.Next() {
		psms = append(psms, r.PSM())
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return psms, nil
}
