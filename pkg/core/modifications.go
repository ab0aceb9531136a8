// Package core provides modification parsing and management
package core

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Modification represents a peptide modification with position and mass shift.
type Modification struct {
	Mass     float64
	Position int    // 0-based residue position; -1 for N-term
	Name     string // Modification name (e.g., "Carbamidomethyl", "Oxidation")
}

// ModDatabase stores modification definitions
type ModDatabase struct {
	mods map[string]float64 // name -> mass shift
}

// NewModDatabase creates an empty modification database
func NewModDatabase() *ModDatabase {
	return &ModDatabase{
		mods: make(map[string]float64),
	}
}

// LoadFromCSV loads modifications from a CSV file (format: mod,massshift,aa)
func (db *ModDatabase) LoadFromCSV(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	// Skip header line
	scanner.Scan()

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return fmt.Errorf("line %d: invalid format, expected at least 2 comma-separated fields", lineNum)
		}

		modName := strings.TrimSpace(parts[0])
		massStr := strings.TrimSpace(parts[1])

		mass, err := strconv.ParseFloat(massStr, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid mass value '%s': %w", lineNum, massStr, err)
		}

		db.mods[modName] = mass
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading CSV: %w", err)
	}

	return nil
}

// GetMass returns the mass shift for a modification name
func (db *ModDatabase) GetMass(name string) (float64, bool) {
	mass, ok := db.mods[name]
	return mass, ok
}

// Add adds or updates a modification
func (db *ModDatabase) Add(name string, mass float64) {
	db.mods[name] = mass
}

// ParseModifiedSequence parses inline modifications such as "PEPM[Oxidation]TIDE",
// "PEPM[+15.9949]TIDE" or "[Acetyl]PEPTIDE". A modification applies to the residue
// before it, or to the N-terminus when it comes first.
func (db *ModDatabase) ParseModifiedSequence(modSeq string) ([]Modification, error) {
	if modSeq == "" {
		return nil, nil
	}

	var mods []Modification
	residue := -1

	for i := 0; i < len(modSeq); i++ {
		c := modSeq[i]
		if c != '[' && c != '(' {
			if isResidue(c) {
				residue++
			}
			continue
		}

		closing := byte(']')
		if c == '(' {
			closing = ')'
		}
		end := strings.IndexByte(modSeq[i+1:], closing)
		if end < 0 {
			return nil, fmt.Errorf("unterminated modification in '%s'", modSeq)
		}
		token := strings.TrimSpace(modSeq[i+1 : i+1+end])
		i += end + 1

		mass, err := strconv.ParseFloat(token, 64)
		if err != nil {
			var ok bool
			mass, ok = db.GetMass(token)
			if !ok {
				return nil, fmt.Errorf("unknown modification '%s'", token)
			}
		}

		mods = append(mods, Modification{
			Mass:     mass,
			Position: residue,
			Name:     token,
		})
	}

	return mods, nil
}

// StripModifications removes inline modifications and anything that is not a residue.
func StripModifications(modSeq string) string {
	var b strings.Builder
	b.Grow(len(modSeq))

	depth := 0
	for i := 0; i < len(modSeq); i++ {
		c := modSeq[i]
		switch {
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0 && isResidue(c):
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isResidue(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

// DefaultModDatabase returns a ModDatabase pre-loaded with common modifications
func DefaultModDatabase() *ModDatabase {
	db := NewModDatabase()

	// Common modifications from unimod
	db.Add("Acetyl", 42.010565)
	db.Add("Amidated", -0.984016)
	db.Add("Carbamidomethyl", 57.021464)
	db.Add("Carbamyl", 43.005814)
	db.Add("Deamidated", 0.984016)
	db.Add("Phospho", 79.966331)
	db.Add("Glu->pyro-Glu", -18.010565)
	db.Add("Gln->pyro-Glu", -17.026549)
	db.Add("Methyl", 14.01565)
	db.Add("Oxidation", 15.994915)
	db.Add("Dimethyl", 28.0313)
	db.Add("Label:13C(6)", 6.020129)
	db.Add("Label:13C(6)15N(2)", 8.014199)
	db.Add("Label:13C(6)15N(4)", 10.008269)
	db.Add("Label:18O(2)", 4.008491)
	db.Add("TMT6plex", 229.162932)
	db.Add("TMT10plex", 229.162932)
	db.Add("TMT11plex", 229.162932)
	db.Add("TMTPro", 304.207146)
	db.Add("TMT16plex", 304.207146)
	db.Add("iTRAQ4plex", 144.102063)
	db.Add("iTRAQ8plex", 304.205360)

	return db
}
