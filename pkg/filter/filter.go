// Package filter provides PSM filtering applied before keys are built
package filter

import (
	"math"
	"strings"

	"github.com/ChrisMcGann/hquant/pkg/core"
)

// Config holds filtering configuration
type Config struct {
	ExcludePTM       bool     `yaml:"exclude_ptm"`       // Drop PSMs carrying a post-translational modification
	RequireProteins  bool     `yaml:"require_proteins"`  // Drop PSMs mapping to no protein
	MinCharge        int      `yaml:"min_charge"`        // Keep only PSMs at or above this charge (0 = no limit)
	MaxCharge        int      `yaml:"max_charge"`        // Keep only PSMs at or below this charge (0 = no limit)
	MinIntensity     float64  `yaml:"min_intensity"`     // Drop ratios whose intensity is below this value (0 = no cutoff)
	IonTypes         []string `yaml:"ion_types"`         // Keep only ratios of these ion series (nil = all)
	DecoyPrefix      string   `yaml:"decoy_prefix"`      // Drop PSMs whose proteins all carry this prefix ("" = keep)
	ContaminantToken string   `yaml:"contaminant_token"` // Drop PSMs whose proteins all contain this token ("" = keep)
}

// Apply returns the PSMs that pass every configured filter. Ratios that fail
// the ratio filters are removed from a copy of their PSM; a PSM left without
// ratios is dropped. The input is not modified.
func (c *Config) Apply(psms []*core.PSM) []*core.PSM {
	var kept []*core.PSM
	for _, p := range psms {
		if !c.keepPSM(p) {
			continue
		}
		ratios := c.filterRatios(p.Ratios)
		if len(ratios) == 0 {
			continue
		}
		if len(ratios) != len(p.Ratios) {
			cp := *p
			cp.Ratios = ratios
			p = &cp
		}
		kept = append(kept, p)
	}
	return kept
}

// keepPSM applies the PSM-level filters
func (c *Config) keepPSM(p *core.PSM) bool {
	if p.Discarded {
		return false
	}
	if c.ExcludePTM && p.HasPTM {
		return false
	}
	if c.RequireProteins && len(p.Proteins) == 0 {
		return false
	}
	if c.MinCharge > 0 && p.Charge < c.MinCharge {
		return false
	}
	if c.MaxCharge > 0 && p.Charge > c.MaxCharge {
		return false
	}
	if c.DecoyPrefix != "" && allProteins(p, func(acc string) bool { return strings.HasPrefix(acc, c.DecoyPrefix) }) {
		return false
	}
	if c.ContaminantToken != "" && allProteins(p, func(acc string) bool { return strings.Contains(acc, c.ContaminantToken) }) {
		return false
	}
	return true
}

// filterRatios keeps finite positive ratios matching the ion type and intensity filters
func (c *Config) filterRatios(ratios []core.Ratio) []core.Ratio {
	var filtered []core.Ratio
	for _, r := range ratios {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) || r.Value <= 0 {
			continue
		}
		if c.MinIntensity > 0 && r.Intensity < c.MinIntensity {
			continue
		}
		if len(c.IonTypes) > 0 && !matchesIonType(r.IonSerieType, c.IonTypes) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// matchesIonType checks if an ion series name matches any of the allowed ion types
func matchesIonType(serie string, ionTypes []string) bool {
	if serie == "" {
		return false
	}

	for _, ionType := range ionTypes {
		// Match at start of the series name (e.g., "TMT" matches "TMT127N")
		if strings.HasPrefix(serie, ionType) {
			return true
		}
	}
	return false
}

// allProteins reports whether p maps to at least one protein and every one satisfies match
func allProteins(p *core.PSM, match func(string) bool) bool {
	if len(p.Proteins) == 0 {
		return false
	}
	for _, acc := range p.Proteins {
		if !match(acc) {
			return false
		}
	}
	return true
}

// ForOutcome returns a copy of c adjusted to what an analysis outcome needs:
// protein-based outcomes cannot place PSMs without proteins.
func (c Config) ForOutcome(o core.Outcome) *Config {
	if o != core.OutcomePeptide {
		c.RequireProteins = true
	}
	return &c
}
