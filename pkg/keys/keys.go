// Package keys derives the canonical string keys used to identify spectra, ions,
// peptides, proteins, protein groups and clusters throughout the pipeline.
//
// Every function here is pure and deterministic. Keys are used as map keys and
// written verbatim to relationship and data files.
package keys

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/hquant/pkg/core"
)

// All is the identifier of the top level every entity is integrated into.
const All = "all"

// Options controls which distinctions the keys encode.
type Options struct {
	ChargeSensitive          bool
	DistinguishModifications bool
}

// DefaultOptions keeps charge and modifications distinct.
func DefaultOptions() Options {
	return Options{ChargeSensitive: true, DistinguishModifications: true}
}

// SpectrumKey returns rawFile-scan-fullSequence[-charge]. Empty components are
// skipped together with their separator.
func SpectrumKey(psm *core.PSM, chargeSensitive bool) string {
	if psm == nil {
		return ""
	}
	parts := []string{psm.RawFile, psm.Scan, psm.FullSequence()}
	if chargeSensitive && psm.Charge > 0 {
		parts = append(parts, strconv.Itoa(psm.Charge))
	}
	return joinNonEmpty(parts, "-")
}

// SequenceKey returns the modified sequence, or the plain sequence when
// modifications are not distinguished.
func SequenceKey(psm *core.PSM, distinguishModifications bool) string {
	if psm == nil {
		return ""
	}
	if distinguishModifications {
		return psm.FullSequence()
	}
	return psm.PlainSequence()
}

// PeptideKey returns the sequence key with the charge appended when charge sensitive.
func PeptideKey(psm *core.PSM, opts Options) string {
	seq := SequenceKey(psm, opts.DistinguishModifications)
	if opts.ChargeSensitive && psm != nil && psm.Charge > 0 {
		return joinNonEmpty([]string{seq, strconv.Itoa(psm.Charge)}, "-")
	}
	return seq
}

// IonKey returns ionSerieType+ionNumber-spectrumKey.
func IonKey(r core.Ratio, psm *core.PSM, chargeSensitive bool) string {
	ion := r.IonSerieType + strconv.Itoa(r.IonNumber)
	return joinNonEmpty([]string{ion, SpectrumKey(psm, chargeSensitive)}, "-")
}

// GroupKey sorts the accessions and joins them with ','. The input is not modified.
func GroupKey(accessions []string) string {
	return sortedJoin(accessions, ",")
}

// ClusterKey sorts the member accessions and joins them with ':'.
func ClusterKey(accessions []string) string {
	return sortedJoin(accessions, ":")
}

// Suffix appends the replicate and experiment names as key_replicate_experiment,
// leaving out the names that are empty.
func Suffix(key, replicate, experiment string) string {
	return joinNonEmpty([]string{key, replicate, experiment}, "_")
}

func sortedJoin(items []string, sep string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)
	return strings.Join(sorted, sep)
}

func joinNonEmpty(parts []string, sep string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(p)
	}
	return b.String()
}
