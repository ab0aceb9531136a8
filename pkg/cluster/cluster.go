// Package cluster groups peptides and proteins into connected components.
//
// Two peptides are connected when they map to a common protein or when their
// sequences align above the configured thresholds. The resulting clusters let
// an analysis integrate proteins that share no accession but are clearly
// related by sequence.
//
// The alignment phase compares every unordered pair of distinct peptides and is
// therefore quadratic in the number of peptides.
package cluster

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ChrisMcGann/hquant/pkg/core"
	"github.com/ChrisMcGann/hquant/pkg/keys"
)

// ErrMissingThreshold is returned when a clustering threshold is not configured.
var ErrMissingThreshold = errors.New("missing clustering threshold")

// Params holds the alignment thresholds. All three must pass for an edge.
type Params struct {
	MinAlignmentScore             int
	MinSimilarityPercentage       float64 // 0-100
	MinConsecutiveIdenticalLength int
}

// Validate reports thresholds that are unset or out of range.
func (p Params) Validate() error {
	if p.MinAlignmentScore <= 0 {
		return fmt.Errorf("%w: minimum alignment score must be positive", ErrMissingThreshold)
	}
	if p.MinSimilarityPercentage <= 0 || p.MinSimilarityPercentage > 100 {
		return fmt.Errorf("%w: minimum similarity must be in (0, 100]", ErrMissingThreshold)
	}
	if p.MinConsecutiveIdenticalLength <= 0 {
		return fmt.Errorf("%w: minimum consecutive identical length must be positive", ErrMissingThreshold)
	}
	return nil
}

// Accepts reports whether an alignment passes every threshold.
func (p Params) Accepts(a Alignment) bool {
	return a.Score >= p.MinAlignmentScore &&
		a.PercentIdentity >= p.MinSimilarityPercentage &&
		a.LongestIdentical >= p.MinConsecutiveIdenticalLength
}

// Edge is an accepted alignment between two peptides, by peptide key.
type Edge struct {
	A, B      string
	Alignment Alignment
}

// Cluster is a connected component of peptides and the proteins they map to.
type Cluster struct {
	Key      string   // Sorted, ':'-joined protein accessions
	Peptides []string // Sorted peptide keys
	Proteins []string // Sorted accessions
}

// DuplicateKeyError means two distinct clusters produced the same key.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("two distinct clusters share the key '%s'", e.Key)
}

// Result is an immutable partition of a peptide universe.
type Result struct {
	Clusters   []Cluster // Sorted by key
	Edges      []Edge    // Accepted alignment edges; empty for forced clusters
	Unassigned []string  // Peptides that map to no protein and align to nothing with one

	byPeptide map[string][]int
}

// ClusterKeys returns the keys of the clusters a peptide belongs to.
func (r *Result) ClusterKeys(peptideKey string) []string {
	idx := r.byPeptide[peptideKey]
	out := make([]string, len(idx))
	for i, c := range idx {
		out[i] = r.Clusters[c].Key
	}
	return out
}

// Run partitions peptides into clusters connected by shared proteins and by
// alignments accepted by p.
func Run(peptides map[string]*core.Peptide, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	order := core.SortedPeptideKeys(peptides)
	edges := alignAll(peptides, order, p)

	index := make(map[string]int, len(order))
	for i, k := range order {
		index[k] = i
	}

	pairs := make([][2]int, 0, len(edges))
	for _, e := range edges {
		pairs = append(pairs, [2]int{index[e.A], index[e.B]})
	}
	pairs = append(pairs, proteinPairs(peptides, order)...)

	roots := components(len(order), pairs)
	return assemble(peptides, order, roots, edges)
}

// alignAll runs the pairwise alignment phase. Peptides sharing a sequence
// (charge or modification variants) reuse one alignment.
func alignAll(peptides map[string]*core.Peptide, order []string, p Params) []Edge {
	cache := make(map[[2]string]Alignment)
	var edges []Edge
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			sa, sb := peptides[order[i]].Sequence, peptides[order[j]].Sequence
			pair := [2]string{sa, sb}
			if sb < sa {
				pair = [2]string{sb, sa}
			}
			al, ok := cache[pair]
			if !ok {
				al = Align(pair[0], pair[1])
				cache[pair] = al
			}
			if p.Accepts(al) {
				edges = append(edges, Edge{A: order[i], B: order[j], Alignment: al})
			}
		}
	}
	return edges
}

// proteinPairs links every peptide of a protein to the first peptide seen for it.
func proteinPairs(peptides map[string]*core.Peptide, order []string) [][2]int {
	first := make(map[string]int)
	var pairs [][2]int
	for i, k := range order {
		for _, acc := range peptides[k].ProteinList() {
			if f, ok := first[acc]; ok {
				pairs = append(pairs, [2]int{f, i})
			} else {
				first[acc] = i
			}
		}
	}
	return pairs
}

// components returns, for each of n elements, the representative of its
// connected component under pairs. The representative is the smallest member
// index, so the result does not depend on the order pairs are processed in.
func components(n int, pairs [][2]int) []int {
	ds := newDisjointSet(n)
	for _, p := range pairs {
		ds.union(p[0], p[1])
	}
	smallest := make(map[int]int)
	roots := make([]int, n)
	for i := 0; i < n; i++ {
		r := ds.find(i)
		if _, ok := smallest[r]; !ok {
			smallest[r] = i
		}
		roots[i] = smallest[r]
	}
	return roots
}

func assemble(peptides map[string]*core.Peptide, order []string, roots []int, edges []Edge) (*Result, error) {
	type group struct {
		peptides []string
		proteins map[string]struct{}
	}
	groups := make(map[int]*group)
	var reps []int
	for i, k := range order {
		g, ok := groups[roots[i]]
		if !ok {
			g = &group{proteins: make(map[string]struct{})}
			groups[roots[i]] = g
			reps = append(reps, roots[i])
		}
		g.peptides = append(g.peptides, k)
		for acc := range peptides[k].Proteins {
			g.proteins[acc] = struct{}{}
		}
	}

	res := &Result{Edges: edges, byPeptide: make(map[string][]int)}
	for _, r := range reps {
		g := groups[r]
		if len(g.proteins) == 0 {
			res.Unassigned = append(res.Unassigned, g.peptides...)
			continue
		}
		prots := make([]string, 0, len(g.proteins))
		for acc := range g.proteins {
			prots = append(prots, acc)
		}
		sort.Strings(prots)
		res.Clusters = append(res.Clusters, Cluster{
			Key:      keys.ClusterKey(prots),
			Peptides: g.peptides,
			Proteins: prots,
		})
	}
	sort.Strings(res.Unassigned)

	if err := res.index(); err != nil {
		return nil, err
	}
	return res, nil
}

// index sorts clusters by key, rejects duplicate keys and builds the peptide lookup.
func (r *Result) index() error {
	sort.Slice(r.Clusters, func(i, j int) bool { return r.Clusters[i].Key < r.Clusters[j].Key })
	for i := 1; i < len(r.Clusters); i++ {
		if r.Clusters[i].Key == r.Clusters[i-1].Key {
			return &DuplicateKeyError{Key: r.Clusters[i].Key}
		}
	}
	r.byPeptide = make(map[string][]int)
	for i, c := range r.Clusters {
		for _, pep := range c.Peptides {
			r.byPeptide[pep] = append(r.byPeptide[pep], i)
		}
	}
	return nil
}

// Forced builds one cluster per caller-supplied accession group, skipping
// alignment. A peptide joins every cluster containing one of its proteins.
func Forced(peptides map[string]*core.Peptide, groups [][]string) (*Result, error) {
	owner := make(map[string][]int)
	res := &Result{}
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		prots := make([]string, len(g))
		copy(prots, g)
		sort.Strings(prots)
		for _, acc := range prots {
			owner[acc] = append(owner[acc], len(res.Clusters))
		}
		res.Clusters = append(res.Clusters, Cluster{Key: keys.ClusterKey(prots), Proteins: prots})
	}

	for _, k := range core.SortedPeptideKeys(peptides) {
		seen := make(map[int]bool)
		for _, acc := range peptides[k].ProteinList() {
			for _, c := range owner[acc] {
				if !seen[c] {
					seen[c] = true
					res.Clusters[c].Peptides = append(res.Clusters[c].Peptides, k)
				}
			}
		}
		if len(seen) == 0 {
			res.Unassigned = append(res.Unassigned, k)
		}
	}

	if err := res.index(); err != nil {
		return nil, err
	}
	return res, nil
}
