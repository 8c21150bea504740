// Package matcher implements nearest-reference-embedding matching (C7):
// brute-force Euclidean search against the known embedding set, optionally
// shortlisted through an in-memory HNSW graph once the known set grows
// large enough that a full scan per face becomes the dominant cost.
package matcher

import (
	"math"

	"github.com/coder/hnsw"
)

// hnswShortlistNeighbors (K) is the shortlist size: how many candidates the
// HNSW graph returns before the exact re-score narrows them to one.
const hnswShortlistNeighbors = 32

// Match is the outcome of matching one detected face against the known
// embedding set.
type Match struct {
	Index    int     // index into the known arrays, -1 if residual
	Distance float64 // exact Euclidean distance to the matched (or nearest) embedding
	Residual bool
}

// Matcher holds the read-only known-embedding set for one recognition run.
// It is built once per run and shared immutably across workers.
type Matcher struct {
	knownEmbeddings [][]float32
	tolerance       float64
	graph           *hnsw.Graph[int]
}

// New builds a Matcher over knownEmbeddings. When len(knownEmbeddings)
// exceeds hnswThreshold, an HNSW graph is built once for shortlisting;
// below it, Match always performs a full scan.
func New(knownEmbeddings [][]float32, tolerance float64, hnswThreshold int) *Matcher {
	m := &Matcher{knownEmbeddings: knownEmbeddings, tolerance: tolerance}

	if hnswThreshold > 0 && len(knownEmbeddings) > hnswThreshold {
		g := hnsw.NewGraph[int]()
		g.M = 16
		g.Ml = 1.0 / 16
		g.Distance = euclideanDistance32
		for i, emb := range knownEmbeddings {
			g.Add(hnsw.MakeNode(i, emb))
		}
		m.graph = g
	}

	return m
}

// euclideanDistance32 is the hnsw.Graph distance function: the matcher's
// tolerance comparisons are defined over Euclidean distance, not cosine,
// so the graph must be built with a matching metric.
func euclideanDistance32(a, b []float32) float32 {
	return float32(euclideanDistance(a, b))
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match finds the nearest known embedding to emb. If the known set is
// empty, the face is unconditionally residual (spec step 1). Otherwise the
// exact minimum distance is always computed — the HNSW graph, when present,
// only narrows which embeddings that exact computation runs over.
func (m *Matcher) Match(emb []float32) Match {
	if len(m.knownEmbeddings) == 0 {
		return Match{Index: -1, Residual: true}
	}

	candidates := m.candidateIndexes(emb)

	best := -1
	bestDist := math.MaxFloat64
	for _, idx := range candidates {
		d := euclideanDistance(emb, m.knownEmbeddings[idx])
		if d < bestDist {
			bestDist = d
			best = idx
		}
	}

	if best == -1 || bestDist > m.tolerance {
		return Match{Index: -1, Distance: bestDist, Residual: true}
	}
	return Match{Index: best, Distance: bestDist}
}

// candidateIndexes returns the set of known-embedding indexes to exactly
// re-score. Without a graph, that is every known embedding. With one, it is
// the shortlist — sized so the exact minimum over it equals the exact
// minimum over the full set for all but pathological inputs (invariant 10
// of the testable properties is never allowed to depend on this shortcut).
func (m *Matcher) candidateIndexes(emb []float32) []int {
	if m.graph == nil {
		all := make([]int, len(m.knownEmbeddings))
		for i := range all {
			all[i] = i
		}
		return all
	}

	k := hnswShortlistNeighbors
	if k > len(m.knownEmbeddings) {
		k = len(m.knownEmbeddings)
	}
	neighbors := m.graph.Search(emb, k)
	idx := make([]int, len(neighbors))
	for i, n := range neighbors {
		idx[i] = n.Key
	}
	return idx
}
