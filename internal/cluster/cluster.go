// Package cluster implements greedy agglomerative clustering of residual
// (unmatched) face embeddings into unknown-person groups (C8). Nearest-bucket
// search is brute-force by default and, once the number of buckets grows
// past a configured threshold, shortlisted through an in-memory HNSW graph
// built over bucket centroids — the same shape of shortlist internal/matcher
// uses over the known-embedding set.
package cluster

import (
	"math"
	"sort"
	"strconv"

	"github.com/coder/hnsw"
)

// hnswShortlistNeighbors (K) bounds how many candidate buckets the HNSW
// graph returns before the exact re-score picks the nearest one.
const hnswShortlistNeighbors = 32

// Residual is one unmatched face, tagged with the identity needed to later
// route its source photo to the right output subtree.
type Residual struct {
	PhotoIdentity string // stable identity of the classroom photo, e.g. its relative path
	FaceIndex     int
	Embedding     []float32
}

// Label is a residual's clustering outcome: either a named unknown person
// or the unlabeled-unknown bucket.
type Label struct {
	Name      string // "Unknown_Person_<K>", empty when unlabeled
	Unlabeled bool
}

// Params bounds the clustering decision.
type Params struct {
	Threshold      float64 // τ_c, stricter than the matcher tolerance
	MinClusterSize int     // k_min, default 2
	HNSWThreshold  int     // bucket count above which the centroid search is shortlisted; 0 disables it
}

type clusterBucket struct {
	members  []int // indexes into the input residual slice, in placement order
	centroid []float32
}

// centroidIndex incrementally shortlists bucket indexes by centroid, once
// there are enough buckets to make a brute-force scan the dominant cost.
// Bucket centroids move every time a new member joins (see recomputeCentroid),
// and coder/hnsw has no update-in-place: a moved centroid replaces the old
// one by deleting the bucket's node and adding it again under the same
// bucket index. The graph only affects which buckets get shortlisted, never
// the exact distance computed over them afterward, so this never changes
// which bucket a residual is finally assigned to beyond ordinary
// approximate-search recall loss.
type centroidIndex struct {
	graph *hnsw.Graph[int]
}

func newCentroidIndex(buckets []*clusterBucket) *centroidIndex {
	g := hnsw.NewGraph[int]()
	g.M = 16
	g.Ml = 1.0 / 16
	g.Distance = euclideanDistance32
	for bi, b := range buckets {
		g.Add(hnsw.MakeNode(bi, b.centroid))
	}
	return &centroidIndex{graph: g}
}

func (c *centroidIndex) add(bi int, centroid []float32) {
	c.graph.Delete(bi)
	c.graph.Add(hnsw.MakeNode(bi, centroid))
}

func (c *centroidIndex) candidates(emb []float32, numBuckets int) []int {
	k := hnswShortlistNeighbors
	if k > numBuckets {
		k = numBuckets
	}
	neighbors := c.graph.Search(emb, k)
	idx := make([]int, len(neighbors))
	for i, n := range neighbors {
		idx[i] = n.Key
	}
	return idx
}

// Cluster runs the deterministic greedy agglomerative algorithm and
// returns, for each input residual (by its original index), the Label it
// was assigned.
func Cluster(residuals []Residual, p Params) []Label {
	order := make([]int, len(residuals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := residuals[order[i]], residuals[order[j]]
		if a.PhotoIdentity != b.PhotoIdentity {
			return a.PhotoIdentity < b.PhotoIdentity
		}
		return a.FaceIndex < b.FaceIndex
	})

	var buckets []*clusterBucket
	var index *centroidIndex
	assignment := make([]int, len(residuals)) // index into buckets, per original residual index
	for i := range assignment {
		assignment[i] = -1
	}

	for _, idx := range order {
		emb := residuals[idx].Embedding

		var candidates []int
		if index != nil {
			candidates = index.candidates(emb, len(buckets))
		} else {
			candidates = make([]int, len(buckets))
			for i := range candidates {
				candidates[i] = i
			}
		}

		best := -1
		bestDist := math.MaxFloat64
		for _, bi := range candidates {
			d := euclideanDistance(emb, buckets[bi].centroid)
			if d < bestDist {
				bestDist = d
				best = bi
			}
		}

		if best != -1 && bestDist <= p.Threshold {
			b := buckets[best]
			b.members = append(b.members, idx)
			b.centroid = recomputeCentroid(residuals, b.members)
			if index != nil {
				index.add(best, b.centroid)
			}
		} else {
			buckets = append(buckets, &clusterBucket{
				members:  []int{idx},
				centroid: append([]float32(nil), emb...),
			})
			best = len(buckets) - 1

			if index != nil {
				index.add(best, buckets[best].centroid)
			} else if p.HNSWThreshold > 0 && len(buckets) > p.HNSWThreshold {
				index = newCentroidIndex(buckets)
			}
		}
		assignment[idx] = best
	}

	minSize := p.MinClusterSize
	if minSize <= 0 {
		minSize = 2
	}

	bucketLabel := make([]string, len(buckets))
	nextLabel := 1
	for bi, b := range buckets {
		if len(b.members) >= minSize {
			bucketLabel[bi] = unknownPersonLabel(nextLabel)
			nextLabel++
		}
	}

	labels := make([]Label, len(residuals))
	for idx, bi := range assignment {
		if bi == -1 {
			continue
		}
		if name := bucketLabel[bi]; name != "" {
			labels[idx] = Label{Name: name}
		} else {
			labels[idx] = Label{Unlabeled: true}
		}
	}
	return labels
}

func unknownPersonLabel(k int) string {
	return "Unknown_Person_" + strconv.Itoa(k)
}

func recomputeCentroid(residuals []Residual, members []int) []float32 {
	dim := len(residuals[members[0]].Embedding)
	sum := make([]float64, dim)
	for _, idx := range members {
		emb := residuals[idx].Embedding
		for i, v := range emb {
			sum[i] += float64(v)
		}
	}
	centroid := make([]float32, dim)
	n := float64(len(members))
	for i, v := range sum {
		centroid[i] = float32(v / n)
	}
	return centroid
}

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
