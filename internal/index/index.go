// Package index provides per-document vector storage with cosine
// similarity search. Two backends implement the same interface: an
// in-process map (default) and a SQLite table for sessions that outgrow
// memory. Either way an index entry lives exactly as long as its owning
// document; eviction removes it.
package index

import (
	"container/heap"
	"context"
	"math"
)

// Entry is one embedded chunk with its provenance metadata.
type Entry struct {
	DocID      string
	ChunkIndex int
	Text       string
	Page       int
	Section    string
	Vector     []float32
}

// Result is an Entry with its similarity score to a query vector.
type Result struct {
	Entry
	Score float32
}

// Index stores chunk vectors and answers nearest-neighbor queries scoped to
// a single document. Searches never return entries from another document.
type Index interface {
	// Add inserts entries. Entries for one document are added in a single
	// call during ingestion; the index does not support partial updates.
	Add(ctx context.Context, entries []Entry) error

	// Search returns up to k entries of docID ordered by descending cosine
	// similarity. k larger than the entry count returns all entries.
	Search(ctx context.Context, docID string, query []float32, k int) ([]Result, error)

	// Remove deletes all entries belonging to docID.
	Remove(ctx context.Context, docID string) error

	// Count returns the number of entries stored for docID.
	Count(ctx context.Context, docID string) (int, error)
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is precomputed since the
// query side is constant across a scan.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// resultHeap is a min-heap of Results ordered by Score, used to track the
// top-K candidates during a scan.
type resultHeap []Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topK drains the heap into a slice ordered by descending score.
func topK(h *resultHeap) []Result {
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out
}
