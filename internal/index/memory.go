package index

import (
	"container/heap"
	"context"
	"sync"
)

// Compile-time check that Memory implements Index.
var _ Index = (*Memory)(nil)

// Memory is the default Index backend: chunk vectors held in process
// memory, partitioned by document ID. Search is a brute-force cosine scan
// with a min-heap for top-K, which is more than fast enough at
// session-document scale (hundreds to low thousands of chunks).
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]Entry
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]Entry)}
}

func (m *Memory) Add(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.docs[e.DocID] = append(m.docs[e.DocID], e)
	}
	return nil
}

func (m *Memory) Search(_ context.Context, docID string, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	entries := m.docs[docID]
	m.mu.RUnlock()

	if len(entries) == 0 {
		return nil, nil
	}

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &resultHeap{}
	heap.Init(h)
	for _, e := range entries {
		score := cosine(query, e.Vector, queryNorm)
		if h.Len() < k {
			heap.Push(h, Result{Entry: e, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = Result{Entry: e, Score: score}
			heap.Fix(h, 0)
		}
	}
	return topK(h), nil
}

func (m *Memory) Remove(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, docID)
	return nil
}

func (m *Memory) Count(_ context.Context, docID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[docID]), nil
}
