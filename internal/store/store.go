// Package store owns session documents for their whole lifetime: ingested
// text, chunks, conversation history, and TTL-bounded eviction. Nothing is
// ever written to disk; when a document expires or the session ends, its
// content is gone.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for document IDs that were evicted or never
// existed. It is distinct from a question having no answer.
var ErrNotFound = errors.New("document not found")

const (
	// DefaultTTL is how long a document is retained after ingestion.
	DefaultTTL = 45 * time.Minute
	// DefaultMaxDocuments bounds documents per session; the oldest is
	// evicted on overflow.
	DefaultMaxDocuments = 16
	// DefaultMaxHistory bounds retained conversation turns per document.
	DefaultMaxHistory = 10
)

// Status describes where a document is in its lifecycle.
type Status string

const (
	// StatusProcessing means ingestion (chunking, embedding, indexing) is
	// still running; questions are rejected until it completes.
	StatusProcessing Status = "processing"
	// StatusReady means the document is fully indexed and answerable.
	StatusReady Status = "ready"
	// StatusFailed means ingestion errored or was cancelled.
	StatusFailed Status = "failed"
)

// SourceRef is best-effort provenance for a chunk: the page it came from
// and/or the nearest section heading. Zero values mean unknown.
type SourceRef struct {
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

// Chunk is one retrievable slice of the document text.
type Chunk struct {
	Index  int        `json:"index"`
	Text   string     `json:"text"`
	Source *SourceRef `json:"source,omitempty"`
	// Vector is nil until embedded. All vectors in a session share one
	// dimension regardless of which embedding path produced them.
	Vector []float32 `json:"-"`
	// FallbackEmbedded marks chunks whose vector came from the local
	// deterministic path rather than the remote API.
	FallbackEmbedded bool `json:"fallback_embedded,omitempty"`
}

// ConversationTurn is one question/answer exchange on a document.
type ConversationTurn struct {
	Question     string      `json:"question"`
	Answer       string      `json:"answer"`
	Sources      []SourceRef `json:"sources"`
	UsedFallback bool        `json:"used_fallback"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Document is one ingested artifact. Text and Chunks are immutable once
// the document reaches StatusReady; only conversation history grows.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Text      string    `json:"-"`
	Chunks    []Chunk   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// entry pairs a document with its own mutex so operations on unrelated
// documents never contend.
type entry struct {
	mu    sync.Mutex
	doc   Document
	turns []ConversationTurn
}

// Store is the session document store. The map mutex is held only for map
// lookups and membership changes; per-document state is guarded by the
// entry's own lock.
type Store struct {
	mu   sync.Mutex
	docs map[string]*entry

	ttl        time.Duration
	maxDocs    int
	maxHistory int
	// onEvict releases resources owned elsewhere (index rows) whenever a
	// document leaves the store, whatever the reason.
	onEvict func(id string)
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the document time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxDocuments sets the per-session document cap.
func WithMaxDocuments(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxDocs = n
		}
	}
}

// WithMaxHistory bounds the retained conversation turns per document.
func WithMaxHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithEvictionHook registers a callback invoked (outside store locks) with
// the ID of every document removed by expiry, overflow, or explicit delete.
func WithEvictionHook(fn func(id string)) Option {
	return func(s *Store) { s.onEvict = fn }
}

// New creates a Store with the given options.
func New(opts ...Option) *Store {
	s := &Store{
		docs:       make(map[string]*entry),
		ttl:        DefaultTTL,
		maxDocs:    DefaultMaxDocuments,
		maxHistory: DefaultMaxHistory,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create registers a new processing document and returns it. Expired
// documents are swept and the oldest is evicted if the session is at
// capacity.
func (s *Store) Create(title string) Document {
	now := time.Now()
	doc := Document{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    StatusProcessing,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	var evicted []string
	s.mu.Lock()
	evicted = append(evicted, s.removeExpiredLocked(now)...)
	for len(s.docs) >= s.maxDocs {
		oldest := s.oldestLocked()
		if oldest == "" {
			break
		}
		delete(s.docs, oldest)
		evicted = append(evicted, oldest)
		s.logger.Info("evicted document at capacity", "doc_id", oldest)
	}
	s.docs[doc.ID] = &entry{doc: doc}
	s.mu.Unlock()

	s.notifyEvicted(evicted)
	return doc
}

// Get returns a snapshot of the document. Expiry is checked on every call,
// so an expired document is gone the moment anyone asks for it, whether or
// not the background sweeper has run.
func (s *Store) Get(id string) (Document, error) {
	now := time.Now()

	s.mu.Lock()
	e, ok := s.docs[id]
	if ok && now.After(e.doc.ExpiresAt) {
		delete(s.docs, id)
		s.mu.Unlock()
		s.notifyEvicted([]string{id})
		return Document{}, ErrNotFound
	}
	s.mu.Unlock()

	if !ok {
		return Document{}, ErrNotFound
	}

	e.mu.Lock()
	doc := e.doc
	e.mu.Unlock()
	return doc, nil
}

// Complete attaches the ingestion result to a processing document and marks
// it ready. Chunks are immutable from this point on.
func (s *Store) Complete(id, text string, chunks []Chunk) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.doc.Text = text
	e.doc.Chunks = chunks
	e.doc.Status = StatusReady
	e.doc.Error = ""
	e.mu.Unlock()
	return nil
}

// Fail marks a processing document as failed with a reason.
func (s *Store) Fail(id, reason string) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.doc.Status = StatusFailed
	e.doc.Error = reason
	e.mu.Unlock()
	return nil
}

// Remove deletes a document explicitly.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	_, ok := s.docs[id]
	if ok {
		delete(s.docs, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.notifyEvicted([]string{id})
	return nil
}

// AppendTurn records a question/answer exchange, dropping the oldest turn
// once the history window is full.
func (s *Store) AppendTurn(id string, turn ConversationTurn) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.turns = append(e.turns, turn)
	if len(e.turns) > s.maxHistory {
		e.turns = e.turns[len(e.turns)-s.maxHistory:]
	}
	e.mu.Unlock()
	return nil
}

// History returns a copy of the retained conversation turns, oldest first.
func (s *Store) History(id string) ([]ConversationTurn, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	out := make([]ConversationTurn, len(e.turns))
	copy(out, e.turns)
	e.mu.Unlock()
	return out, nil
}

// List returns snapshots of all live documents, newest first.
func (s *Store) List() []Document {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.docs))
	for _, e := range s.docs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Document, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.doc)
		e.mu.Unlock()
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// SweepExpired removes all expired documents and returns how many went.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	evicted := s.removeExpiredLocked(time.Now())
	s.mu.Unlock()

	s.notifyEvicted(evicted)
	return len(evicted)
}

// RunSweeper sweeps on the given interval until ctx is cancelled. Get and
// Create also evict, so TTL enforcement does not depend on the sweeper;
// it bounds how long an untouched document can linger.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				s.logger.Info("swept expired documents", "count", n)
			}
		}
	}
}

func (s *Store) entry(id string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// removeExpiredLocked deletes expired entries and returns their IDs.
// Caller holds s.mu.
func (s *Store) removeExpiredLocked(now time.Time) []string {
	var evicted []string
	for id, e := range s.docs {
		if now.After(e.doc.ExpiresAt) {
			delete(s.docs, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// oldestLocked returns the ID of the oldest document. Caller holds s.mu.
func (s *Store) oldestLocked() string {
	var oldest string
	var oldestAt time.Time
	for id, e := range s.docs {
		if oldest == "" || e.doc.CreatedAt.Before(oldestAt) {
			oldest = id
			oldestAt = e.doc.CreatedAt
		}
	}
	return oldest
}

// notifyEvicted runs the eviction hook outside any store lock.
func (s *Store) notifyEvicted(ids []string) {
	if s.onEvict == nil {
		return
	}
	for _, id := range ids {
		s.onEvict(id)
	}
}
