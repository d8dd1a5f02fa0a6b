package index

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLite implements Index.
var _ Index = (*SQLite)(nil)

// SQLite is an Index backed by a SQLite table, for hosts that want chunk
// vectors off the Go heap. Search is brute-force cosine over the owning
// document's rows: phase one scans only chunk_index + embedding to find the
// top-K, phase two fetches full rows for the winners.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the index database in dataDir and ensures
// the schema exists. Pass ":memory:" for an in-memory database (tests).
func OpenSQLite(dataDir string) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "index.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging index database: %w", err)
	}

	// Single connection avoids "database is locked" under concurrent use.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunk_vectors (
			doc_id      TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text        TEXT NOT NULL,
			page        INTEGER NOT NULL DEFAULT 0,
			section     TEXT NOT NULL DEFAULT '',
			embedding   BLOB NOT NULL,
			PRIMARY KEY (doc_id, chunk_index)
		);
		CREATE INDEX IF NOT EXISTS idx_chunk_vectors_doc ON chunk_vectors(doc_id);
	`)
	if err != nil {
		return fmt.Errorf("creating chunk_vectors table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_vectors (doc_id, chunk_index, text, page, section, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		blob := encodeFloat32s(e.Vector)
		if _, err := stmt.ExecContext(ctx, e.DocID, e.ChunkIndex, e.Text, e.Page, e.Section, blob); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %d of %s: %w", e.ChunkIndex, e.DocID, err)
		}
	}
	return tx.Commit()
}

// idScore carries only the chunk index and score during the scan phase.
type idScore struct {
	ChunkIndex int
	Score      float32
}

type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (s *SQLite) Search(ctx context.Context, docID string, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_index, embedding FROM chunk_vectors WHERE doc_id = ?`, docID)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors for %s: %w", docID, err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable decode buffer to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var idx int
		var blob []byte
		if err := rows.Scan(&idx, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", idx, err)
		}
		score := cosine(query, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, idScore{ChunkIndex: idx, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ChunkIndex: idx, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	// Phase two: fetch full rows only for the winners.
	topIdx := make([]int, h.Len())
	scores := make(map[int]float32, h.Len())
	for i := len(topIdx) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIdx[i] = item.ChunkIndex
		scores[item.ChunkIndex] = item.Score
	}

	args := make([]any, 0, len(topIdx)+1)
	args = append(args, docID)
	for _, idx := range topIdx {
		args = append(args, idx)
	}
	query2 := `SELECT chunk_index, text, page, section, embedding FROM chunk_vectors
		WHERE doc_id = ? AND chunk_index IN (?` + strings.Repeat(",?", len(topIdx)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, query2, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K rows: %w", err)
	}
	defer fullRows.Close()

	var results []Result
	for fullRows.Next() {
		var e Entry
		var blob []byte
		if err := fullRows.Scan(&e.ChunkIndex, &e.Text, &e.Page, &e.Section, &blob); err != nil {
			return nil, fmt.Errorf("scanning full row: %w", err)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", e.ChunkIndex, err)
		}
		e.DocID = docID
		e.Vector = vec
		results = append(results, Result{Entry: e, Score: scores[e.ChunkIndex]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full rows: %w", err)
	}

	// IN queries do not preserve order; sort by descending score.
	sortByScore(results)
	return results, nil
}

// sortByScore sorts Results by Score descending. Insertion sort is fine for
// top-K sized slices.
func sortByScore(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func (s *SQLite) Remove(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("removing vectors for %s: %w", docID, err)
	}
	return nil
}

func (s *SQLite) Count(ctx context.Context, docID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_vectors WHERE doc_id = ?`, docID).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// A length that is not a multiple of 4 indicates corruption.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes into the provided buffer, reusing its capacity.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}
