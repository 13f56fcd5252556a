// Package episodic provides the episodic memory tier: past exchanges
// and period summaries stored in SQLite with embedding vectors so the
// assistant can recall "what happened" by similarity search.
package episodic

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Goifal/mindhome-assistant/internal/embeddings"
)

// Kind distinguishes what an episode records.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindSummary      Kind = "summary"
)

// Episode is one stored memory.
type Episode struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Person    string    `json:"person,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Embedder generates embedding vectors for episode texts.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Store manages episode persistence.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

// NewStore creates an episodic store using the given database path.
func NewStore(dbPath string, embedder Embedder) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewStoreWithDB creates an episodic store on an existing connection.
func NewStoreWithDB(db *sql.DB, embedder Embedder) (*Store, error) {
	s := &Store{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			person TEXT,
			text TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_episodes_kind ON episodes(kind);
		CREATE INDEX IF NOT EXISTS idx_episodes_created ON episodes(created_at DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store saves an episode with its embedding.
func (s *Store) Store(ctx context.Context, kind Kind, person, text string) (*Episode, error) {
	vec, err := s.embedder.Generate(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed episode: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, kind, person, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), kind, person, text, encodeVector(vec), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert episode: %w", err)
	}

	return &Episode{
		ID:        id,
		Kind:      kind,
		Person:    person,
		Text:      text,
		CreatedAt: now,
	}, nil
}

// SearchResult pairs an episode with its similarity to the query.
type SearchResult struct {
	Episode    *Episode `json:"episode"`
	Similarity float32  `json:"similarity"`
}

// Search returns the k episodes most similar to the query. An empty
// kind searches all kinds.
func (s *Store) Search(ctx context.Context, query string, kind Kind, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 5
	}

	queryVec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	q := `SELECT id, kind, person, text, embedding, created_at FROM episodes`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var all []*Episode
	var vectors [][]float32
	for rows.Next() {
		ep, vec, err := scanEpisodeRow(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, ep)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, k)
	for _, idx := range embeddings.TopK(queryVec, vectors, k) {
		results = append(results, SearchResult{
			Episode:    all[idx],
			Similarity: embeddings.CosineSimilarity(queryVec, vectors[idx]),
		})
	}
	return results, nil
}

// Recent returns the n most recent episodes of a kind, newest first.
func (s *Store) Recent(ctx context.Context, kind Kind, n int) ([]*Episode, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, person, text, embedding, created_at
		FROM episodes WHERE kind = ? ORDER BY created_at DESC LIMIT ?
	`, kind, n)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		ep, _, err := scanEpisodeRow(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// Count returns the number of stored episodes.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n)
	return n, err
}

func scanEpisodeRow(rows *sql.Rows) (*Episode, []float32, error) {
	var ep Episode
	var idStr, kindStr, createdStr string
	var person sql.NullString
	var blob []byte

	if err := rows.Scan(&idStr, &kindStr, &person, &ep.Text, &blob, &createdStr); err != nil {
		return nil, nil, err
	}

	ep.ID, _ = uuid.Parse(idStr)
	ep.Kind = Kind(kindStr)
	if person.Valid {
		ep.Person = person.String
	}
	ep.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)

	return &ep, decodeVector(blob), nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
