// Package facts provides the semantic memory tier: durable facts about
// household members, stored in SQLite with embedding vectors for
// similarity search and deduplication.
package facts

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

// Category groups related facts.
type Category string

const (
	CategoryPreference Category = "preference" // how the person likes things
	CategoryPerson     Category = "person"     // relationships, names
	CategoryHabit      Category = "habit"      // observed routines
	CategoryHealth     Category = "health"     // allergies, conditions
	CategoryWork       Category = "work"       // job, schedule
	CategoryGeneral    Category = "general"    // everything else
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPreference, CategoryPerson, CategoryHabit, CategoryHealth, CategoryWork, CategoryGeneral:
		return true
	}
	return false
}

const (
	// DedupThreshold is the cosine similarity above which a new fact is
	// treated as a restatement of an existing one for the same person.
	DedupThreshold = 0.85

	// ConfidenceBoost is added to an existing fact's confidence when it
	// is confirmed by a restatement. Confidence never exceeds 1.
	ConfidenceBoost = 0.05

	// DefaultConfidence is the seed confidence for newly extracted facts.
	DefaultConfidence = 0.7
)

// Fact represents one piece of semantic memory.
type Fact struct {
	ID              uuid.UUID `json:"id"`
	Person          string    `json:"person"`
	Category        Category  `json:"category"`
	Text            string    `json:"text"`
	Confidence      float64   `json:"confidence"`
	TimesConfirmed  int       `json:"times_confirmed"`
	CreatedAt       time.Time `json:"created_at"`
	LastConfirmedAt time.Time `json:"last_confirmed_at"`
}

// Embedder generates embedding vectors for fact texts.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Store manages fact persistence.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

// NewStore creates a fact store using the given database path.
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

// NewStoreWithDB creates a fact store using an existing database connection.
func NewStoreWithDB(db *sql.DB, embedder Embedder) (*Store, error) {
	s := &Store{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			person TEXT NOT NULL,
			category TEXT NOT NULL,
			text TEXT NOT NULL,
			confidence REAL NOT NULL,
			times_confirmed INTEGER NOT NULL DEFAULT 1,
			embedding BLOB,
			created_at TEXT NOT NULL,
			last_confirmed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_facts_person ON facts(person);
		CREATE INDEX IF NOT EXISTS idx_facts_category ON facts(category);
		CREATE INDEX IF NOT EXISTS idx_facts_confirmed ON facts(last_confirmed_at DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreFact inserts a fact or, when an existing fact for the same
// person is similar enough, confirms that fact instead: confidence is
// boosted (clamped to 1), the text is replaced by the newer statement,
// and last_confirmed_at is refreshed. Returns the stored fact and
// whether it was newly created.
func (s *Store) StoreFact(ctx context.Context, person string, category Category, text string, confidence float64) (*Fact, bool, error) {
	if !ValidCategory(category) {
		category = CategoryGeneral
	}
	confidence = clamp01(confidence)
	now := time.Now().UTC()

	vec, err := s.embedder.Generate(ctx, text)
	if err != nil {
		return nil, false, fmt.Errorf("embed fact: %w", err)
	}

	existing, sim, err := s.mostSimilar(ctx, person, vec)
	if err != nil {
		return nil, false, err
	}

	if existing != nil && sim >= DedupThreshold {
		existing.Confidence = clamp01(existing.Confidence + ConfidenceBoost)
		existing.Text = text
		existing.TimesConfirmed++
		existing.LastConfirmedAt = now

		_, err = s.db.ExecContext(ctx, `
			UPDATE facts SET text = ?, confidence = ?, times_confirmed = ?, embedding = ?, last_confirmed_at = ?
			WHERE id = ?
		`, existing.Text, existing.Confidence, existing.TimesConfirmed,
			encodeVector(vec), now.Format(time.RFC3339), existing.ID.String())
		if err != nil {
			return nil, false, fmt.Errorf("confirm fact: %w", err)
		}
		return existing, false, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("generate id: %w", err)
	}
	fact := &Fact{
		ID:              id,
		Person:          person,
		Category:        category,
		Text:            text,
		Confidence:      confidence,
		TimesConfirmed:  1,
		CreatedAt:       now,
		LastConfirmedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts (id, person, category, text, confidence, times_confirmed, embedding, created_at, last_confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), person, category, text, confidence, 1,
		encodeVector(vec), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, false, fmt.Errorf("insert fact: %w", err)
	}

	return fact, true, nil
}

// mostSimilar returns the person's fact with the highest cosine
// similarity to vec, or nil when the person has no facts.
func (s *Store) mostSimilar(ctx context.Context, person string, vec []float32) (*Fact, float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person, category, text, confidence, times_confirmed, embedding, created_at, last_confirmed_at
		FROM facts WHERE person = ?
	`, person)
	if err != nil {
		return nil, 0, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var best *Fact
	var bestSim float32
	for rows.Next() {
		fact, factVec, err := scanFactRow(rows)
		if err != nil {
			return nil, 0, err
		}
		sim := embeddings.CosineSimilarity(vec, factVec)
		if best == nil || sim > bestSim {
			best = fact
			bestSim = sim
		}
	}
	return best, bestSim, rows.Err()
}

// ForPerson returns the person's facts at or above minConfidence, most
// recently confirmed first, capped at limit.
func (s *Store) ForPerson(ctx context.Context, person string, minConfidence float64, limit int) ([]*Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person, category, text, confidence, times_confirmed, embedding, created_at, last_confirmed_at
		FROM facts WHERE person = ? AND confidence >= ?
		ORDER BY last_confirmed_at DESC LIMIT ?
	`, person, minConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectFacts(rows)
}

// ByCategory returns all facts in a category.
func (s *Store) ByCategory(ctx context.Context, category Category) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person, category, text, confidence, times_confirmed, embedding, created_at, last_confirmed_at
		FROM facts WHERE category = ? ORDER BY last_confirmed_at DESC
	`, category)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectFacts(rows)
}

// SearchResult pairs a fact with its similarity to the query.
type SearchResult struct {
	Fact       *Fact   `json:"fact"`
	Similarity float32 `json:"similarity"`
}

// Search returns the k facts most similar to the query, optionally
// restricted to one person (empty person searches everyone).
func (s *Store) Search(ctx context.Context, query, person string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 5
	}

	queryVec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	q := `
		SELECT id, person, category, text, confidence, times_confirmed, embedding, created_at, last_confirmed_at
		FROM facts`
	args := []any{}
	if person != "" {
		q += ` WHERE person = ?`
		args = append(args, person)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var all []*Fact
	var vectors [][]float32
	for rows.Next() {
		fact, vec, err := scanFactRow(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, fact)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, k)
	for _, idx := range embeddings.TopK(queryVec, vectors, k) {
		results = append(results, SearchResult{
			Fact:       all[idx],
			Similarity: embeddings.CosineSimilarity(queryVec, vectors[idx]),
		})
	}
	return results, nil
}

// Delete removes a fact by ID.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("fact not found: %s", id)
	}
	return nil
}

// Stats returns fact statistics.
func (s *Store) Stats(ctx context.Context) map[string]any {
	var total int
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&total)

	cats := make(map[string]int)
	rows, _ := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM facts GROUP BY category`)
	if rows != nil {
		defer rows.Close()
		for rows.Next() {
			var cat string
			var count int
			if err := rows.Scan(&cat, &count); err != nil {
				continue
			}
			cats[cat] = count
		}
	}

	return map[string]any{
		"total":      total,
		"categories": cats,
	}
}

func collectFacts(rows *sql.Rows) ([]*Fact, error) {
	var facts []*Fact
	for rows.Next() {
		fact, _, err := scanFactRow(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func scanFactRow(rows *sql.Rows) (*Fact, []float32, error) {
	var f Fact
	var idStr, catStr, createdStr, confirmedStr string
	var blob []byte

	err := rows.Scan(&idStr, &f.Person, &catStr, &f.Text, &f.Confidence,
		&f.TimesConfirmed, &blob, &createdStr, &confirmedStr)
	if err != nil {
		return nil, nil, err
	}

	f.ID, _ = uuid.Parse(idStr)
	f.Category = Category(catStr)
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	f.LastConfirmedAt, _ = time.Parse(time.RFC3339, confirmedStr)

	return &f, decodeVector(blob), nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// encodeVector packs a float32 slice as little-endian bytes for BLOB storage.
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
