package facts

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// stubEmbedder maps distinct words to distinct dimensions, so texts
// sharing most words come out nearly identical and disjoint texts are
// orthogonal.
type stubEmbedder struct {
	vocab map[string]int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vocab: make(map[string]int)}
}

func (e *stubEmbedder) Generate(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 128)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		idx, ok := e.vocab[w]
		if !ok {
			idx = len(e.vocab) % len(vec)
			e.vocab[w] = idx
		}
		vec[idx]++
	}
	return vec, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:", newStubEmbedder())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreFactNew(t *testing.T) {
	s := newTestStore(t)

	fact, created, err := s.StoreFact(context.Background(), "max", CategoryHealth, "Max ist allergisch gegen Nüsse", 0.7)
	if err != nil {
		t.Fatalf("StoreFact: %v", err)
	}
	if !created {
		t.Error("created = false for a first fact")
	}
	if fact.TimesConfirmed != 1 || fact.Confidence != 0.7 {
		t.Errorf("fact = %+v", fact)
	}
	if fact.CreatedAt.IsZero() || fact.LastConfirmedAt.IsZero() {
		t.Error("timestamps missing")
	}
}

func TestStoreFactDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _, err := s.StoreFact(ctx, "max", CategoryHealth, "Max ist allergisch gegen Nüsse", 0.7)
	if err != nil {
		t.Fatalf("StoreFact: %v", err)
	}

	// Restating the same fact confirms instead of duplicating.
	second, created, err := s.StoreFact(ctx, "max", CategoryHealth, "Max ist allergisch gegen Nüsse", 0.7)
	if err != nil {
		t.Fatalf("StoreFact (restatement): %v", err)
	}
	if created {
		t.Error("restatement created a new fact")
	}
	if second.ID != first.ID {
		t.Errorf("confirmed a different fact: %s vs %s", second.ID, first.ID)
	}
	if second.TimesConfirmed != 2 {
		t.Errorf("TimesConfirmed = %d, want 2", second.TimesConfirmed)
	}
	if second.Confidence <= first.Confidence-0.001 {
		t.Errorf("confidence dropped: %v -> %v", first.Confidence, second.Confidence)
	}

	facts, err := s.ForPerson(ctx, "max", 0, 10)
	if err != nil {
		t.Fatalf("ForPerson: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("len(facts) = %d, want 1", len(facts))
	}
}

func TestStoreFactDedupIsPerPerson(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreFact(ctx, "max", CategoryHealth, "allergisch gegen Nüsse", 0.7)
	_, created, err := s.StoreFact(ctx, "anna", CategoryHealth, "allergisch gegen Nüsse", 0.7)
	if err != nil {
		t.Fatalf("StoreFact: %v", err)
	}
	if !created {
		t.Error("identical text for another person deduplicated")
	}
}

func TestConfidenceClamped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var fact *Fact
	for range 10 {
		fact, _, _ = s.StoreFact(ctx, "anna", CategoryPreference, "Anna trinkt ihren Kaffee schwarz", 0.95)
	}
	if fact.Confidence > 1.0 {
		t.Errorf("confidence exceeded 1: %v", fact.Confidence)
	}
	if fact.TimesConfirmed != 10 {
		t.Errorf("TimesConfirmed = %d, want 10", fact.TimesConfirmed)
	}
}

func TestInvalidCategoryFallsBack(t *testing.T) {
	s := newTestStore(t)

	fact, _, err := s.StoreFact(context.Background(), "anna", Category("mood"), "irgendwas", 0.7)
	if err != nil {
		t.Fatalf("StoreFact: %v", err)
	}
	if fact.Category != CategoryGeneral {
		t.Errorf("Category = %q, want general", fact.Category)
	}
}

func TestForPersonConfidenceFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreFact(ctx, "max", CategoryWork, "Max arbeitet im Homeoffice", 0.9)
	s.StoreFact(ctx, "max", CategoryHabit, "Max joggt vielleicht dienstags", 0.3)

	facts, err := s.ForPerson(ctx, "max", 0.5, 10)
	if err != nil {
		t.Fatalf("ForPerson: %v", err)
	}
	if len(facts) != 1 || facts[0].Category != CategoryWork {
		t.Errorf("facts = %+v", facts)
	}
}

func TestByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreFact(ctx, "max", CategoryWork, "Max arbeitet im Homeoffice", 0.9)
	s.StoreFact(ctx, "anna", CategoryHealth, "Anna verträgt keine Laktose", 0.8)

	facts, err := s.ByCategory(ctx, CategoryHealth)
	if err != nil {
		t.Fatalf("ByCategory: %v", err)
	}
	if len(facts) != 1 || facts[0].Person != "anna" {
		t.Errorf("facts = %+v", facts)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreFact(ctx, "max", CategoryHealth, "Max ist allergisch gegen Nüsse", 0.8)
	s.StoreFact(ctx, "anna", CategoryPreference, "Anna mag das Schlafzimmer kühl", 0.8)

	results, err := s.Search(ctx, "allergisch gegen Nüsse", "", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Fact.Text, "allergisch") {
		t.Errorf("results = %+v", results)
	}

	// Person filter excludes the other household member's facts.
	results, err = s.Search(ctx, "allergisch gegen Nüsse", "anna", 5)
	if err != nil {
		t.Fatalf("Search (filtered): %v", err)
	}
	for _, r := range results {
		if r.Fact.Person != "anna" {
			t.Errorf("filtered search returned fact for %q", r.Fact.Person)
		}
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fact, _, _ := s.StoreFact(ctx, "max", CategoryGeneral, "wird gleich gelöscht", 0.7)
	if err := s.Delete(ctx, fact.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, fact.ID); err == nil {
		t.Error("deleting a missing fact succeeded")
	}
	if err := s.Delete(ctx, uuid.Nil); err == nil {
		t.Error("deleting an unknown ID succeeded")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.StoreFact(ctx, "max", CategoryWork, "Max arbeitet im Homeoffice", 0.9)
	s.StoreFact(ctx, "anna", CategoryWork, "Anna pendelt nach München", 0.9)
	s.StoreFact(ctx, "anna", CategoryHealth, "Anna verträgt keine Laktose", 0.8)

	stats := s.Stats(ctx)
	if stats["total"] != 3 {
		t.Errorf("total = %v, want 3", stats["total"])
	}
	cats := stats["categories"].(map[string]int)
	if cats["work"] != 2 || cats["health"] != 1 {
		t.Errorf("categories = %v", cats)
	}
}
