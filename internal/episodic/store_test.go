package episodic

import (
	"context"
	"strings"
	"testing"
)

// stubEmbedder maps distinct words to distinct dimensions so texts that
// share words are similar and disjoint texts are not.
type stubEmbedder struct {
	vocab map[string]int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vocab: make(map[string]int)}
}

func (e *stubEmbedder) Generate(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
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

func TestStoreAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ep, err := s.Store(ctx, KindConversation, "anna", "anna: Mach das Licht an / Antwort: Erledigt.")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if ep.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("episode has zero ID")
	}
	if ep.CreatedAt.IsZero() {
		t.Error("episode has no timestamp")
	}

	if _, err := s.Store(ctx, KindSummary, "", "Tageszusammenfassung vom 14. März"); err != nil {
		t.Fatalf("Store summary: %v", err)
	}

	convs, err := s.Recent(ctx, KindConversation, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("len(convs) = %d, want 1", len(convs))
	}
	if convs[0].Person != "anna" || convs[0].Kind != KindConversation {
		t.Errorf("episode = %+v", convs[0])
	}

	summaries, err := s.Recent(ctx, KindSummary, 10)
	if err != nil {
		t.Fatalf("Recent summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Person != "" {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	texts := []string{
		"max: Der Zahnarzttermin ist am Donnerstag",
		"anna: Mach die Heizung im Schlafzimmer wärmer",
		"max: Wann ist der Zahnarzttermin nochmal",
	}
	for _, text := range texts {
		if _, err := s.Store(ctx, KindConversation, "", text); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	results, err := s.Search(ctx, "Zahnarzttermin Donnerstag", KindConversation, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if !strings.Contains(results[0].Episode.Text, "Zahnarzttermin") {
		t.Errorf("top result = %q", results[0].Episode.Text)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not ordered by similarity")
	}
}

func TestSearchKindFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Store(ctx, KindConversation, "anna", "Gespräch über das Wetter heute")
	s.Store(ctx, KindSummary, "", "Zusammenfassung über das Wetter heute")

	results, err := s.Search(ctx, "Wetter heute", KindSummary, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Episode.Kind != KindSummary {
		t.Errorf("results = %+v", results)
	}

	all, err := s.Search(ctx, "Wetter heute", "", 5)
	if err != nil {
		t.Fatalf("Search all kinds: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count on empty store = %d", n)
	}
	s.Store(ctx, KindConversation, "anna", "ein Satz")
	s.Store(ctx, KindConversation, "max", "noch ein Satz")
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.0, 0}
	got := decodeVector(encodeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("len = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], vec[i])
		}
	}
}
