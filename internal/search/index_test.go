package search

import (
	"sync"
	"testing"
)

// ---------- Options + defaultConfig ----------
func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if def.minPrefixRunes != 2 || def.stopwords != nil || def.maxDocs != 0 {
		t.Fatalf("defaultConfig unexpected: %#v", def)
	}

	cfg := def
	WithMinPrefixRunes(3)(&cfg)
	if cfg.minPrefixRunes != 3 {
		t.Fatalf("WithMinPrefixRunes failed: %d", cfg.minPrefixRunes)
	}
	WithMinPrefixRunes(-1)(&cfg) // no-op
	if cfg.minPrefixRunes != 3 {
		t.Fatalf("negative minPrefixRunes should be ignored")
	}

	WithStopwords([]string{"  TP ", "", "Société"})(&cfg)
	if _, ok := cfg.stopwords["tp"]; !ok {
		t.Fatalf("WithStopwords failed (missing 'tp'): %#v", cfg.stopwords)
	}
	if _, ok := cfg.stopwords["societe"]; !ok {
		t.Fatalf("stopwords should be folded: %#v", cfg.stopwords)
	}

	cfg2 := def
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty stopwords should remain nil")
	}

	WithMaxDocs(2)(&cfg)
	if cfg.maxDocs != 2 {
		t.Fatalf("WithMaxDocs failed: %d", cfg.maxDocs)
	}
	WithMaxDocs(0)(&cfg) // no-op
	if cfg.maxDocs != 2 {
		t.Fatalf("non-positive maxDocs should be ignored")
	}
}

func TestBuildIndex_FiltersAndMaxDocs(t *testing.T) {
	entries := []Entry{
		{ID: "1", Label: ""},
		{ID: "2", Label: " \t "},
		{ID: "3", Label: "TP"}, // only a stopword
		{ID: "4", Label: "Karim Benali"},
		{ID: "5", Label: "Sami Haddad", Text: "0550 12 34 56"},
	}
	idx := NewIndex(entries, WithStopwords([]string{"tp"}))
	if ii, ok := idx.(*index); !ok || len(ii.docs) != 2 {
		t.Fatalf("expected 2 docs, got %#v", idx)
	}

	capped := NewIndex(entries, WithMaxDocs(1))
	if ii, ok := capped.(*index); !ok || len(ii.docs) != 1 {
		t.Fatalf("maxDocs cap failed: %#v", capped)
	}
}

func TestTopK_BranchesAndSorting(t *testing.T) {
	empty := &index{cfg: defaultConfig()}
	if res := empty.TopK("x", 3); res != nil {
		t.Fatalf("empty index should return nil")
	}

	idx := NewIndex([]Entry{
		{ID: "a", Label: "Karim Benali"},
		{ID: "b", Label: "Benali Karim"},
		{ID: "c", Label: "Karim Benali Ouled"},
		{ID: "d", Label: "Sami Haddad"},
	})
	if out := idx.TopK("   ", 2); out != nil {
		t.Fatalf("blank query should return nil")
	}
	if out := idx.TopK("!!!", 2); out != nil {
		t.Fatalf("punctuation-only query should return nil")
	}

	got := idx.TopK("karim benali", 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %#v", got)
	}
	// Equal scores tie-break on label.
	if got[0].ID != "b" || got[1].ID != "a" || got[2].ID != "c" {
		t.Fatalf("unexpected order: %#v", got)
	}
	if got[0].Score != 1.0 || got[2].Score >= 1.0 {
		t.Fatalf("unexpected scores: %#v", got)
	}

	if out := idx.TopK("karim", 1); len(out) != 1 {
		t.Fatalf("k cap failed: %#v", out)
	}
	if out := idx.TopK("zzz", 5); out != nil {
		t.Fatalf("expected nil for no overlap, got %#v", out)
	}
}

func TestTopK_PrefixAndAccentInsensitive(t *testing.T) {
	idx := NewIndex([]Entry{
		{ID: "c1", Label: "Hélène Bénali", Text: "Transports Atlas"},
		{ID: "c2", Label: "Sami Haddad"},
	})

	if out := idx.TopK("hel", 5); len(out) != 1 || out[0].ID != "c1" {
		t.Fatalf("prefix match failed: %#v", out)
	}
	if out := idx.TopK("BENALI", 5); len(out) != 1 || out[0].ID != "c1" {
		t.Fatalf("accent-insensitive match failed: %#v", out)
	}
	if out := idx.TopK("atlas", 5); len(out) != 1 || out[0].Label != "Hélène Bénali" {
		t.Fatalf("extra text should be searchable: %#v", out)
	}
	// single rune tokens only match exactly
	if out := idx.TopK("s", 5); out != nil {
		t.Fatalf("short prefix should not match: %#v", out)
	}
}

func TestLive_ReplaceAndConcurrentReads(t *testing.T) {
	var l Live
	if l.TopK("x", 1) != nil || l.Len() != 0 {
		t.Fatalf("zero Live should be empty")
	}

	l.Replace([]Entry{{ID: "1", Label: "Atlas"}})
	if l.Len() != 1 {
		t.Fatalf("Len = %d", l.Len())
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = l.TopK("atl", 3)
			}
		}()
	}
	l.Replace([]Entry{{ID: "1", Label: "Atlas"}, {ID: "2", Label: "Atlantique"}})
	wg.Wait()

	if out := l.TopK("atl", 5); len(out) != 2 {
		t.Fatalf("expected both entries after Replace, got %#v", out)
	}
}

func TestHelpers_FoldTokenizeOverlap(t *testing.T) {
	if got := fold("Élodie ÇA"); got != "elodie ca" {
		t.Fatalf("fold = %q", got)
	}

	toks := tokenize("Hello HELLO 123 world", nil)
	for _, w := range []string{"hello", "123", "world"} {
		if _, ok := toks[w]; !ok {
			t.Fatalf("tokenize missing %q: %#v", w, toks)
		}
	}
	if len(toks) != 3 {
		t.Fatalf("tokenize should dedupe: %#v", toks)
	}
	if tokenize("$$$ !!!", nil) != nil {
		t.Fatalf("tokenize should return nil when no words")
	}
	toks2 := tokenize("Hello world", map[string]struct{}{"hello": {}})
	if _, ok := toks2["hello"]; ok {
		t.Fatalf("stopword not removed: %#v", toks2)
	}

	if overlap(nil, toks, 2) != 0 || overlap(toks, nil, 2) != 0 {
		t.Fatalf("overlap with nil should be 0")
	}
	q := map[string]struct{}{"wor": {}, "hello": {}}
	if got := overlap(q, toks, 2); got != 2 {
		t.Fatalf("overlap with prefix = %d; want 2", got)
	}
	if got := overlap(q, toks, 0); got != 1 {
		t.Fatalf("overlap without prefix matching = %d; want 1", got)
	}
}
