// Package search provides a small, deterministic, concurrency-safe in-memory
// index used for directory autocomplete (chauffeurs, companies).
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options (Option pattern)
//   - Accent-insensitive, Unicode-aware tokenization
//   - Immutable index after construction; Live swaps whole indices atomically
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring is Jaccard similarity between the query token set and each entry's
// token set, where a query token also counts as matched when it is a prefix
// of an entry token (so "kar" finds "Karim"): score = |Q ∩ E| / |Q ∪ E|.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Entry is one searchable record.
type Entry struct {
	ID    string
	Label string // shown to the user
	Text  string // extra searchable text (phone, company name, ...)
}

// Result is a ranked entry with its similarity score.
type Result struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minPrefixRunes int
	stopwords      map[string]struct{}
	maxDocs        int
}

func defaultConfig() config {
	return config{
		minPrefixRunes: 2,
		stopwords:      nil,
		maxDocs:        0,
	}
}

// WithMinPrefixRunes sets how long a query token must be before it may match
// entry tokens by prefix. Shorter tokens only match exactly.
func WithMinPrefixRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minPrefixRunes = n
		}
	}
}

func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = fold(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	entry  Entry
	tokens map[string]struct{}
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndex builds an Index from entries. Entries without tokens are skipped.
func NewIndex(entries []Entry, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(entries, cfg)
}

func buildIndex(entries []Entry, cfg config) *index {
	docs := make([]doc, 0, len(entries))
	for _, e := range entries {
		toks := tokenize(e.Label+" "+e.Text, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{entry: e, tokens: toks})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching entries.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 10
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	buf := make([]Result, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens, i.cfg.minPrefixRunes)
		if over == 0 {
			continue
		}
		union := float64(qLen + len(d.tokens) - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, Result{ID: d.entry.ID, Label: d.entry.Label, Score: float64(over) / union})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].Score != buf[b].Score {
			return buf[a].Score > buf[b].Score
		}
		if buf[a].Label != buf[b].Label {
			return buf[a].Label < buf[b].Label
		}
		return buf[a].ID < buf[b].ID
	})

	if k > len(buf) {
		k = len(buf)
	}
	return buf[:k]
}

// Live holds the current Index and lets a writer replace it while readers
// keep querying. The zero value answers every query with nil.
type Live struct {
	cur atomic.Pointer[index]
}

// Replace swaps in an index built from entries.
func (l *Live) Replace(entries []Entry, opts ...Option) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	l.cur.Store(buildIndex(entries, cfg))
}

// TopK implements Index.
func (l *Live) TopK(q string, k int) []Result {
	i := l.cur.Load()
	if i == nil {
		return nil
	}
	return i.TopK(q, k)
}

// Len reports the number of indexed entries.
func (l *Live) Len() int {
	i := l.cur.Load()
	if i == nil {
		return 0
	}
	return len(i.docs)
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// fold lowercases s and strips diacritics ("Bénali" -> "benali").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

// overlap counts query tokens matched in d, exactly or by prefix.
func overlap(q, d map[string]struct{}, minPrefix int) int {
	if len(q) == 0 || len(d) == 0 {
		return 0
	}
	n := 0
	for qt := range q {
		if _, ok := d[qt]; ok {
			n++
			continue
		}
		if minPrefix <= 0 || len([]rune(qt)) < minPrefix {
			continue
		}
		for dt := range d {
			if strings.HasPrefix(dt, qt) {
				n++
				break
			}
		}
	}
	return n
}
