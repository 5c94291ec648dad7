package databases

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryFullText struct {
	mu   sync.RWMutex
	docs map[string]ftsDoc
}

type ftsDoc struct {
	text     string
	metadata map[string]string
}

// NewMemoryFullTextSearch returns an in-memory, substring-scored FullTextSearch,
// used in tests and as the fallback keyword arm when a StoreClient's vector
// backend doesn't double as a keyword index.
func NewMemoryFullTextSearch() FullTextSearch {
	return &memoryFullText{docs: make(map[string]ftsDoc)}
}

func (m *memoryFullText) Index(_ context.Context, id string, text string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = ftsDoc{text: text, metadata: copyMap(metadata)}
	return nil
}

func (m *memoryFullText) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memoryFullText) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []SearchResult
	for id, d := range m.docs {
		lower := strings.ToLower(d.text)
		count := strings.Count(lower, q)
		if q == "" || count == 0 {
			continue
		}
		out = append(out, SearchResult{
			ID:       id,
			Score:    float64(count),
			Snippet:  snippet(d.text, 120),
			Metadata: copyMap(d.metadata),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
