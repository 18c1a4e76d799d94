// Package knowledge serves curated support entries from an in-memory index.
package knowledge

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/repository"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// Match weights.
const (
	keywordWeight = 3.0
	phraseWeight  = 3.0
	fuzzyWeight   = 1.5
	titleWeight   = 1.0
	fuzzyMinRunes = 5
)

type indexed struct {
	entry    domain.KnowledgeEntry
	keywords map[string]struct{}
	phrases  []string
	title    map[string]struct{}
}

// Index ranks knowledge entries by keyword overlap. Entries are loaded from
// the repository; usage counters are bumped in the background.
type Index struct {
	repo repository.Store

	mu      sync.RWMutex
	entries []indexed

	usageMu sync.Mutex
	usage   chan []string
	closed  bool
	wg      sync.WaitGroup
}

// NewIndex creates an index over repo and starts its usage writer.
func NewIndex(repo repository.Store) *Index {
	idx := &Index{
		repo:  repo,
		usage: make(chan []string, 256),
	}
	idx.wg.Add(1)
	go idx.runUsageWriter()
	return idx
}

// Close stops the usage writer after flushing queued increments.
func (idx *Index) Close() {
	idx.usageMu.Lock()
	if !idx.closed {
		idx.closed = true
		close(idx.usage)
	}
	idx.usageMu.Unlock()
	idx.wg.Wait()
}

func (idx *Index) runUsageWriter() {
	defer idx.wg.Done()
	for ids := range idx.usage {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.repo.IncrementKnowledgeUsage(ctx, ids); err != nil {
			logging.Warn().Err(err).Strs("entries", ids).Msg("knowledge usage update failed")
		}
		cancel()
	}
}

// Reload replaces the in-memory entries with the repository contents.
func (idx *Index) Reload(ctx context.Context) error {
	entries, err := idx.repo.ListKnowledgeEntries(ctx)
	if err != nil {
		return fmt.Errorf("load knowledge: %w", err)
	}
	built := make([]indexed, 0, len(entries))
	for _, e := range entries {
		built = append(built, build(e))
	}

	idx.mu.Lock()
	idx.entries = built
	idx.mu.Unlock()
	return nil
}

func build(e domain.KnowledgeEntry) indexed {
	ix := indexed{
		entry:    e,
		keywords: make(map[string]struct{}, len(e.Keywords)),
		title:    make(map[string]struct{}),
	}
	for _, kw := range e.Keywords {
		n := Normalize(kw)
		if n == "" {
			continue
		}
		if strings.Contains(n, " ") {
			ix.phrases = append(ix.phrases, n)
			continue
		}
		ix.keywords[n] = struct{}{}
	}
	for _, tok := range Tokens(e.Title) {
		ix.title[tok] = struct{}{}
	}
	return ix
}

// Len returns the number of loaded entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

type scored struct {
	entry domain.KnowledgeEntry
	score float64
}

// Search returns up to k entries ranked by keyword overlap with query. An
// empty category searches every category.
func (idx *Index) Search(query string, category domain.Category, k int) []domain.KnowledgeEntry {
	return idx.SearchIn(query, categories(category), k)
}

// SearchIn is Search restricted to a set of categories; nil means all.
func (idx *Index) SearchIn(query string, cats []domain.Category, k int) []domain.KnowledgeEntry {
	if k <= 0 {
		return nil
	}
	tokens := Tokens(query)
	if len(tokens) == 0 {
		return nil
	}
	normalized := " " + strings.Join(tokens, " ") + " "

	idx.mu.RLock()
	var hits []scored
	for i := range idx.entries {
		ix := &idx.entries[i]
		if !inCategories(ix.entry.Category, cats) {
			continue
		}
		if s := score(ix, tokens, normalized); s > 0 {
			hits = append(hits, scored{entry: ix.entry, score: s})
		}
	}
	idx.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.EntryID < hits[j].entry.EntryID
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]domain.KnowledgeEntry, len(hits))
	ids := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.entry
		ids[i] = h.entry.EntryID
	}
	idx.recordUsage(ids)
	return out
}

func score(ix *indexed, tokens []string, normalized string) float64 {
	var total float64
	for _, tok := range tokens {
		if _, ok := ix.keywords[tok]; ok {
			total += keywordWeight
			continue
		}
		if _, ok := ix.title[tok]; ok {
			total += titleWeight
			continue
		}
		if len([]rune(tok)) >= fuzzyMinRunes && fuzzyHit(ix.keywords, tok) {
			total += fuzzyWeight
		}
	}
	for _, p := range ix.phrases {
		if strings.Contains(normalized, " "+p+" ") {
			total += phraseWeight
		}
	}
	return total
}

func fuzzyHit(keywords map[string]struct{}, tok string) bool {
	for kw := range keywords {
		if len([]rune(kw)) < fuzzyMinRunes {
			continue
		}
		if levenshtein.ComputeDistance(kw, tok) <= 1 {
			return true
		}
	}
	return false
}

func (idx *Index) recordUsage(ids []string) {
	if len(ids) == 0 {
		return
	}
	idx.usageMu.Lock()
	defer idx.usageMu.Unlock()
	if idx.closed {
		return
	}
	select {
	case idx.usage <- ids:
	default:
		logging.Debug().Msg("knowledge usage queue full, dropping increment")
	}
}

func categories(c domain.Category) []domain.Category {
	if c == "" {
		return nil
	}
	return []domain.Category{c}
}

func inCategories(c domain.Category, cats []domain.Category) bool {
	if len(cats) == 0 {
		return true
	}
	for _, want := range cats {
		if c == want {
			return true
		}
	}
	return false
}

// GetServiceInfo searches service entries.
func (idx *Index) GetServiceInfo(query string, k int) []domain.KnowledgeEntry {
	return idx.Search(query, domain.CategoryService, k)
}

// GetFAQ searches FAQ entries.
func (idx *Index) GetFAQ(query string, k int) []domain.KnowledgeEntry {
	return idx.Search(query, domain.CategoryFAQ, k)
}

// GetNavigationHelp searches navigation entries.
func (idx *Index) GetNavigationHelp(query string, k int) []domain.KnowledgeEntry {
	return idx.Search(query, domain.CategoryNavigation, k)
}

type seedFile struct {
	Entries []domain.KnowledgeEntry `yaml:"entries"`
}

// Import upserts the entries of a YAML document and reloads the index. It
// returns the number of entries written.
func (idx *Index) Import(ctx context.Context, r io.Reader) (int, error) {
	var doc seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode knowledge yaml: %w", err)
	}
	for i, e := range doc.Entries {
		if e.EntryID == "" || e.Title == "" || e.Content == "" {
			return 0, &domain.ValidationError{Field: fmt.Sprintf("entries[%d]", i), Message: "id, title and content are required"}
		}
		if !e.Category.Valid() {
			return 0, &domain.ValidationError{Field: fmt.Sprintf("entries[%d].category", i), Message: "unknown category " + string(e.Category)}
		}
	}
	for i := range doc.Entries {
		if err := idx.repo.UpsertKnowledgeEntry(ctx, &doc.Entries[i]); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", doc.Entries[i].EntryID, err)
		}
	}
	if err := idx.Reload(ctx); err != nil {
		return 0, err
	}
	return len(doc.Entries), nil
}

// LoadDefaults imports the embedded seed when the repository is empty, then
// loads the index.
func (idx *Index) LoadDefaults(ctx context.Context) error {
	existing, err := idx.repo.ListKnowledgeEntries(ctx)
	if err != nil {
		return fmt.Errorf("load knowledge: %w", err)
	}
	if len(existing) == 0 {
		n, err := idx.Import(ctx, bytes.NewReader(defaultSeed))
		if err != nil {
			return fmt.Errorf("seed knowledge: %w", err)
		}
		logging.Info().Int("entries", n).Msg("knowledge base seeded")
		return nil
	}
	return idx.Reload(ctx)
}
