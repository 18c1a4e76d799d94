package domain

// KnowledgeEntry is a curated support article. The core only reads entries;
// the usage counter is informational.
type KnowledgeEntry struct {
	EntryID     string   `json:"entry_id" yaml:"id"`
	Category    Category `json:"category" yaml:"category"`
	Title       string   `json:"title" yaml:"title"`
	Content     string   `json:"content" yaml:"content"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
	ServiceRefs []string `json:"service_refs,omitempty" yaml:"service_refs,omitempty"`
	UsageCount  int64    `json:"usage_count" yaml:"-"`
}
