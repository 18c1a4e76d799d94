package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// UpsertKnowledgeEntry inserts or replaces a curated entry. The usage counter
// of an existing entry is preserved.
func (s *SQLiteStore) UpsertKnowledgeEntry(ctx context.Context, entry *domain.KnowledgeEntry) error {
	keywords, err := json.Marshal(entry.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	refs, err := json.Marshal(entry.ServiceRefs)
	if err != nil {
		return fmt.Errorf("encode service refs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_entries (entry_id, category, title, content, keywords, service_refs, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entry_id) DO UPDATE SET
			category = excluded.category,
			title = excluded.title,
			content = excluded.content,
			keywords = excluded.keywords,
			service_refs = excluded.service_refs,
			updated_at = excluded.updated_at`,
		entry.EntryID, entry.Category, entry.Title, entry.Content, string(keywords), string(refs),
		micros(time.Now()))
	return err
}

// ListKnowledgeEntries returns every entry ordered by id.
func (s *SQLiteStore) ListKnowledgeEntries(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, category, title, content, keywords, service_refs, usage_count
		 FROM knowledge_entries ORDER BY entry_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.KnowledgeEntry
	for rows.Next() {
		var e domain.KnowledgeEntry
		var keywords, refs sql.NullString
		if err := rows.Scan(&e.EntryID, &e.Category, &e.Title, &e.Content, &keywords, &refs, &e.UsageCount); err != nil {
			return nil, err
		}
		if keywords.Valid {
			if err := json.Unmarshal([]byte(keywords.String), &e.Keywords); err != nil {
				return nil, fmt.Errorf("decode keywords for %s: %w", e.EntryID, err)
			}
		}
		if refs.Valid {
			if err := json.Unmarshal([]byte(refs.String), &e.ServiceRefs); err != nil {
				return nil, fmt.Errorf("decode service refs for %s: %w", e.EntryID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IncrementKnowledgeUsage bumps the usage counter of each listed entry.
func (s *SQLiteStore) IncrementKnowledgeUsage(ctx context.Context, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range entryIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE knowledge_entries SET usage_count = usage_count + 1 WHERE entry_id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
