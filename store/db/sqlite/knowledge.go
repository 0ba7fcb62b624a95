package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

var knowledgeColumns = `
	id, tenant_id, kind, title, content, category, keywords, embedding,
	metadata, priority, active, version, created_ts, updated_ts`

// Embeddings are kept as JSON text so entries survive a later move to
// postgres, but SQLite cannot rank by them.
func scanKnowledgeEntry(scan func(dest ...any) error) (*store.KnowledgeEntry, error) {
	e := &store.KnowledgeEntry{}
	var embedding, metadata string
	if err := scan(
		&e.ID, &e.TenantID, &e.Kind, &e.Title, &e.Content, &e.Category, &e.Keywords, &embedding,
		&metadata, &e.Priority, &e.Active, &e.Version, &e.CreatedTs, &e.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(embedding, &e.Embedding); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
		return nil, err
	}
	return e, nil
}

func embeddingText(embedding []float32) (string, error) {
	if len(embedding) == 0 {
		return "", nil
	}
	return marshalJSON(embedding)
}

func (d *DB) CreateKnowledgeEntry(ctx context.Context, create *store.KnowledgeEntry) (*store.KnowledgeEntry, error) {
	metadata, err := marshalJSON(create.Metadata)
	if err != nil {
		return nil, err
	}
	embedding, err := embeddingText(create.Embedding)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO knowledge_entry (` + knowledgeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.Kind, create.Title, create.Content,
		create.Category, create.Keywords, embedding,
		metadata, create.Priority, create.Active, create.Version,
		create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create knowledge entry")
	}
	return create, nil
}

func (d *DB) GetKnowledgeEntry(ctx context.Context, find *store.FindKnowledgeEntry) (*store.KnowledgeEntry, error) {
	find.Limit = 1
	list, err := d.ListKnowledgeEntries(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(errdef.ErrNotFound, "knowledge entry not found")
	}
	return list[0], nil
}

func (d *DB) ListKnowledgeEntries(ctx context.Context, find *store.FindKnowledgeEntry) ([]*store.KnowledgeEntry, error) {
	where, args := []string{"tenant_id = ?"}, []any{find.TenantID}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Active != nil {
		where, args = append(where, "active = ?"), append(args, *find.Active)
	}
	if len(find.Kinds) > 0 {
		marks := make([]string, len(find.Kinds))
		for i, kind := range find.Kinds {
			args = append(args, kind)
			marks[i] = "?"
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_entry
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY priority DESC, updated_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list knowledge entries")
	}
	defer rows.Close()

	list := []*store.KnowledgeEntry{}
	for rows.Next() {
		e, err := scanKnowledgeEntry(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge entry")
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate knowledge entries")
	}
	return list, nil
}

// UpdateKnowledgeEntry mutates an entry; title or content changes bump the
// version so stale embeddings are detectable.
func (d *DB) UpdateKnowledgeEntry(ctx context.Context, update *store.UpdateKnowledgeEntry) (*store.KnowledgeEntry, error) {
	set, args := []string{}, []any{}
	contentChanged := false

	if update.Kind != nil {
		set, args = append(set, "kind = ?"), append(args, *update.Kind)
	}
	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
		contentChanged = true
	}
	if update.Content != nil {
		set, args = append(set, "content = ?"), append(args, *update.Content)
		contentChanged = true
	}
	if update.Category != nil {
		set, args = append(set, "category = ?"), append(args, *update.Category)
	}
	if update.Keywords != nil {
		set, args = append(set, "keywords = ?"), append(args, *update.Keywords)
	}
	if update.Embedding != nil {
		embedding, err := embeddingText(update.Embedding)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "embedding = ?"), append(args, embedding)
	}
	if update.Metadata != nil {
		metadata, err := marshalJSON(update.Metadata)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "metadata = ?"), append(args, metadata)
	}
	if update.Priority != nil {
		set, args = append(set, "priority = ?"), append(args, *update.Priority)
	}
	if update.Active != nil {
		set, args = append(set, "active = ?"), append(args, *update.Active)
	}
	if len(set) == 0 {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "no fields to update")
	}
	if contentChanged {
		set = append(set, "version = version + 1")
	}
	set, args = append(set, "updated_ts = ?"), append(args, store.NowTs())

	args = append(args, update.TenantID, update.ID)
	stmt := `UPDATE knowledge_entry SET ` + strings.Join(set, ", ") + `
		WHERE tenant_id = ? AND id = ?
		RETURNING ` + knowledgeColumns

	e, err := scanKnowledgeEntry(func(dest ...any) error {
		return d.db.QueryRowContext(ctx, stmt, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrNotFound, "knowledge entry %s", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update knowledge entry")
	}
	return e, nil
}

// SearchKnowledge always reports vector search as unavailable; SQLite has
// no cosine operator. Callers fall back to keyword scoring.
func (d *DB) SearchKnowledge(ctx context.Context, search *store.SearchKnowledge) ([]*store.ScoredKnowledgeEntry, error) {
	return nil, errors.Wrap(errdef.ErrVectorSearchUnavailable, "sqlite driver has no vector index")
}
