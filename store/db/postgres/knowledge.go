package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

var knowledgeColumns = `
	id, tenant_id, kind, title, content, category, keywords, embedding,
	metadata, priority, active, version, created_ts, updated_ts`

func scanKnowledgeEntry(scan func(dest ...any) error) (*store.KnowledgeEntry, error) {
	e := &store.KnowledgeEntry{}
	var vector *pgvector.Vector
	var metadata string
	if err := scan(
		&e.ID, &e.TenantID, &e.Kind, &e.Title, &e.Content, &e.Category, &e.Keywords, &vector,
		&metadata, &e.Priority, &e.Active, &e.Version, &e.CreatedTs, &e.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if vector != nil {
		e.Embedding = vector.Slice()
	}
	if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
		return nil, err
	}
	return e, nil
}

func embeddingArg(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func (d *DB) CreateKnowledgeEntry(ctx context.Context, create *store.KnowledgeEntry) (*store.KnowledgeEntry, error) {
	metadata, err := marshalJSON(create.Metadata)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO knowledge_entry (` + knowledgeColumns + `)
		VALUES (` + placeholders(14) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.Kind, create.Title, create.Content,
		create.Category, create.Keywords, embeddingArg(create.Embedding),
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
	where, args := []string{"tenant_id = " + placeholder(1)}, []any{find.TenantID}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Active != nil {
		where, args = append(where, "active = "+placeholder(len(args)+1)), append(args, *find.Active)
	}
	if len(find.Kinds) > 0 {
		marks := make([]string, len(find.Kinds))
		for i, kind := range find.Kinds {
			args = append(args, kind)
			marks[i] = placeholder(len(args))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_entry
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY priority DESC, updated_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
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
		set, args = append(set, "kind = "+placeholder(len(args)+1)), append(args, *update.Kind)
	}
	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
		contentChanged = true
	}
	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
		contentChanged = true
	}
	if update.Category != nil {
		set, args = append(set, "category = "+placeholder(len(args)+1)), append(args, *update.Category)
	}
	if update.Keywords != nil {
		set, args = append(set, "keywords = "+placeholder(len(args)+1)), append(args, *update.Keywords)
	}
	if update.Embedding != nil {
		set, args = append(set, "embedding = "+placeholder(len(args)+1)), append(args, embeddingArg(update.Embedding))
	}
	if update.Metadata != nil {
		metadata, err := marshalJSON(update.Metadata)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, metadata)
	}
	if update.Priority != nil {
		set, args = append(set, "priority = "+placeholder(len(args)+1)), append(args, *update.Priority)
	}
	if update.Active != nil {
		set, args = append(set, "active = "+placeholder(len(args)+1)), append(args, *update.Active)
	}
	if len(set) == 0 {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "no fields to update")
	}
	if contentChanged {
		set = append(set, "version = version + 1")
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, store.NowTs())

	args = append(args, update.TenantID, update.ID)
	stmt := `UPDATE knowledge_entry SET ` + strings.Join(set, ", ") + `
		WHERE tenant_id = ` + placeholder(len(args)-1) + ` AND id = ` + placeholder(len(args)) + `
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

// SearchKnowledge runs cosine similarity over active entries. pgvector's
// <=> operator returns cosine distance; 1 - distance is the cosine, which
// maps to [0,1] via (cos+1)/2.
func (d *DB) SearchKnowledge(ctx context.Context, search *store.SearchKnowledge) ([]*store.ScoredKnowledgeEntry, error) {
	if len(search.Embedding) == 0 {
		return nil, errors.Wrap(errdef.ErrVectorSearchUnavailable, "no query embedding")
	}

	where, args := []string{"tenant_id = " + placeholder(1), "active = TRUE", "embedding IS NOT NULL"}, []any{search.TenantID}
	if len(search.Kinds) > 0 {
		marks := make([]string, len(search.Kinds))
		for i, kind := range search.Kinds {
			args = append(args, kind)
			marks[i] = placeholder(len(args))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}

	args = append(args, pgvector.NewVector(search.Embedding))
	similarity := `((1 - (embedding <=> ` + placeholder(len(args)) + `)) + 1) / 2`

	if search.MinSimilarity > 0 {
		args = append(args, search.MinSimilarity)
		where = append(where, similarity+" >= "+placeholder(len(args)))
	}

	limit := search.Limit
	if limit <= 0 {
		limit = 5
	}
	args = append(args, limit)

	query := `SELECT ` + knowledgeColumns + `, ` + similarity + ` AS similarity
		FROM knowledge_entry
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY similarity DESC, priority DESC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search knowledge")
	}
	defer rows.Close()

	list := []*store.ScoredKnowledgeEntry{}
	for rows.Next() {
		e := &store.KnowledgeEntry{}
		var vector *pgvector.Vector
		var metadata string
		scored := &store.ScoredKnowledgeEntry{Entry: e}
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.Kind, &e.Title, &e.Content, &e.Category, &e.Keywords, &vector,
			&metadata, &e.Priority, &e.Active, &e.Version, &e.CreatedTs, &e.UpdatedTs,
			&scored.Similarity,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan scored knowledge entry")
		}
		if vector != nil {
			e.Embedding = vector.Slice()
		}
		if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
			return nil, err
		}
		list = append(list, scored)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate scored knowledge entries")
	}
	return list, nil
}
