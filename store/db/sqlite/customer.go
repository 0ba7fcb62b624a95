package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

func (d *DB) CreateCustomer(ctx context.Context, create *store.Customer) (*store.Customer, error) {
	tags, err := marshalStringSlice(create.Tags)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO customer (id, tenant_id, phone, display_name, locale, tags, first_seen_ts, last_seen_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.Phone, create.DisplayName, create.Locale, tags,
		create.FirstSeenTs, create.LastSeenTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create customer")
	}
	return create, nil
}

func (d *DB) GetCustomer(ctx context.Context, find *store.FindCustomer) (*store.Customer, error) {
	find.Limit = 1
	list, err := d.ListCustomers(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(errdef.ErrNotFound, "customer not found")
	}
	return list[0], nil
}

func (d *DB) ListCustomers(ctx context.Context, find *store.FindCustomer) ([]*store.Customer, error) {
	where, args := []string{"tenant_id = ?"}, []any{find.TenantID}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Phone != nil {
		where, args = append(where, "phone = ?"), append(args, *find.Phone)
	}
	if find.Tag != nil {
		// json_each walks the tags array (JSON1 ships with modernc.org/sqlite).
		where = append(where, "EXISTS (SELECT 1 FROM json_each(customer.tags) WHERE json_each.value = ?)")
		args = append(args, *find.Tag)
	}

	query := `SELECT id, tenant_id, phone, display_name, locale, tags, first_seen_ts, last_seen_ts
		FROM customer WHERE ` + strings.Join(where, " AND ") + ` ORDER BY last_seen_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT ?"
	}
	if find.Offset > 0 {
		args = append(args, find.Offset)
		query += " OFFSET ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list customers")
	}
	defer rows.Close()

	list := []*store.Customer{}
	for rows.Next() {
		c := &store.Customer{}
		var tags string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Phone, &c.DisplayName, &c.Locale, &tags, &c.FirstSeenTs, &c.LastSeenTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan customer")
		}
		if err := unmarshalJSON(tags, &c.Tags); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate customers")
	}
	return list, nil
}

func (d *DB) UpdateCustomer(ctx context.Context, update *store.UpdateCustomer) (*store.Customer, error) {
	set, args := []string{}, []any{}

	if update.DisplayName != nil {
		set, args = append(set, "display_name = ?"), append(args, *update.DisplayName)
	}
	if update.Locale != nil {
		set, args = append(set, "locale = ?"), append(args, *update.Locale)
	}
	if update.Tags != nil {
		tags, err := marshalStringSlice(update.Tags)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "tags = ?"), append(args, tags)
	}
	if update.LastSeenTs != nil {
		set, args = append(set, "last_seen_ts = ?"), append(args, *update.LastSeenTs)
	}
	if len(set) == 0 {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "no fields to update")
	}

	args = append(args, update.TenantID, update.ID)
	stmt := `UPDATE customer SET ` + strings.Join(set, ", ") + `
		WHERE tenant_id = ? AND id = ?
		RETURNING id, tenant_id, phone, display_name, locale, tags, first_seen_ts, last_seen_ts`

	c := &store.Customer{}
	var tags string
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&c.ID, &c.TenantID, &c.Phone, &c.DisplayName, &c.Locale, &tags, &c.FirstSeenTs, &c.LastSeenTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrNotFound, "customer %s", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update customer")
	}
	if err := unmarshalJSON(tags, &c.Tags); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) GetCustomerPreferences(ctx context.Context, tenantID, customerID string) (*store.CustomerPreferences, error) {
	query := `SELECT customer_id, tenant_id, transactional, reminder, promotional, updated_ts
		FROM customer_preferences WHERE tenant_id = ? AND customer_id = ?`

	p := &store.CustomerPreferences{}
	err := d.db.QueryRowContext(ctx, query, tenantID, customerID).Scan(
		&p.CustomerID, &p.TenantID, &p.Transactional, &p.Reminder, &p.Promotional, &p.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrNotFound, "preferences for customer %s", customerID)
		}
		return nil, errors.Wrap(err, "failed to get customer preferences")
	}
	return p, nil
}

// UpdateCustomerPreferences flips consent flags and records one ConsentEvent
// per changed flag in the same transaction, so the audit trail can never
// diverge from the stored flags. The single-connection pool stands in for
// the row lock the postgres driver takes.
func (d *DB) UpdateCustomerPreferences(ctx context.Context, update *store.UpdateCustomerPreferences) (*store.CustomerPreferences, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	current := store.DefaultCustomerPreferences(update.TenantID, update.CustomerID)
	err = tx.QueryRowContext(ctx,
		`SELECT transactional, reminder, promotional FROM customer_preferences
		WHERE tenant_id = ? AND customer_id = ?`,
		update.TenantID, update.CustomerID,
	).Scan(&current.Transactional, &current.Reminder, &current.Promotional)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to read current preferences")
	}

	now := store.NowTs()
	next := *current
	next.UpdatedTs = now

	type change struct {
		kind     store.ConsentKind
		previous bool
		value    bool
	}
	changes := []change{}
	if update.Reminder != nil && *update.Reminder != current.Reminder {
		next.Reminder = *update.Reminder
		changes = append(changes, change{store.ConsentReminder, current.Reminder, next.Reminder})
	}
	if update.Promotional != nil && *update.Promotional != current.Promotional {
		next.Promotional = *update.Promotional
		changes = append(changes, change{store.ConsentPromotional, current.Promotional, next.Promotional})
	}
	if len(changes) == 0 {
		return current, nil
	}

	for _, ch := range changes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO consent_event (id, tenant_id, customer_id, kind, previous, new, source, reason, changed_by, created_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			store.NewID(), update.TenantID, update.CustomerID, ch.kind, ch.previous, ch.value,
			update.Source, update.Reason, update.ChangedBy, now,
		); err != nil {
			return nil, errors.Wrap(err, "failed to record consent event")
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO customer_preferences (customer_id, tenant_id, transactional, reminder, promotional, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (customer_id) DO UPDATE SET
			reminder = excluded.reminder,
			promotional = excluded.promotional,
			updated_ts = excluded.updated_ts`,
		next.CustomerID, next.TenantID, next.Transactional, next.Reminder, next.Promotional, next.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert customer preferences")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit preference change")
	}
	return &next, nil
}

func (d *DB) ListConsentEvents(ctx context.Context, find *store.FindConsentEvent) ([]*store.ConsentEvent, error) {
	where, args := []string{"tenant_id = ?"}, []any{find.TenantID}
	if find.CustomerID != nil {
		where, args = append(where, "customer_id = ?"), append(args, *find.CustomerID)
	}
	if find.Kind != nil {
		where, args = append(where, "kind = ?"), append(args, *find.Kind)
	}

	query := `SELECT id, tenant_id, customer_id, kind, previous, new, source, reason, changed_by, created_ts
		FROM consent_event WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts ASC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list consent events")
	}
	defer rows.Close()

	list := []*store.ConsentEvent{}
	for rows.Next() {
		e := &store.ConsentEvent{}
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CustomerID, &e.Kind, &e.Previous, &e.New, &e.Source, &e.Reason, &e.ChangedBy, &e.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan consent event")
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate consent events")
	}
	return list, nil
}

func (d *DB) CustomerSpendCents(ctx context.Context, tenantID, customerID string) (int64, error) {
	var total sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT SUM(total_cents) FROM customer_order
		WHERE tenant_id = ? AND customer_id = ? AND status <> 'canceled'`,
		tenantID, customerID,
	).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "failed to aggregate customer spend")
	}
	return total.Int64, nil
}
