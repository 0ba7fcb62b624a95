package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/store"
)

func (d *DB) CreateProduct(ctx context.Context, create *store.Product) (*store.Product, error) {
	metadata, err := marshalJSON(create.Metadata)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO product
			(id, tenant_id, name, description, category, price_cents, currency, stock, active, metadata, created_ts, updated_ts)
		VALUES (` + placeholders(12) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.Name, create.Description, create.Category,
		create.PriceCents, create.Currency, create.Stock, create.Active, metadata,
		create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create product")
	}
	return create, nil
}

// catalogFilter builds the shared WHERE clause for product and service
// listings, including the (created_ts, id) cursor.
func (d *DB) catalogFilter(ctx context.Context, table string, find *store.FindCatalogItem) (string, []any, error) {
	where, args := []string{"tenant_id = " + placeholder(1)}, []any{find.TenantID}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Active != nil {
		where, args = append(where, "active = "+placeholder(len(args)+1)), append(args, *find.Active)
	}
	if find.Category != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, *find.Category)
	}
	if find.Query != nil && *find.Query != "" {
		pattern := "%" + strings.ToLower(*find.Query) + "%"
		args = append(args, pattern)
		p := placeholder(len(args))
		where = append(where, "(LOWER(name) LIKE "+p+" OR LOWER(description) LIKE "+p+")")
	}
	if find.AfterID != nil {
		args = append(args, *find.AfterID)
		p := placeholder(len(args))
		where = append(where, `(created_ts, id) > (
			SELECT created_ts, id FROM `+table+` WHERE id = `+p+`)`)
	}
	return strings.Join(where, " AND "), args, nil
}

func (d *DB) ListProducts(ctx context.Context, find *store.FindCatalogItem) ([]*store.Product, error) {
	filter, args, err := d.catalogFilter(ctx, "product", find)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, name, description, category, price_cents, currency, stock, active, metadata, created_ts, updated_ts
		FROM product WHERE ` + filter + ` ORDER BY created_ts ASC, id ASC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	defer rows.Close()

	list := []*store.Product{}
	for rows.Next() {
		p := &store.Product{}
		var metadata string
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Description, &p.Category,
			&p.PriceCents, &p.Currency, &p.Stock, &p.Active, &metadata,
			&p.CreatedTs, &p.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan product")
		}
		if err := unmarshalJSON(metadata, &p.Metadata); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate products")
	}
	return list, nil
}

func (d *DB) CreateService(ctx context.Context, create *store.Service) (*store.Service, error) {
	metadata, err := marshalJSON(create.Metadata)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO service
			(id, tenant_id, name, description, category, price_cents, currency, duration_minutes, active, next_available_ts, metadata, created_ts, updated_ts)
		VALUES (` + placeholders(13) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.Name, create.Description, create.Category,
		create.PriceCents, create.Currency, create.DurationMinutes, create.Active,
		create.NextAvailableTs, metadata, create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create service")
	}
	return create, nil
}

func (d *DB) ListServices(ctx context.Context, find *store.FindCatalogItem) ([]*store.Service, error) {
	filter, args, err := d.catalogFilter(ctx, "service", find)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, name, description, category, price_cents, currency, duration_minutes, active, next_available_ts, metadata, created_ts, updated_ts
		FROM service WHERE ` + filter + ` ORDER BY created_ts ASC, id ASC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list services")
	}
	defer rows.Close()

	list := []*store.Service{}
	for rows.Next() {
		s := &store.Service{}
		var metadata string
		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.Name, &s.Description, &s.Category,
			&s.PriceCents, &s.Currency, &s.DurationMinutes, &s.Active,
			&s.NextAvailableTs, &metadata, &s.CreatedTs, &s.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan service")
		}
		if err := unmarshalJSON(metadata, &s.Metadata); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate services")
	}
	return list, nil
}

func (d *DB) CreateOrder(ctx context.Context, create *store.Order) (*store.Order, error) {
	items, err := marshalJSON(create.Items)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO customer_order (id, tenant_id, customer_id, status, total_cents, currency, items, created_ts)
		VALUES (` + placeholders(8) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.CustomerID, create.Status,
		create.TotalCents, create.Currency, items, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create order")
	}
	return create, nil
}

func (d *DB) ListOrders(ctx context.Context, find *store.FindHistory) ([]*store.Order, error) {
	args := []any{find.TenantID, find.CustomerID}
	query := `SELECT id, tenant_id, customer_id, status, total_cents, currency, items, created_ts
		FROM customer_order
		WHERE tenant_id = ` + placeholder(1) + ` AND customer_id = ` + placeholder(2) + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	defer rows.Close()

	list := []*store.Order{}
	for rows.Next() {
		o := &store.Order{}
		var items string
		if err := rows.Scan(&o.ID, &o.TenantID, &o.CustomerID, &o.Status, &o.TotalCents, &o.Currency, &items, &o.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan order")
		}
		if err := unmarshalJSON(items, &o.Items); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate orders")
	}
	return list, nil
}

func (d *DB) CreateAppointment(ctx context.Context, create *store.Appointment) (*store.Appointment, error) {
	stmt := `INSERT INTO appointment (id, tenant_id, customer_id, service_id, status, scheduled_ts, created_ts)
		VALUES (` + placeholders(7) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.CustomerID, create.ServiceID,
		create.Status, create.ScheduledTs, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create appointment")
	}
	return create, nil
}

func (d *DB) ListAppointments(ctx context.Context, find *store.FindHistory) ([]*store.Appointment, error) {
	args := []any{find.TenantID, find.CustomerID}
	query := `SELECT id, tenant_id, customer_id, service_id, status, scheduled_ts, created_ts
		FROM appointment
		WHERE tenant_id = ` + placeholder(1) + ` AND customer_id = ` + placeholder(2) + `
		ORDER BY scheduled_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list appointments")
	}
	defer rows.Close()

	list := []*store.Appointment{}
	for rows.Next() {
		a := &store.Appointment{}
		if err := rows.Scan(&a.ID, &a.TenantID, &a.CustomerID, &a.ServiceID, &a.Status, &a.ScheduledTs, &a.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan appointment")
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate appointments")
	}
	return list, nil
}
