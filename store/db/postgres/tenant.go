package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

func (d *DB) CreateTenant(ctx context.Context, create *store.Tenant) (*store.Tenant, error) {
	languages, err := marshalStringSlice(create.AllowedLanguages)
	if err != nil {
		return nil, err
	}
	fields := []string{
		"id", "name", "channel_number", "channel_credential", "allowed_languages",
		"quiet_hours_start", "quiet_hours_end", "timezone",
		"monthly_message_limit", "max_catalog_entries", "campaign_quota",
		"status", "created_ts", "updated_ts",
	}
	args := []any{
		create.ID, create.Name, create.ChannelNumber, create.ChannelCredential, languages,
		create.QuietHoursStart, create.QuietHoursEnd, create.Timezone,
		create.MonthlyMessageLimit, create.MaxCatalogEntries, create.CampaignQuota,
		create.Status, create.CreatedTs, create.UpdatedTs,
	}
	stmt := `INSERT INTO tenant (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create tenant")
	}
	return create, nil
}

func (d *DB) GetTenant(ctx context.Context, find *store.FindTenant) (*store.Tenant, error) {
	list, err := d.ListTenants(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (d *DB) ListTenants(ctx context.Context, find *store.FindTenant) ([]*store.Tenant, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ChannelNumber != nil {
		where, args = append(where, "channel_number = "+placeholder(len(args)+1)), append(args, *find.ChannelNumber)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}

	query := `
		SELECT
			id, name, channel_number, channel_credential, allowed_languages,
			quiet_hours_start, quiet_hours_end, timezone,
			monthly_message_limit, max_catalog_entries, campaign_quota,
			status, created_ts, updated_ts
		FROM tenant
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tenants")
	}
	defer rows.Close()

	list := []*store.Tenant{}
	for rows.Next() {
		t := &store.Tenant{}
		var languages string
		if err := rows.Scan(
			&t.ID, &t.Name, &t.ChannelNumber, &t.ChannelCredential, &languages,
			&t.QuietHoursStart, &t.QuietHoursEnd, &t.Timezone,
			&t.MonthlyMessageLimit, &t.MaxCatalogEntries, &t.CampaignQuota,
			&t.Status, &t.CreatedTs, &t.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan tenant")
		}
		if err := unmarshalJSON(languages, &t.AllowedLanguages); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate tenants")
	}
	return list, nil
}

func (d *DB) UpdateTenant(ctx context.Context, update *store.UpdateTenant) (*store.Tenant, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *update.Name)
	}
	if update.ChannelNumber != nil {
		set, args = append(set, "channel_number = "+placeholder(len(args)+1)), append(args, *update.ChannelNumber)
	}
	if update.ChannelCredential != nil {
		set, args = append(set, "channel_credential = "+placeholder(len(args)+1)), append(args, update.ChannelCredential)
	}
	if update.AllowedLanguages != nil {
		languages, err := marshalStringSlice(update.AllowedLanguages)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "allowed_languages = "+placeholder(len(args)+1)), append(args, languages)
	}
	if update.QuietHoursStart != nil {
		set, args = append(set, "quiet_hours_start = "+placeholder(len(args)+1)), append(args, *update.QuietHoursStart)
	}
	if update.QuietHoursEnd != nil {
		set, args = append(set, "quiet_hours_end = "+placeholder(len(args)+1)), append(args, *update.QuietHoursEnd)
	}
	if update.Timezone != nil {
		set, args = append(set, "timezone = "+placeholder(len(args)+1)), append(args, *update.Timezone)
	}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *update.Status)
	}

	if len(set) == 0 {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "no fields to update")
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, store.NowTs())

	args = append(args, update.ID)
	stmt := `UPDATE tenant SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, name, channel_number, channel_credential, allowed_languages,
			quiet_hours_start, quiet_hours_end, timezone,
			monthly_message_limit, max_catalog_entries, campaign_quota,
			status, created_ts, updated_ts`

	t := &store.Tenant{}
	var languages string
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&t.ID, &t.Name, &t.ChannelNumber, &t.ChannelCredential, &languages,
		&t.QuietHoursStart, &t.QuietHoursEnd, &t.Timezone,
		&t.MonthlyMessageLimit, &t.MaxCatalogEntries, &t.CampaignQuota,
		&t.Status, &t.CreatedTs, &t.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrNotFound, "tenant %s", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update tenant")
	}
	if err := unmarshalJSON(languages, &t.AllowedLanguages); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *DB) UpsertTenantMember(ctx context.Context, upsert *store.TenantMember) (*store.TenantMember, error) {
	if upsert.CreatedTs == 0 {
		upsert.CreatedTs = store.NowTs()
	}
	stmt := `INSERT INTO tenant_member (tenant_id, user_id, role, created_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.TenantID, upsert.UserID, upsert.Role, upsert.CreatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert tenant member")
	}
	return upsert, nil
}

func (d *DB) GetTenantMember(ctx context.Context, find *store.FindTenantMember) (*store.TenantMember, error) {
	where, args := []string{"tenant_id = " + placeholder(1)}, []any{find.TenantID}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	query := `SELECT tenant_id, user_id, role, created_ts FROM tenant_member
		WHERE ` + strings.Join(where, " AND ") + ` LIMIT 1`

	m := &store.TenantMember{}
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&m.TenantID, &m.UserID, &m.Role, &m.CreatedTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errdef.ErrNotAMember, "no membership")
		}
		return nil, errors.Wrap(err, "failed to get tenant member")
	}
	return m, nil
}

func (d *DB) CreateAPIKey(ctx context.Context, create *store.APIKey) (*store.APIKey, error) {
	stmt := `INSERT INTO api_key (id, tenant_id, label, prefix, hash_hex, creator_id, created_ts)
		VALUES (` + placeholders(7) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.Label, create.Prefix, create.HashHex, create.CreatorID, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create api key")
	}
	return create, nil
}

func (d *DB) ListAPIKeys(ctx context.Context, find *store.FindAPIKey) ([]*store.APIKey, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.TenantID != nil {
		where, args = append(where, "tenant_id = "+placeholder(len(args)+1)), append(args, *find.TenantID)
	}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.HashHex != nil {
		where, args = append(where, "hash_hex = "+placeholder(len(args)+1)), append(args, *find.HashHex)
	}

	query := `SELECT id, tenant_id, label, prefix, hash_hex, creator_id, created_ts, last_used_ts
		FROM api_key WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list api keys")
	}
	defer rows.Close()

	list := []*store.APIKey{}
	for rows.Next() {
		k := &store.APIKey{}
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Label, &k.Prefix, &k.HashHex, &k.CreatorID, &k.CreatedTs, &k.LastUsedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan api key")
		}
		list = append(list, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate api keys")
	}
	return list, nil
}

func (d *DB) DeleteAPIKey(ctx context.Context, del *store.DeleteAPIKey) error {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM api_key WHERE tenant_id = `+placeholder(1)+` AND id = `+placeholder(2),
		del.TenantID, del.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete api key")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Wrapf(errdef.ErrNotFound, "api key %s", del.ID)
	}
	return nil
}

func (d *DB) TouchAPIKey(ctx context.Context, id string, usedTs int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE api_key SET last_used_ts = `+placeholder(1)+` WHERE id = `+placeholder(2),
		usedTs, id)
	return errors.Wrap(err, "failed to touch api key")
}
