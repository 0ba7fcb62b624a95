package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

var campaignColumns = `
	id, tenant_id, name, target_criteria, default_content, status, scheduled_ts,
	total_recipients, sent_count, delivered_count, failed_count, read_count,
	response_count, conversion_count, started_ts, completed_ts, creator_id,
	created_ts, updated_ts`

func scanCampaign(scan func(dest ...any) error) (*store.MessageCampaign, error) {
	c := &store.MessageCampaign{}
	if err := scan(
		&c.ID, &c.TenantID, &c.Name, &c.TargetCriteria, &c.DefaultContent, &c.Status, &c.ScheduledTs,
		&c.TotalRecipients, &c.SentCount, &c.DeliveredCount, &c.FailedCount, &c.ReadCount,
		&c.ResponseCount, &c.ConversionCount, &c.StartedTs, &c.CompletedTs, &c.CreatorID,
		&c.CreatedTs, &c.UpdatedTs,
	); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) CreateCampaign(ctx context.Context, create *store.MessageCampaign) (*store.MessageCampaign, error) {
	stmt := `INSERT INTO message_campaign (` + campaignColumns + `)
		VALUES (` + placeholders(19) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.Name, create.TargetCriteria, create.DefaultContent,
		create.Status, create.ScheduledTs,
		create.TotalRecipients, create.SentCount, create.DeliveredCount, create.FailedCount,
		create.ReadCount, create.ResponseCount, create.ConversionCount,
		create.StartedTs, create.CompletedTs, create.CreatorID,
		create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create campaign")
	}
	return create, nil
}

func (d *DB) GetCampaign(ctx context.Context, find *store.FindCampaign) (*store.MessageCampaign, error) {
	find.Limit = 1
	list, err := d.ListCampaigns(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(errdef.ErrNotFound, "campaign not found")
	}
	return list[0], nil
}

func (d *DB) ListCampaigns(ctx context.Context, find *store.FindCampaign) ([]*store.MessageCampaign, error) {
	where, args := []string{"tenant_id = " + placeholder(1)}, []any{find.TenantID}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}

	query := `SELECT ` + campaignColumns + ` FROM message_campaign
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list campaigns")
	}
	defer rows.Close()

	list := []*store.MessageCampaign{}
	for rows.Next() {
		c, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan campaign")
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate campaigns")
	}
	return list, nil
}

// TransitionCampaign conditionally moves status. Entering sending stamps
// started_ts; entering completed stamps completed_ts. A zero-row update
// means the campaign was not in the expected status.
func (d *DB) TransitionCampaign(ctx context.Context, transition *store.CampaignTransition) (*store.MessageCampaign, error) {
	if err := transition.Validate(); err != nil {
		return nil, errors.Wrap(errdef.ErrConflict, err.Error())
	}

	set, args := []string{}, []any{}
	set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, transition.To)
	switch transition.To {
	case store.CampaignSending:
		set, args = append(set, "started_ts = "+placeholder(len(args)+1)), append(args, transition.NowTs)
	case store.CampaignCompleted:
		set, args = append(set, "completed_ts = "+placeholder(len(args)+1)), append(args, transition.NowTs)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, transition.NowTs)

	args = append(args, transition.TenantID, transition.ID, transition.From)
	stmt := `UPDATE message_campaign SET ` + strings.Join(set, ", ") + `
		WHERE tenant_id = ` + placeholder(len(args)-2) + `
			AND id = ` + placeholder(len(args)-1) + `
			AND status = ` + placeholder(len(args)) + `
		RETURNING ` + campaignColumns

	c, err := scanCampaign(func(dest ...any) error {
		return d.db.QueryRowContext(ctx, stmt, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrConflict, "campaign %s is not %s", transition.ID, transition.From)
		}
		return nil, errors.Wrap(err, "failed to transition campaign")
	}
	return c, nil
}

func (d *DB) IncCampaignCounter(ctx context.Context, tenantID, campaignID, field string, delta int) error {
	if !store.ValidCampaignCounter(field) {
		return errors.Wrapf(errdef.ErrInputInvalid, "unknown campaign counter %q", field)
	}
	stmt := `UPDATE message_campaign SET ` + field + ` = ` + field + ` + $1, updated_ts = $2
		WHERE tenant_id = $3 AND id = $4`
	if _, err := d.db.ExecContext(ctx, stmt, delta, store.NowTs(), tenantID, campaignID); err != nil {
		return errors.Wrap(err, "failed to bump campaign counter")
	}
	return nil
}

func (d *DB) CreateCampaignVariant(ctx context.Context, create *store.CampaignVariant) (*store.CampaignVariant, error) {
	stmt := `INSERT INTO campaign_variant
			(id, campaign_id, tenant_id, name, content, assigned_count, sent_count, failed_count, created_ts)
		VALUES (` + placeholders(9) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.CampaignID, create.TenantID, create.Name, create.Content,
		create.AssignedCount, create.SentCount, create.FailedCount, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create campaign variant")
	}
	return create, nil
}

func (d *DB) ListCampaignVariants(ctx context.Context, find *store.FindCampaignVariant) ([]*store.CampaignVariant, error) {
	query := `SELECT id, campaign_id, tenant_id, name, content, assigned_count, sent_count, failed_count, created_ts
		FROM campaign_variant
		WHERE tenant_id = $1 AND campaign_id = $2
		ORDER BY created_ts ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, find.TenantID, find.CampaignID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list campaign variants")
	}
	defer rows.Close()

	list := []*store.CampaignVariant{}
	for rows.Next() {
		v := &store.CampaignVariant{}
		if err := rows.Scan(
			&v.ID, &v.CampaignID, &v.TenantID, &v.Name, &v.Content,
			&v.AssignedCount, &v.SentCount, &v.FailedCount, &v.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan campaign variant")
		}
		list = append(list, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate campaign variants")
	}
	return list, nil
}

func (d *DB) IncVariantCounter(ctx context.Context, tenantID, variantID, field string, delta int) error {
	switch field {
	case "assigned_count", "sent_count", "failed_count":
	default:
		return errors.Wrapf(errdef.ErrInputInvalid, "unknown variant counter %q", field)
	}
	stmt := `UPDATE campaign_variant SET ` + field + ` = ` + field + ` + $1
		WHERE tenant_id = $2 AND id = $3`
	if _, err := d.db.ExecContext(ctx, stmt, delta, tenantID, variantID); err != nil {
		return errors.Wrap(err, "failed to bump variant counter")
	}
	return nil
}
