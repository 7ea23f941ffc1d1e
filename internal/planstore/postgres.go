package planstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
)

// planRow is the sqlx column mapping for the schedule_plans table. Zones
// and their SchedulableAssets are stored as a single JSON document per
// plan rather than normalized, matching how operator-authored schedule
// structure is typically versioned as one document rather than joined
// rows; the schema itself remains external per the specification's scope.
type planRow struct {
	ID            string         `db:"id"`
	ChannelID     string         `db:"channel_id"`
	Name          string         `db:"name"`
	CronDayFilter string         `db:"cron_day_filter"`
	StartDate     sql.NullTime   `db:"start_date"`
	EndDate       sql.NullTime   `db:"end_date"`
	Priority      int            `db:"priority"`
	Active        bool           `db:"active"`
	ZonesJSON     []byte         `db:"zones_json"`
}

// PostgresStore is a durable PlanStore backed by Postgres via sqlx. Every
// write still runs through Validate before touching the database, so the
// invariants PlanStore enforces are identical between the in-memory Store
// and this adapter.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing *sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put validates and upserts a SchedulePlan.
func (p *PostgresStore) Put(ctx context.Context, plan *model.SchedulePlan) error {
	if err := Validate(plan); err != nil {
		return err
	}

	var dup int
	err := p.db.GetContext(ctx, &dup, `
		SELECT count(*) FROM schedule_plans
		WHERE channel_id = $1 AND lower(trim(name)) = lower(trim($2)) AND id != $3`,
		string(plan.ChannelID), plan.Name, string(plan.ID))
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodePlanValidation, "PostgresStore.Put", err)
	}
	if dup > 0 {
		return retrovueerr.New(retrovueerr.CodePlanValidation, "PostgresStore.Put",
			"plan name must be unique per channel (case-insensitive)")
	}

	zonesJSON, err := json.Marshal(plan.Zones)
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodePlanValidation, "PostgresStore.Put", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO schedule_plans (id, channel_id, name, cron_day_filter, start_date, end_date, priority, active, zones_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			name = EXCLUDED.name,
			cron_day_filter = EXCLUDED.cron_day_filter,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			priority = EXCLUDED.priority,
			active = EXCLUDED.active,
			zones_json = EXCLUDED.zones_json`,
		string(plan.ID), string(plan.ChannelID), plan.Name, plan.CronDayFilter,
		nullTime(plan.StartDate), nullTime(plan.EndDate), plan.Priority, plan.Active, zonesJSON)
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodePlanValidation, "PostgresStore.Put", err)
	}
	return nil
}

// Delete removes a plan if present.
func (p *PostgresStore) Delete(ctx context.Context, id model.ID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM schedule_plans WHERE id = $1`, string(id))
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodePlanValidation, "PostgresStore.Delete", err)
	}
	return nil
}

// Get returns the plan with the given id.
func (p *PostgresStore) Get(ctx context.Context, id model.ID) (*model.SchedulePlan, bool) {
	var row planRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, channel_id, name, cron_day_filter, start_date, end_date, priority, active, zones_json
		FROM schedule_plans WHERE id = $1`, string(id))
	if err != nil {
		return nil, false
	}
	plan, err := row.toModel()
	if err != nil {
		return nil, false
	}
	return plan, true
}

// PlansForChannel returns every plan for a channel.
func (p *PostgresStore) PlansForChannel(ctx context.Context, channelID model.ID) []*model.SchedulePlan {
	var rows []planRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, channel_id, name, cron_day_filter, start_date, end_date, priority, active, zones_json
		FROM schedule_plans WHERE channel_id = $1`, string(channelID))
	if err != nil {
		return nil
	}
	out := make([]*model.SchedulePlan, 0, len(rows))
	for _, r := range rows {
		if plan, err := r.toModel(); err == nil {
			out = append(out, plan)
		}
	}
	return out
}

func (r planRow) toModel() (*model.SchedulePlan, error) {
	var zones []*model.Zone
	if err := json.Unmarshal(r.ZonesJSON, &zones); err != nil {
		return nil, err
	}
	plan := &model.SchedulePlan{
		ID:            model.ID(r.ID),
		ChannelID:     model.ID(r.ChannelID),
		Name:          r.Name,
		CronDayFilter: r.CronDayFilter,
		Priority:      r.Priority,
		Active:        r.Active,
		Zones:         zones,
	}
	if r.StartDate.Valid {
		plan.StartDate = &r.StartDate.Time
	}
	if r.EndDate.Valid {
		plan.EndDate = &r.EndDate.Time
	}
	return plan, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
