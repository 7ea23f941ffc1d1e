package planstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrovue/core/internal/model"
)

func newMockPlanStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresStore_PutRejectsInvalidPlanBeforeAnyQuery(t *testing.T) {
	store, mock := newMockPlanStore(t)
	plan := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "", Active: true, Zones: fullDayZones()}

	err := store.Put(context.Background(), plan)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "validation failure must short-circuit before touching the database")
}

func TestPostgresStore_PutUpsertsValidPlan(t *testing.T) {
	store, mock := newMockPlanStore(t)
	plan := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Weekday Grid", Active: true, Zones: fullDayZones()}

	mock.ExpectQuery(`SELECT count\(\*\) FROM schedule_plans`).
		WithArgs("c1", "Weekday Grid", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO schedule_plans`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Put(context.Background(), plan)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutRejectsDuplicateName(t *testing.T) {
	store, mock := newMockPlanStore(t)
	plan := &model.SchedulePlan{ID: "p2", ChannelID: "c1", Name: "Weekday Grid", Active: true, Zones: fullDayZones()}

	mock.ExpectQuery(`SELECT count\(\*\) FROM schedule_plans`).
		WithArgs("c1", "Weekday Grid", "p2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := store.Put(context.Background(), plan)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDecodesZonesJSON(t *testing.T) {
	store, mock := newMockPlanStore(t)
	zonesJSON := `[{"ID":"z1","Name":"All day","From":0,"To":86400000000000,"DayMask":127,"Assets":[{"Kind":1,"ID":"a1"}]}]`
	rows := sqlmock.NewRows([]string{"id", "channel_id", "name", "cron_day_filter", "start_date", "end_date", "priority", "active", "zones_json"}).
		AddRow("p1", "c1", "Weekday Grid", "", nil, nil, 0, true, []byte(zonesJSON))
	mock.ExpectQuery(`SELECT (.+) FROM schedule_plans WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(rows)

	plan, ok := store.Get(context.Background(), "p1")
	require.True(t, ok)
	assert.Equal(t, "Weekday Grid", plan.Name)
	require.Len(t, plan.Zones, 1)
	assert.Equal(t, model.ID("z1"), plan.Zones[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
