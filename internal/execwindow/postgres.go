package execwindow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
)

// executionEntryRow is the sqlx column mapping for the execution_entries
// table. The schema itself (DDL, migrations) is external per the
// specification's scope; this is the query layer's view of it.
type executionEntryRow struct {
	ID                 string         `db:"id"`
	ChannelID          string         `db:"channel_id"`
	StartUTCMs         int64          `db:"start_utc_ms"`
	EndUTCMs           int64          `db:"end_utc_ms"`
	AssetRef           string         `db:"asset_ref"`
	TransmissionLogRef sql.NullString `db:"transmission_log_ref"`
	IsOperatorOverride bool           `db:"is_operator_override"`
	Locked             bool           `db:"locked"`
}

func (r executionEntryRow) toModel() model.ExecutionEntry {
	e := model.ExecutionEntry{
		ID:                 model.ID(r.ID),
		ChannelID:          model.ID(r.ChannelID),
		StartUTCMs:         r.StartUTCMs,
		EndUTCMs:           r.EndUTCMs,
		AssetRef:           model.ID(r.AssetRef),
		IsOperatorOverride: r.IsOperatorOverride,
		Locked:             r.Locked,
	}
	if r.TransmissionLogRef.Valid {
		ref := model.ID(r.TransmissionLogRef.String)
		e.TransmissionLogRef = &ref
	}
	return e
}

func fromModel(e model.ExecutionEntry) executionEntryRow {
	row := executionEntryRow{
		ID:                 string(e.ID),
		ChannelID:          string(e.ChannelID),
		StartUTCMs:         e.StartUTCMs,
		EndUTCMs:           e.EndUTCMs,
		AssetRef:           string(e.AssetRef),
		IsOperatorOverride: e.IsOperatorOverride,
		Locked:             e.Locked,
	}
	if e.TransmissionLogRef != nil {
		row.TransmissionLogRef = sql.NullString{String: string(*e.TransmissionLogRef), Valid: true}
	}
	return row
}

// PostgresStore is a durable ExecutionWindowStore backed by Postgres via
// sqlx. It performs the same derivation/contiguity/overlap checks as the
// in-memory Store before committing, inside a single transaction per
// batch so a rejected batch leaves no partial row behind.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing *sqlx.DB. The caller owns the
// connection lifecycle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AddEntries validates and commits a batch within one transaction: either
// every row is inserted or none are. Derivation and intra-batch contiguity
// are checked in Go, matching Store.AddEntries; the tail-contiguity and
// overlap checks additionally query the current max(end_utc_ms) under the
// transaction so two concurrent writers for the same channel serialize via
// the database row lock on the tail row (`FOR UPDATE`).
func (p *PostgresStore) AddEntries(ctx context.Context, channelID model.ID, entries []model.ExecutionEntry, enforceDerivation bool) error {
	if len(entries) == 0 {
		return nil
	}
	if enforceDerivation {
		for _, e := range entries {
			if !e.Derived() {
				return retrovueerr.New(retrovueerr.CodeInvDerivedFromTransLog, "PostgresStore.AddEntries",
					"entry has neither a transmission_log_ref nor is_operator_override set").
					WithOffending([]string{string(e.ID)}, "")
			}
		}
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].StartUTCMs != entries[i-1].EndUTCMs {
			return retrovueerr.New(retrovueerr.CodeInvNoGaps, "PostgresStore.AddEntries",
				"batch is not internally contiguous")
		}
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodeHorizonExtension, "PostgresStore.AddEntries", err)
	}
	defer tx.Rollback()

	var tailEnd sql.NullInt64
	err = tx.GetContext(ctx, &tailEnd, `
		SELECT max(end_utc_ms) FROM execution_entries
		WHERE channel_id = $1
		FOR UPDATE`, string(channelID))
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodeHorizonExtension, "PostgresStore.AddEntries", err)
	}
	if tailEnd.Valid {
		if entries[0].StartUTCMs < tailEnd.Int64 {
			return retrovueerr.New(retrovueerr.CodeInvSingleAuthority, "PostgresStore.AddEntries",
				"new batch overlaps the existing tail entry")
		}
		if entries[0].StartUTCMs != tailEnd.Int64 {
			return retrovueerr.New(retrovueerr.CodeInvNoGaps, "PostgresStore.AddEntries",
				"new batch does not abut the existing tail entry")
		}
	}

	for _, e := range entries {
		row := fromModel(e)
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO execution_entries
				(id, channel_id, start_utc_ms, end_utc_ms, asset_ref, transmission_log_ref, is_operator_override, locked)
			VALUES
				(:id, :channel_id, :start_utc_ms, :end_utc_ms, :asset_ref, :transmission_log_ref, :is_operator_override, :locked)
		`, row)
		if err != nil {
			return retrovueerr.Wrap(retrovueerr.CodeHorizonExtension, "PostgresStore.AddEntries", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return retrovueerr.Wrap(retrovueerr.CodeHorizonExtension, "PostgresStore.AddEntries", err)
	}
	return nil
}

// EntryAt returns the single entry covering utcMs.
func (p *PostgresStore) EntryAt(ctx context.Context, channelID model.ID, utcMs int64) (model.ExecutionEntry, bool) {
	var row executionEntryRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, channel_id, start_utc_ms, end_utc_ms, asset_ref, transmission_log_ref, is_operator_override, locked
		FROM execution_entries
		WHERE channel_id = $1 AND start_utc_ms <= $2 AND end_utc_ms > $2
		LIMIT 1`, string(channelID), utcMs)
	if err != nil {
		return model.ExecutionEntry{}, false
	}
	return row.toModel(), true
}

// TailEndUTCMs returns the latest committed entry's end timestamp.
func (p *PostgresStore) TailEndUTCMs(ctx context.Context, channelID model.ID) (int64, bool) {
	var tail sql.NullInt64
	err := p.db.GetContext(ctx, &tail, `
		SELECT max(end_utc_ms) FROM execution_entries WHERE channel_id = $1`, string(channelID))
	if err != nil || !tail.Valid {
		return 0, false
	}
	return tail.Int64, true
}

// Lock transitions an entry to locked.
func (p *PostgresStore) Lock(ctx context.Context, channelID model.ID, entryID model.ID) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE execution_entries SET locked = true WHERE id = $1 AND channel_id = $2`,
		string(entryID), string(channelID))
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodeDerivationViolation, "PostgresStore.Lock", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return retrovueerr.New(retrovueerr.CodeDerivationViolation, "PostgresStore.Lock", "unknown execution entry")
	}
	return nil
}

// ProjectBroadcastDay intersects committed rows with [startMs, endMs); it
// issues a SELECT only, never an UPDATE, matching the read-only projection
// invariant.
func (p *PostgresStore) ProjectBroadcastDay(ctx context.Context, channelID model.ID, startMs, endMs int64) ([]model.ExecutionEntry, error) {
	var rows []executionEntryRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, channel_id, start_utc_ms, end_utc_ms, asset_ref, transmission_log_ref, is_operator_override, locked
		FROM execution_entries
		WHERE channel_id = $1 AND end_utc_ms > $2 AND start_utc_ms < $3
		ORDER BY start_utc_ms`, string(channelID), startMs, endMs)
	if err != nil {
		return nil, retrovueerr.Wrap(retrovueerr.CodeHorizonExtension, "PostgresStore.ProjectBroadcastDay",
			fmt.Errorf("query execution_entries: %w", err))
	}
	out := make([]model.ExecutionEntry, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}
