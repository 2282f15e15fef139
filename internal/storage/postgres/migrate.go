package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/clip-harvester/internal/store"
)

//go:embed schema.sql
var schema string

// Migrate creates the schema and seeds the reference tables. It is idempotent.
func (b *Backend) Migrate(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := seed(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func seed(ctx context.Context, tx pgx.Tx) error {
	for _, p := range store.SeedPeriods {
		if _, err := tx.Exec(ctx,
			`INSERT INTO periods (id, stage, stages, letter, start_month, end_month)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
			p.ID, p.Stage, p.Stages, p.Letter, p.StartMonth, p.EndMonth); err != nil {
			return fmt.Errorf("seed period %s: %w", p, err)
		}
	}
	for _, d := range store.SeedDegrees {
		if _, err := tx.Exec(ctx,
			`INSERT INTO degrees (id, external_id, name) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			d.ID, d.ExternalID, d.Name); err != nil {
			return fmt.Errorf("seed degree %s: %w", d.ExternalID, err)
		}
	}
	for _, tt := range store.SeedTurnTypes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO turn_types (id, abbreviation, name) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			tt.ID, tt.Abbreviation, tt.Name); err != nil {
			return fmt.Errorf("seed turn type %s: %w", tt.Abbreviation, err)
		}
	}
	for _, w := range store.SeedWeekdays {
		if _, err := tx.Exec(ctx,
			`INSERT INTO weekdays (id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			w.ID, w.Name); err != nil {
			return fmt.Errorf("seed weekday %s: %w", w.Name, err)
		}
	}
	// Explicit ids leave the serial sequences behind.
	for _, table := range []string{"periods", "degrees", "turn_types", "weekdays"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), (SELECT MAX(id) FROM %[1]s))`, table)); err != nil {
			return fmt.Errorf("reset %s sequence: %w", table, err)
		}
	}
	return nil
}
