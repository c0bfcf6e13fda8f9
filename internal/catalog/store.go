// Package catalog reads drink options, prices, taste preferences and the rerank
// index from PostgreSQL.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/drink-preview/pkg/pricing"
	"github.com/menta2k/drink-preview/pkg/types"
	"github.com/menta2k/drink-preview/pkg/wizard"
)

const (
	pgUndefinedColumn = "42703"
	pgUndefinedTable  = "42P01"
)

var ErrUnknownCategory = errors.New("catalog: unknown category")

// NewPool opens a pgx pool for databaseURL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var _ DB = (*pgxpool.Pool)(nil)

// Store implements pricing.PriceSource and the wizard's data sources.
type Store struct {
	db  DB
	log zerolog.Logger
}

var (
	_ pricing.PriceSource     = (*Store)(nil)
	_ wizard.PreferenceSource = (*Store)(nil)
	_ wizard.DocumentSource   = (*Store)(nil)
	_ wizard.DefaultsSource   = (*Store)(nil)
)

func NewStore(db DB, logger *zerolog.Logger) *Store {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Store{db: db, log: l.With().Str("component", "catalog").Logger()}
}

func table(cat pricing.Category) (string, error) {
	switch cat {
	case pricing.CategoryBase, pricing.CategorySize, pricing.CategoryMilk, pricing.CategorySyrup, pricing.CategoryTopping:
		return string(cat), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
}

// Catalog loads every option name used to build negative prompts.
func (s *Store) Catalog(ctx context.Context) (types.Catalog, error) {
	var c types.Catalog
	g, gctx := errgroup.WithContext(ctx)
	load := func(query string, dst *[]string) {
		g.Go(func() error {
			names, err := s.names(gctx, query)
			if err != nil {
				return err
			}
			*dst = names
			return nil
		})
	}
	load(`SELECT name FROM bases WHERE is_active = true ORDER BY name`, &c.Bases)
	load(`SELECT name FROM milks ORDER BY name`, &c.Milks)
	load(`SELECT name FROM syrups ORDER BY name`, &c.Syrups)
	load(`SELECT name FROM toppings ORDER BY name`, &c.Toppings)
	if err := g.Wait(); err != nil {
		return types.Catalog{}, fmt.Errorf("catalog: load options: %w", err)
	}
	return c, nil
}

func (s *Store) names(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Price looks up an exact name first, then a case-insensitive partial match.
func (s *Store) Price(ctx context.Context, cat pricing.Category, name string) (float64, bool, error) {
	tbl, err := table(cat)
	if err != nil {
		return 0, false, err
	}
	queries := []struct {
		sql string
		arg string
	}{
		{fmt.Sprintf(`SELECT price FROM %s WHERE name = $1 LIMIT 1`, tbl), name},
		{fmt.Sprintf(`SELECT price FROM %s WHERE name ILIKE $1 LIMIT 1`, tbl), "%" + name + "%"},
	}
	for _, q := range queries {
		var price *float64
		err := s.db.QueryRow(ctx, q.sql, q.arg).Scan(&price)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			if isPgCode(err, pgUndefinedColumn) {
				return 0, false, pricing.ErrPricesUnavailable
			}
			return 0, false, fmt.Errorf("catalog: price: %w", err)
		}
		if price == nil {
			return 0, true, nil
		}
		return *price, true, nil
	}
	return 0, false, nil
}

// LatestPreferences returns nil when no preferences were saved.
func (s *Store) LatestPreferences(ctx context.Context) (*types.Preferences, error) {
	var p types.Preferences
	err := s.db.QueryRow(ctx, `
SELECT COALESCE(aroma_preference, ''), COALESCE(flavor_preference, ''),
       COALESCE(acidity_preference, ''), COALESCE(body_preference, ''),
       COALESCE(aftertaste_preference, '')
FROM user_preferences
ORDER BY created_at DESC
LIMIT 1;
`).Scan(&p.Aroma, &p.Flavor, &p.Acidity, &p.Body, &p.Aftertaste)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: preferences: %w", err)
	}
	return &p, nil
}

// Documents returns the rerank index; an index that was never trained is empty.
func (s *Store) Documents(ctx context.Context) ([]types.OptionDocument, error) {
	rows, err := s.db.Query(ctx, `SELECT id, text, type, COALESCE(data->>'name', '') FROM cohere_documents ORDER BY id`)
	if err != nil {
		if isPgCode(err, pgUndefinedTable) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: documents: %w", err)
	}
	defer rows.Close()

	var docs []types.OptionDocument
	for rows.Next() {
		var d types.OptionDocument
		if err := rows.Scan(&d.ID, &d.Text, &d.Type, &d.Name); err != nil {
			return nil, fmt.Errorf("catalog: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: documents: %w", err)
	}
	return docs, nil
}

// DefaultSizeAndTemperature returns the second-smallest size and the first
// temperature. Missing rows leave the value empty.
func (s *Store) DefaultSizeAndTemperature(ctx context.Context) (string, types.Temperature, error) {
	var size, temp string
	err := s.db.QueryRow(ctx, `SELECT name FROM sizes ORDER BY volume_ml ASC OFFSET 1 LIMIT 1`).Scan(&size)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("catalog: default size: %w", err)
	}
	err = s.db.QueryRow(ctx, `SELECT name FROM temperatures LIMIT 1`).Scan(&temp)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("catalog: default temperature: %w", err)
	}
	return size, types.Temperature(temp), nil
}

// WizardEnabled reports whether the rerank index has been trained.
func (s *Store) WizardEnabled(ctx context.Context) (bool, error) {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM index_training_status ORDER BY created_at DESC LIMIT 1`).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) || isPgCode(err, pgUndefinedTable) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog: training status: %w", err)
	}
	return status == "completed", nil
}

// TrainIndex rebuilds cohere_documents from the option tables and marks the index
// trained. The rewrite runs as one batch, so readers never see a partial index.
func (s *Store) TrainIndex(ctx context.Context) (int, error) {
	profiles, err := s.profiles(ctx)
	if err != nil {
		return 0, err
	}
	docs := wizard.BuildDocuments(profiles)

	b := &pgx.Batch{}
	b.Queue(`
CREATE TABLE IF NOT EXISTS cohere_documents (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  type TEXT NOT NULL,
  data JSONB NOT NULL,
  created_at TIMESTAMP DEFAULT NOW()
)`)
	b.Queue(`
CREATE TABLE IF NOT EXISTS index_training_status (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  status TEXT NOT NULL DEFAULT 'not_started',
  last_trained_at TIMESTAMP,
  created_at TIMESTAMP DEFAULT NOW()
)`)
	b.Queue(`DELETE FROM cohere_documents`)
	for _, d := range docs {
		data, err := json.Marshal(map[string]string{"name": d.Name})
		if err != nil {
			return 0, fmt.Errorf("catalog: encode document data: %w", err)
		}
		b.Queue(`INSERT INTO cohere_documents (id, text, type, data) VALUES ($1, $2, $3, $4)`, d.ID, d.Text, d.Type, data)
	}
	b.Queue(`UPDATE index_training_status SET status = 'completed', last_trained_at = NOW()`)
	b.Queue(`
INSERT INTO index_training_status (status, last_trained_at)
SELECT 'completed', NOW()
WHERE NOT EXISTS (SELECT 1 FROM index_training_status)`)

	br := s.db.SendBatch(ctx, b)
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("catalog: write index: %w", err)
	}
	s.log.Info().Int("documents", len(docs)).Msg("rerank index trained")
	return len(docs), nil
}

func (s *Store) profiles(ctx context.Context) (wizard.Profiles, error) {
	var p wizard.Profiles
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scanAll(gctx, `
SELECT id::text, name, COALESCE(description, ''), COALESCE(aroma, ''), COALESCE(flavor, ''),
       COALESCE(acidity, ''), COALESCE(body, ''), COALESCE(aftertaste, '')
FROM bases WHERE is_active = true ORDER BY id`, func(r pgx.Rows) error {
			var b wizard.BaseProfile
			if err := r.Scan(&b.ID, &b.Name, &b.Description, &b.Aroma, &b.Flavor, &b.Acidity, &b.Body, &b.Aftertaste); err != nil {
				return err
			}
			p.Bases = append(p.Bases, b)
			return nil
		})
	})
	g.Go(func() error {
		return s.scanAll(gctx, `
SELECT id::text, name, COALESCE(flavor_profile, ''), COALESCE(body_contribution, '')
FROM milks ORDER BY id`, func(r pgx.Rows) error {
			var m wizard.MilkProfile
			if err := r.Scan(&m.ID, &m.Name, &m.FlavorProfile, &m.BodyContribution); err != nil {
				return err
			}
			p.Milks = append(p.Milks, m)
			return nil
		})
	})
	g.Go(func() error {
		return s.scanAll(gctx, `
SELECT id::text, name, COALESCE(flavor_notes, ''), COALESCE(sweetness_level, '')
FROM syrups ORDER BY id`, func(r pgx.Rows) error {
			var sy wizard.SyrupProfile
			if err := r.Scan(&sy.ID, &sy.Name, &sy.FlavorNote, &sy.Sweetness); err != nil {
				return err
			}
			p.Syrups = append(p.Syrups, sy)
			return nil
		})
	})
	g.Go(func() error {
		return s.scanAll(gctx, `
SELECT id::text, name, COALESCE(flavor_impact, ''), COALESCE(texture_contribution, '')
FROM toppings ORDER BY id`, func(r pgx.Rows) error {
			var t wizard.ToppingProfile
			if err := r.Scan(&t.ID, &t.Name, &t.FlavorImpact, &t.Texture); err != nil {
				return err
			}
			p.Toppings = append(p.Toppings, t)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return wizard.Profiles{}, fmt.Errorf("catalog: load profiles: %w", err)
	}
	return p, nil
}

func (s *Store) scanAll(ctx context.Context, query string, scan func(pgx.Rows) error) error {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
