// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package store

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/penny-vault/spxdata/data"
	"github.com/rs/zerolog/log"
)

// DB is the subset of pgxpool.Pool the store uses; tests substitute a fake.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists constituents and metrics. Constituents are replaced
// wholesale each run; metrics rows are upserted with column scope per
// category so a performance write never clobbers fundamentals columns and
// vice versa.
type Store struct {
	DBUrl string

	pool *pgxpool.Pool
	db   DB
}

const (
	insertConstituentSQL = `INSERT INTO constituents ("symbol", "name", "sector") VALUES ($1, $2, $3)`

	upsertPerformanceSQL = `INSERT INTO metrics (
		"symbol",
		"ytd_return_percent",
		"last_performance_update"
	) VALUES (
		$1, $2, $3
	) ON CONFLICT (symbol) DO UPDATE SET
		ytd_return_percent = EXCLUDED.ytd_return_percent,
		last_performance_update = EXCLUDED.last_performance_update`

	upsertFundamentalsSQL = `INSERT INTO metrics (
		"symbol",
		"company",
		"market_cap_billions",
		"pe_ratio",
		"last_fundamentals_update"
	) VALUES (
		$1, $2, $3, $4, $5
	) ON CONFLICT (symbol) DO UPDATE SET
		company = EXCLUDED.company,
		market_cap_billions = EXCLUDED.market_cap_billions,
		pe_ratio = EXCLUDED.pe_ratio,
		last_fundamentals_update = EXCLUDED.last_fundamentals_update`

	overviewSQL = `SELECT
		c.symbol,
		c.name,
		c.sector,
		m.company,
		m.market_cap_billions,
		m.pe_ratio,
		m.ytd_return_percent,
		m.last_fundamentals_update,
		m.last_performance_update
	FROM constituents c
	LEFT JOIN metrics m ON c.symbol = m.symbol
	ORDER BY c.symbol`

	startRunSQL = `INSERT INTO etl_runs ("id", "started_at", "status") VALUES ($1, $2, 'running')`

	finishRunSQL = `UPDATE etl_runs SET
		finished_at = $2,
		num_constituents = $3,
		num_performance = $4,
		num_fundamentals = $5,
		status = $6
	WHERE id = $1`
)

// NewFromDB connects to the database holding the stock data library
func NewFromDB(ctx context.Context, dbURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	return &Store{
		DBUrl: dbURL,
		pool:  pool,
		db:    pool,
	}, nil
}

// Close the database pool
func (store *Store) Close() {
	if store.pool != nil {
		store.pool.Close()
	}
}

// ReplaceConstituents swaps the full constituent relation for the given set
// inside a single transaction. This is deliberately drop-and-reload rather
// than a row-by-row merge: removed or renamed symbols must disappear, and the
// FK cascade clears their metrics rows at the same time.
func (store *Store) ReplaceConstituents(ctx context.Context, constituents []*data.Constituent) error {
	tx, err := store.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM constituents`); err != nil {
		return err
	}

	for _, constituent := range constituents {
		if _, err := tx.Exec(ctx, insertConstituentSQL,
			constituent.Symbol, constituent.Name, constituent.Sector); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("NumConstituents", len(constituents)).Msg("replaced constituent table")
	return nil
}

// UpsertPerformance writes YTD return and its freshness timestamp for each
// record, inserting the metrics row when the symbol is new. Fundamentals
// columns on existing rows are left untouched. Empty input is a no-op.
func (store *Store) UpsertPerformance(ctx context.Context, records []*data.Performance) error {
	if len(records) == 0 {
		log.Warn().Msg("no performance records to upsert")
		return nil
	}

	tx, err := store.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, record := range records {
		if _, err := tx.Exec(ctx, upsertPerformanceSQL,
			record.Symbol, record.YTDReturnPct, record.LastUpdate); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("NumRecords", len(records)).Msg("performance upsert complete")
	return nil
}

// UpsertFundamentals writes company, market cap, P/E and their freshness
// timestamp for each record; performance columns are left untouched. Empty
// input is a no-op.
func (store *Store) UpsertFundamentals(ctx context.Context, records []*data.Fundamentals) error {
	if len(records) == 0 {
		log.Warn().Msg("no fundamentals records to upsert")
		return nil
	}

	tx, err := store.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, record := range records {
		if _, err := tx.Exec(ctx, upsertFundamentalsSQL,
			record.Symbol, record.Company, record.MarketCapBillions,
			record.PERatio, record.LastUpdate); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("NumRecords", len(records)).Msg("fundamentals upsert complete")
	return nil
}

// Overview returns the dashboard read contract: every current constituent,
// left-joined with whatever metrics have been fetched so far. Metric columns
// are nil until that category's first successful fetch for the symbol.
func (store *Store) Overview(ctx context.Context) ([]*data.StockOverview, error) {
	var rows []*data.StockOverview
	err := pgxscan.Select(ctx, store.db, &rows, overviewSQL)
	return rows, err
}

// RunCounts records how many rows each stage of a run produced.
type RunCounts struct {
	Constituents int
	Performance  int
	Fundamentals int
}

// StartRun opens a bookkeeping row for an ETL run and returns its id.
func (store *Store) StartRun(ctx context.Context) (uuid.UUID, error) {
	runID := uuid.New()
	_, err := store.db.Exec(ctx, startRunSQL, runID, time.Now())
	return runID, err
}

// FinishRun closes the bookkeeping row for a run.
func (store *Store) FinishRun(ctx context.Context, runID uuid.UUID, counts RunCounts, status string) error {
	_, err := store.db.Exec(ctx, finishRunSQL, runID, time.Now(),
		counts.Constituents, counts.Performance, counts.Fundamentals, status)
	return err
}
