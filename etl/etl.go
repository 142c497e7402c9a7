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
package etl

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hako/durafmt"
	"github.com/penny-vault/spxdata/data"
	"github.com/penny-vault/spxdata/provider"
	"github.com/penny-vault/spxdata/store"
	"github.com/rs/zerolog/log"
)

// ErrNoConstituents is returned when the constituent source yields nothing.
// It is the only fatal condition of a run: without the identifier set there
// is nothing to reconcile, and the store is left at its prior state.
var ErrNoConstituents = errors.New("constituent fetch returned no data")

// Run status values recorded in etl_runs.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Store is the subset of store.Store the pipeline writes through.
type Store interface {
	ReplaceConstituents(ctx context.Context, constituents []*data.Constituent) error
	UpsertPerformance(ctx context.Context, records []*data.Performance) error
	UpsertFundamentals(ctx context.Context, records []*data.Fundamentals) error
	StartRun(ctx context.Context) (uuid.UUID, error)
	FinishRun(ctx context.Context, runID uuid.UUID, counts store.RunCounts, status string) error
}

// Pipeline sequences one ETL run: constituents, then performance, then
// fundamentals. Each post-constituent step is isolated -- a batch, symbol or
// upsert failure is logged at its own scope and the run proceeds to the next
// step.
type Pipeline struct {
	Constituents provider.ConstituentSource
	Market       provider.MarketDataSource
	Store        Store
}

// Run executes the pipeline once. The returned error is non-nil only when
// the constituent stage failed; partial data loss in later stages surfaces in
// logs and the recorded run status.
func (pipeline *Pipeline) Run(ctx context.Context) error {
	logger := log.With().Str("Component", "etl").Logger()
	ctx = logger.WithContext(ctx)

	startTime := time.Now()
	status := StatusOK
	counts := store.RunCounts{}

	runID, err := pipeline.Store.StartRun(ctx)
	if err != nil {
		// bookkeeping only; the run itself can still proceed
		logger.Error().Err(err).Msg("could not record run start")
		runID = uuid.Nil
	}

	finish := func(status string) {
		if runID == uuid.Nil {
			return
		}
		if err := pipeline.Store.FinishRun(ctx, runID, counts, status); err != nil {
			logger.Error().Err(err).Msg("could not record run completion")
		}
	}

	constituents, err := pipeline.Constituents.Constituents(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("ETL failed: could not get constituent list")
		finish(StatusFailed)
		return err
	}

	if len(constituents) == 0 {
		logger.Error().Msg("ETL failed: constituent list is empty")
		finish(StatusFailed)
		return ErrNoConstituents
	}

	counts.Constituents = len(constituents)

	if err := pipeline.Store.ReplaceConstituents(ctx, constituents); err != nil {
		logger.Error().Err(err).Msg("error replacing constituent table")
		status = StatusPartial
	}

	symbols := make([]string, 0, len(constituents))
	for _, constituent := range constituents {
		symbols = append(symbols, constituent.Symbol)
	}

	performance := pipeline.Market.Performance(ctx, symbols)
	if len(performance) > 0 {
		if err := pipeline.Store.UpsertPerformance(ctx, performance); err != nil {
			logger.Error().Err(err).Msg("error upserting performance data")
			status = StatusPartial
		} else {
			counts.Performance = len(performance)
		}
	} else {
		logger.Warn().Msg("no performance data collected")
	}

	fundamentals := pipeline.Market.Fundamentals(ctx, symbols)
	if len(fundamentals) > 0 {
		if err := pipeline.Store.UpsertFundamentals(ctx, fundamentals); err != nil {
			logger.Error().Err(err).Msg("error upserting fundamentals data")
			status = StatusPartial
		} else {
			counts.Fundamentals = len(fundamentals)
		}
	} else {
		logger.Warn().Msg("no fundamentals data collected")
	}

	finish(status)

	logger.Info().
		Str("RunTime", durafmt.Parse(time.Since(startTime)).String()).
		Int("NumConstituents", counts.Constituents).
		Int("NumPerformance", counts.Performance).
		Int("NumFundamentals", counts.Fundamentals).
		Str("Status", status).
		Msg("ETL run complete")

	return nil
}
