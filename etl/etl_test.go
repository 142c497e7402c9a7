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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/penny-vault/spxdata/data"
	"github.com/penny-vault/spxdata/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConstituentSource struct {
	constituents []*data.Constituent
	err          error
}

func (src *fakeConstituentSource) Constituents(_ context.Context) ([]*data.Constituent, error) {
	return src.constituents, src.err
}

type fakeMarketSource struct {
	performance  []*data.Performance
	fundamentals []*data.Fundamentals
}

func (src *fakeMarketSource) Performance(_ context.Context, _ []string) []*data.Performance {
	return src.performance
}

func (src *fakeMarketSource) Fundamentals(_ context.Context, _ []string) []*data.Fundamentals {
	return src.fundamentals
}

type fakeStore struct {
	replaced     []*data.Constituent
	performance  []*data.Performance
	fundamentals []*data.Fundamentals

	replaceCalls     int
	performanceCalls int
	fundamentalCalls int

	finishedCounts store.RunCounts
	finishedStatus string
	finishCalls    int

	replaceErr     error
	performanceErr error
	fundamentalErr error
	startRunErr    error
}

func (fs *fakeStore) ReplaceConstituents(_ context.Context, constituents []*data.Constituent) error {
	fs.replaceCalls++
	if fs.replaceErr != nil {
		return fs.replaceErr
	}
	fs.replaced = constituents
	return nil
}

func (fs *fakeStore) UpsertPerformance(_ context.Context, records []*data.Performance) error {
	fs.performanceCalls++
	if fs.performanceErr != nil {
		return fs.performanceErr
	}
	fs.performance = records
	return nil
}

func (fs *fakeStore) UpsertFundamentals(_ context.Context, records []*data.Fundamentals) error {
	fs.fundamentalCalls++
	if fs.fundamentalErr != nil {
		return fs.fundamentalErr
	}
	fs.fundamentals = records
	return nil
}

func (fs *fakeStore) StartRun(_ context.Context) (uuid.UUID, error) {
	if fs.startRunErr != nil {
		return uuid.Nil, fs.startRunErr
	}
	return uuid.New(), nil
}

func (fs *fakeStore) FinishRun(_ context.Context, _ uuid.UUID, counts store.RunCounts, status string) error {
	fs.finishCalls++
	fs.finishedCounts = counts
	fs.finishedStatus = status
	return nil
}

func threeConstituents() []*data.Constituent {
	return []*data.Constituent{
		{Symbol: "AAA", Name: "Alpha Inc", Sector: "Information Technology"},
		{Symbol: "BBB", Name: "Bravo Corp", Sector: "Financials"},
		{Symbol: "CCC", Name: "Charlie Co", Sector: "Energy"},
	}
}

func TestRunHappyPathWithPartialPerformance(t *testing.T) {
	// BBB's performance batch failed upstream; fundamentals succeeded for all
	now := time.Now()
	myStore := &fakeStore{}

	pipeline := &Pipeline{
		Constituents: &fakeConstituentSource{constituents: threeConstituents()},
		Market: &fakeMarketSource{
			performance: []*data.Performance{
				{Symbol: "AAA", YTDReturnPct: 12.5, LastUpdate: now},
				{Symbol: "CCC", YTDReturnPct: -3.25, LastUpdate: now},
			},
			fundamentals: []*data.Fundamentals{
				{Symbol: "AAA", Company: "Alpha Inc", MarketCapBillions: 10.5, LastUpdate: now},
				{Symbol: "BBB", Company: "Bravo Corp", MarketCapBillions: 2.25, LastUpdate: now},
				{Symbol: "CCC", Company: "Charlie Co", MarketCapBillions: 0, LastUpdate: now},
			},
		},
		Store: myStore,
	}

	err := pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, myStore.replaced, 3)
	assert.Len(t, myStore.performance, 2)
	assert.Len(t, myStore.fundamentals, 3)

	assert.Equal(t, StatusOK, myStore.finishedStatus)
	assert.Equal(t, store.RunCounts{Constituents: 3, Performance: 2, Fundamentals: 3}, myStore.finishedCounts)
}

func TestRunConstituentFetchErrorIsFatal(t *testing.T) {
	fetchErr := errors.New("wikipedia unreachable")
	myStore := &fakeStore{}

	pipeline := &Pipeline{
		Constituents: &fakeConstituentSource{err: fetchErr},
		Market:       &fakeMarketSource{},
		Store:        myStore,
	}

	err := pipeline.Run(context.Background())
	require.ErrorIs(t, err, fetchErr)

	// store must be left at its prior state
	assert.Zero(t, myStore.replaceCalls)
	assert.Zero(t, myStore.performanceCalls)
	assert.Zero(t, myStore.fundamentalCalls)
	assert.Equal(t, StatusFailed, myStore.finishedStatus)
}

func TestRunEmptyConstituentListIsFatal(t *testing.T) {
	myStore := &fakeStore{}

	pipeline := &Pipeline{
		Constituents: &fakeConstituentSource{constituents: []*data.Constituent{}},
		Market:       &fakeMarketSource{},
		Store:        myStore,
	}

	err := pipeline.Run(context.Background())
	require.ErrorIs(t, err, ErrNoConstituents)
	assert.Zero(t, myStore.replaceCalls)
	assert.Equal(t, StatusFailed, myStore.finishedStatus)
}

func TestRunEmptyMarketDataSkipsUpserts(t *testing.T) {
	myStore := &fakeStore{}

	pipeline := &Pipeline{
		Constituents: &fakeConstituentSource{constituents: threeConstituents()},
		Market:       &fakeMarketSource{},
		Store:        myStore,
	}

	err := pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, myStore.replaceCalls)
	assert.Zero(t, myStore.performanceCalls)
	assert.Zero(t, myStore.fundamentalCalls)
	assert.Equal(t, StatusOK, myStore.finishedStatus)
}

func TestRunPersistenceErrorsAreIsolated(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		store      *fakeStore
		wantStatus string
	}{
		{
			name:       "constituent replace fails",
			store:      &fakeStore{replaceErr: errors.New("tx error")},
			wantStatus: StatusPartial,
		},
		{
			name:       "performance upsert fails",
			store:      &fakeStore{performanceErr: errors.New("tx error")},
			wantStatus: StatusPartial,
		},
		{
			name:       "fundamentals upsert fails",
			store:      &fakeStore{fundamentalErr: errors.New("tx error")},
			wantStatus: StatusPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline := &Pipeline{
				Constituents: &fakeConstituentSource{constituents: threeConstituents()},
				Market: &fakeMarketSource{
					performance: []*data.Performance{
						{Symbol: "AAA", YTDReturnPct: 1.0, LastUpdate: now},
					},
					fundamentals: []*data.Fundamentals{
						{Symbol: "AAA", Company: "Alpha Inc", LastUpdate: now},
					},
				},
				Store: tt.store,
			}

			// persistence failures never fail the run
			err := pipeline.Run(context.Background())
			require.NoError(t, err)

			// every later step still executed
			assert.Equal(t, 1, tt.store.replaceCalls)
			assert.Equal(t, 1, tt.store.performanceCalls)
			assert.Equal(t, 1, tt.store.fundamentalCalls)
			assert.Equal(t, tt.wantStatus, tt.store.finishedStatus)
		})
	}
}

func TestRunTwiceWithIdenticalUpstreamDataIsIdempotent(t *testing.T) {
	now := time.Now()
	myStore := &fakeStore{}

	pipeline := &Pipeline{
		Constituents: &fakeConstituentSource{constituents: threeConstituents()},
		Market: &fakeMarketSource{
			performance: []*data.Performance{
				{Symbol: "AAA", YTDReturnPct: 12.5, LastUpdate: now},
			},
			fundamentals: []*data.Fundamentals{
				{Symbol: "AAA", Company: "Alpha Inc", MarketCapBillions: 10.5, LastUpdate: now},
			},
		},
		Store: myStore,
	}

	require.NoError(t, pipeline.Run(context.Background()))
	firstConstituents := myStore.replaced
	firstPerformance := myStore.performance
	firstFundamentals := myStore.fundamentals

	require.NoError(t, pipeline.Run(context.Background()))

	assert.Equal(t, firstConstituents, myStore.replaced)
	assert.Equal(t, firstPerformance, myStore.performance)
	assert.Equal(t, firstFundamentals, myStore.fundamentals)
	assert.Equal(t, 2, myStore.replaceCalls)
	assert.Equal(t, StatusOK, myStore.finishedStatus)
}

func TestRunContinuesWhenRunBookkeepingFails(t *testing.T) {
	myStore := &fakeStore{startRunErr: errors.New("insert failed")}

	pipeline := &Pipeline{
		Constituents: &fakeConstituentSource{constituents: threeConstituents()},
		Market:       &fakeMarketSource{},
		Store:        myStore,
	}

	err := pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, myStore.replaceCalls)
	assert.Zero(t, myStore.finishCalls)
}
