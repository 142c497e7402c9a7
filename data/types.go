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
package data

import (
	"math"
	"strings"
	"time"
)

// Constituent is a single member of the S&P 500 index as reported by the
// constituent source. The full set is replaced on every run; constituents are
// never merged row-by-row so delisted symbols cannot linger.
type Constituent struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

// Performance holds the year-to-date return for a single symbol. LastUpdate
// is the wall-clock time of the successful performance fetch, independent of
// the fundamentals timestamp.
type Performance struct {
	Symbol       string    `json:"symbol"`
	YTDReturnPct float64   `json:"ytd_return_percent"`
	LastUpdate   time.Time `json:"last_performance_update"`
}

// Fundamentals holds slow-moving company data for a single symbol. PERatio is
// nil when neither a trailing nor a forward P/E is available; MarketCapBillions
// is 0 (never nil) when the market cap is unknown. The two unknowns are
// deliberately represented differently because downstream filters treat them
// differently.
type Fundamentals struct {
	Symbol            string    `json:"symbol"`
	Company           string    `json:"company"`
	MarketCapBillions float64   `json:"market_cap_billions"`
	PERatio           *float64  `json:"pe_ratio"`
	LastUpdate        time.Time `json:"last_fundamentals_update"`
}

// StockOverview is the read-side row consumed by the dashboard: a left-outer
// join from constituents to metrics, so every current constituent appears even
// before its metrics have been fetched.
type StockOverview struct {
	Symbol                 string     `db:"symbol"`
	Name                   string     `db:"name"`
	Sector                 string     `db:"sector"`
	Company                *string    `db:"company"`
	MarketCapBillions      *float64   `db:"market_cap_billions"`
	PERatio                *float64   `db:"pe_ratio"`
	YTDReturnPct           *float64   `db:"ytd_return_percent"`
	LastFundamentalsUpdate *time.Time `db:"last_fundamentals_update"`
	LastPerformanceUpdate  *time.Time `db:"last_performance_update"`
}

// NormalizeSymbol converts a ticker to the hyphenated form used by market
// data providers, e.g. share-class suffixes like "BF.B" become "BF-B".
func NormalizeSymbol(symbol string) string {
	return strings.ReplaceAll(strings.TrimSpace(symbol), ".", "-")
}

// Round2 rounds to two decimal places
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// YTDReturn computes the percent change from the first to the last closing
// price of the fetched window, rounded to two decimal places. First and last
// are chronological; for a symbol listed mid-year the return is relative to
// its first available trading day.
func YTDReturn(firstClose, lastClose float64) float64 {
	return Round2((lastClose - firstClose) / firstClose * 100)
}
