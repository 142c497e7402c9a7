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
	"fmt"
	"strings"
	"time"

	"github.com/xeonx/timeago"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const summaryMetricsSQL = `SELECT
	count(*),
	count(ytd_return_percent),
	count(last_fundamentals_update),
	coalesce(max(last_performance_update), '0001-01-01'::timestamptz),
	coalesce(max(last_fundamentals_update), '0001-01-01'::timestamptz)
FROM metrics`

const summaryLastRunSQL = `SELECT coalesce(max(finished_at), '0001-01-01'::timestamptz)
FROM etl_runs WHERE status = 'ok'`

// Summary returns a description of the stock data library in markdown. A
// library that has never completed a run renders with zero counts and
// "never" freshness rather than failing; the dashboard makes the same
// allowance.
func (store *Store) Summary(ctx context.Context) (string, error) {
	p := message.NewPrinter(language.English)
	builder := strings.Builder{}

	builder.WriteString("# S&P 500 Data Library\n\n")
	builder.WriteString(fmt.Sprintf("Database: %s\n\n", store.DBUrl))

	numConstituents := 0
	if err := store.db.QueryRow(ctx, "SELECT count(*) FROM constituents").Scan(&numConstituents); err != nil {
		return "", err
	}

	builder.WriteString(p.Sprintf("  * Constituents: %d\n", numConstituents))

	var (
		numMetrics       int
		withPerformance  int
		withFundamentals int
		performanceMax   time.Time
		fundamentalsMax  time.Time
	)

	if err := store.db.QueryRow(ctx, summaryMetricsSQL).Scan(&numMetrics, &withPerformance,
		&withFundamentals, &performanceMax, &fundamentalsMax); err != nil {
		return "", err
	}

	builder.WriteString(p.Sprintf("  * Metric rows: %d\n", numMetrics))
	builder.WriteString(p.Sprintf("  * With YTD performance: %d (updated %s)\n",
		withPerformance, freshness(performanceMax)))
	builder.WriteString(p.Sprintf("  * With fundamentals: %d (updated %s)\n",
		withFundamentals, freshness(fundamentalsMax)))

	var lastRun time.Time
	if err := store.db.QueryRow(ctx, summaryLastRunSQL).Scan(&lastRun); err != nil {
		return "", err
	}

	builder.WriteString(fmt.Sprintf("\nLast successful run: %s\n", freshness(lastRun)))

	return builder.String(), nil
}

func freshness(t time.Time) string {
	if t.Year() <= 1 {
		return "never"
	}
	return timeago.English.Format(t)
}
