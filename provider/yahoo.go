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
package provider

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/penny-vault/spxdata/data"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	yahooBaseURL = "https://query1.finance.yahoo.com"
	sparkPath    = "/v8/finance/spark"
	quotePath    = "/v7/finance/quote"

	// performanceBatchSize bounds the number of symbols in a single spark
	// query; a failed batch only loses this many symbols.
	performanceBatchSize = 100
)

// Yahoo fetches YTD price performance and company fundamentals from the Yahoo
// Finance query API. Performance uses the multi-symbol spark endpoint in
// batches; fundamentals are one quote request per symbol because the quote
// fields needed are not available in bulk for this data class.
type Yahoo struct {
	client  *resty.Client
	limiter *rate.Limiter
	baseURL string
}

// NewYahoo creates a Yahoo adapter that issues at most requestsPerMinute
// requests. Both fetch kinds share the limiter so aggregate pacing holds even
// when the two run back to back.
func NewYahoo(requestsPerMinute int) *Yahoo {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}

	return &Yahoo{
		client: resty.New().
			SetHeader("User-Agent", "Mozilla/5.0").
			SetTimeout(30 * time.Second),
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		baseURL: yahooBaseURL,
	}
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type sparkResponse struct {
	Spark struct {
		Result []struct {
			Symbol   string `json:"symbol"`
			Response []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Close []*float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"response"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"spark"`
}

// optionalNumber decodes a quote field that the provider sometimes emits as a
// non-numeric value ("Infinity", "NaN", a bare string) instead of a number.
// Anything that is not a finite number is treated as absent rather than
// failing the whole record.
type optionalNumber struct {
	Value *float64
}

func (number *optionalNumber) UnmarshalJSON(raw []byte) error {
	var parsed float64
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return nil
	}
	number.Value = &parsed
	return nil
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol     string         `json:"symbol"`
			LongName   string         `json:"longName"`
			MarketCap  float64        `json:"marketCap"`
			TrailingPE optionalNumber `json:"trailingPE"`
			ForwardPE  optionalNumber `json:"forwardPE"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"quoteResponse"`
}

// Performance fetches YTD daily closing prices for all symbols in batches and
// computes the YTD return percent per symbol. A failed batch is skipped; a
// symbol with no usable series within a successful batch is skipped. The
// returned slice holds whatever subset succeeded.
func (yahoo *Yahoo) Performance(ctx context.Context, symbols []string) []*data.Performance {
	logger := zerolog.Ctx(ctx)

	records := make([]*data.Performance, 0, len(symbols))
	numBatches := (len(symbols) + performanceBatchSize - 1) / performanceBatchSize

	logger.Info().Int("NumSymbols", len(symbols)).Int("NumBatches", numBatches).
		Msg("fetching YTD performance data")

	for offset := 0; offset < len(symbols); offset += performanceBatchSize {
		end := offset + performanceBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		batch := symbols[offset:end]
		batchNum := offset/performanceBatchSize + 1

		if err := yahoo.limiter.Wait(ctx); err != nil {
			logger.Error().Err(err).Msg("rate limit wait failed")
			return records
		}

		// the spark close series is split- and dividend-adjusted by default;
		// no extra parameter is needed for adjusted prices
		resp, err := yahoo.client.R().
			SetContext(ctx).
			SetQueryParam("symbols", strings.Join(batch, ",")).
			SetQueryParam("range", "ytd").
			SetQueryParam("interval", "1d").
			Get(yahoo.baseURL + sparkPath)
		if err != nil {
			logger.Error().Err(err).Int("Batch", batchNum).Msg("performance batch fetch failed")
			continue
		}

		if resp.StatusCode() >= 300 {
			logger.Error().Int("StatusCode", resp.StatusCode()).Int("Batch", batchNum).
				Msg("performance batch returned an invalid HTTP response")
			continue
		}

		var respContent sparkResponse
		if err := json.Unmarshal(resp.Body(), &respContent); err != nil {
			logger.Error().Err(err).Int("Batch", batchNum).Msg("could not decode spark response")
			continue
		}

		if respContent.Spark.Error != nil {
			logger.Error().Str("Code", respContent.Spark.Error.Code).
				Str("Description", respContent.Spark.Error.Description).
				Int("Batch", batchNum).Msg("spark query returned an error")
			continue
		}

		fetchTime := time.Now()

		closes := make(map[string][]float64, len(batch))
		for _, result := range respContent.Spark.Result {
			for _, series := range result.Response {
				for _, quote := range series.Indicators.Quote {
					closes[result.Symbol] = compactSeries(quote.Close)
				}
			}
		}

		for _, symbol := range batch {
			series, ok := closes[symbol]
			if !ok || len(series) == 0 {
				// present-but-empty means the provider had no YTD data for
				// the symbol; absent means the symbol failed inside the batch
				logger.Warn().Str("Ticker", symbol).Int("Batch", batchNum).
					Msg("no usable YTD series for symbol")
				continue
			}

			if series[0] == 0 {
				// a zero first close would make the percent change undefined
				logger.Warn().Str("Ticker", symbol).Int("Batch", batchNum).
					Msg("first close is zero, cannot compute YTD return")
				continue
			}

			records = append(records, &data.Performance{
				Symbol:       symbol,
				YTDReturnPct: data.YTDReturn(series[0], series[len(series)-1]),
				LastUpdate:   fetchTime,
			})
		}
	}

	logger.Info().Int("NumRecords", len(records)).Msg("finished performance fetch")
	return records
}

// Fundamentals fetches company name, market cap and P/E for each symbol, one
// quote request per symbol. Trailing P/E is preferred, falling back to
// forward P/E; when neither is numeric the ratio is recorded as absent.
// Market cap is normalized to billions with 0 meaning unknown.
func (yahoo *Yahoo) Fundamentals(ctx context.Context, symbols []string) []*data.Fundamentals {
	logger := zerolog.Ctx(ctx)

	records := make([]*data.Fundamentals, 0, len(symbols))

	logger.Info().Int("NumSymbols", len(symbols)).Msg("fetching fundamental data")

	for idx, symbol := range symbols {
		if idx > 0 && idx%25 == 0 {
			logger.Info().Int("Progress", idx).Int("Total", len(symbols)).
				Msg("fundamental fetch progress")
		}

		if err := yahoo.limiter.Wait(ctx); err != nil {
			logger.Error().Err(err).Msg("rate limit wait failed")
			return records
		}

		resp, err := yahoo.client.R().
			SetContext(ctx).
			SetQueryParam("symbols", symbol).
			Get(yahoo.baseURL + quotePath)
		if err != nil {
			logger.Warn().Err(err).Str("Ticker", symbol).Msg("fundamentals fetch failed for symbol")
			continue
		}

		if resp.StatusCode() >= 300 {
			logger.Warn().Int("StatusCode", resp.StatusCode()).Str("Ticker", symbol).
				Msg("fundamentals fetch returned an invalid HTTP response")
			continue
		}

		var respContent quoteResponse
		if err := json.Unmarshal(resp.Body(), &respContent); err != nil {
			logger.Warn().Err(err).Str("Ticker", symbol).Msg("could not decode quote response")
			continue
		}

		if respContent.QuoteResponse.Error != nil || len(respContent.QuoteResponse.Result) == 0 {
			logger.Warn().Str("Ticker", symbol).Msg("quote query returned no result for symbol")
			continue
		}

		quote := respContent.QuoteResponse.Result[0]

		peRatio := quote.TrailingPE.Value
		if peRatio == nil {
			peRatio = quote.ForwardPE.Value
		}

		marketCap := 0.0
		if quote.MarketCap > 0 {
			marketCap = data.Round2(quote.MarketCap / 1e9)
		}

		records = append(records, &data.Fundamentals{
			Symbol:            symbol,
			Company:           quote.LongName,
			MarketCapBillions: marketCap,
			PERatio:           peRatio,
			LastUpdate:        time.Now(),
		})
	}

	logger.Info().Int("NumRecords", len(records)).Msg("finished fundamentals fetch")
	return records
}

// compactSeries drops the nulls the provider emits for non-trading days.
func compactSeries(series []*float64) []float64 {
	compact := make([]float64, 0, len(series))
	for _, value := range series {
		if value != nil {
			compact = append(compact, *value)
		}
	}
	return compact
}
