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
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/spxdata/data"
	"github.com/rs/zerolog"
)

const wikipediaConstituentsURL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"

// requiredColumns must all be present in a table's header for it to be
// recognized as the constituent table. The page carries several tables
// (current members, historical changes) so selection is by column set, not
// position.
var requiredColumns = []string{"Symbol", "Security", "GICS Sector"}

// Wikipedia scrapes the list of S&P 500 companies from the public Wikipedia
// page.
type Wikipedia struct {
	client *resty.Client
	url    string
}

func NewWikipedia() *Wikipedia {
	return &Wikipedia{
		client: resty.New().
			SetHeader("User-Agent", "Mozilla/5.0").
			SetTimeout(1 * time.Minute),
		url: wikipediaConstituentsURL,
	}
}

// Constituents fetches the page and extracts the one table whose columns are
// a superset of requiredColumns. Symbols are normalized to the hyphenated
// form used by market data providers.
func (wiki *Wikipedia) Constituents(ctx context.Context) ([]*data.Constituent, error) {
	logger := zerolog.Ctx(ctx)

	resp, err := wiki.client.R().SetContext(ctx).Get(wiki.url)
	if err != nil {
		return nil, fmt.Errorf("constituent page fetch failed: %w", err)
	}

	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatusCode, resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("constituent page parse failed: %w", err)
	}

	var constituents []*data.Constituent

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		columns := headerColumns(table)
		for _, required := range requiredColumns {
			if _, ok := columns[required]; !ok {
				return true // keep looking
			}
		}

		constituents = parseConstituentTable(table, columns)
		return false
	})

	if constituents == nil {
		return nil, ErrNoConstituentTable
	}

	logger.Info().Int("NumConstituents", len(constituents)).Msg("scraped constituent list")
	return constituents, nil
}

// headerColumns maps header cell text to column index for the first row of a
// table.
func headerColumns(table *goquery.Selection) map[string]int {
	columns := make(map[string]int)
	table.Find("tr").First().Find("th, td").Each(func(idx int, cell *goquery.Selection) {
		columns[strings.TrimSpace(cell.Text())] = idx
	})
	return columns
}

func parseConstituentTable(table *goquery.Selection, columns map[string]int) []*data.Constituent {
	symbolIdx := columns["Symbol"]
	nameIdx := columns["Security"]
	sectorIdx := columns["GICS Sector"]

	constituents := make([]*data.Constituent, 0, 500)

	table.Find("tr").Each(func(rowIdx int, row *goquery.Selection) {
		if rowIdx == 0 {
			return // header
		}

		cells := row.Find("td")
		if cells.Length() <= symbolIdx || cells.Length() <= nameIdx || cells.Length() <= sectorIdx {
			return
		}

		symbol := data.NormalizeSymbol(cells.Eq(symbolIdx).Text())
		if symbol == "" {
			return
		}

		constituents = append(constituents, &data.Constituent{
			Symbol: symbol,
			Name:   strings.TrimSpace(cells.Eq(nameIdx).Text()),
			Sector: strings.TrimSpace(cells.Eq(sectorIdx).Text()),
		})
	})

	return constituents
}
