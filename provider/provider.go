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
	"errors"

	"github.com/penny-vault/spxdata/data"
)

var (
	ErrInvalidStatusCode  = errors.New("invalid status code received")
	ErrNoConstituentTable = errors.New("no table with required constituent columns found")
)

// ConstituentSource retrieves the current index membership. A failure here is
// fatal to an ETL run -- without the identifier set there is nothing to
// reconcile -- so this is the only adapter call that returns an error.
type ConstituentSource interface {
	Constituents(ctx context.Context) ([]*data.Constituent, error)
}

// MarketDataSource retrieves market statistics for a list of symbols. Both
// methods return partial results: symbols (or whole batches) that fail are
// skipped and logged, never escalated. An empty slice is a valid result.
type MarketDataSource interface {
	Performance(ctx context.Context, symbols []string) []*data.Performance
	Fundamentals(ctx context.Context, symbols []string) []*data.Fundamentals
}
