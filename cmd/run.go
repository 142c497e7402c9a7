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
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/penny-vault/spxdata/etl"
	"github.com/penny-vault/spxdata/healthcheck"
	"github.com/penny-vault/spxdata/provider"
	"github.com/penny-vault/spxdata/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var schedule string

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the S&P 500 ETL",
	Long: `The run sub-command executes the ETL once and exits. With --schedule it
runs as a daemon and executes the ETL at the scheduled times instead. The exit
status reflects only the fatal step (constituent fetch); skipped batches,
symbols or upserts are logged and do not change the exit status.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		myStore, err := store.NewFromDB(ctx, viper.GetString("db.url"))
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}
		defer myStore.Close()

		pipeline := &etl.Pipeline{
			Constituents: provider.NewWikipedia(),
			Market:       provider.NewYahoo(viper.GetInt("yahoo.rateLimit")),
			Store:        myStore,
		}

		if schedule == "" {
			if err := runOnce(ctx, pipeline); err != nil {
				os.Exit(1)
			}
			return
		}

		// daemon mode
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(schedule, func() {
			_ = runOnce(ctx, pipeline)
		}); err != nil {
			log.Fatal().Err(err).Str("Schedule", schedule).Msg("invalid schedule expression")
		}

		log.Info().Str("Schedule", schedule).Msg("running as a daemon")
		scheduler.Start()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		stopCtx := scheduler.Stop()
		<-stopCtx.Done()
		log.Info().Msg("daemon stopped")
	},
}

func runOnce(ctx context.Context, pipeline *etl.Pipeline) error {
	err := pipeline.Run(ctx)
	if err != nil {
		if pingErr := healthcheck.Fail(); pingErr != nil {
			log.Error().Err(pingErr).Msg("could not ping health check")
		}
		return err
	}

	if pingErr := healthcheck.Ping(); pingErr != nil {
		log.Error().Err(pingErr).Msg("could not ping health check")
	}

	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&schedule, "schedule", "", "cron expression; when set, run as a daemon (e.g. \"0 18 * * MON-FRI\")")
}
