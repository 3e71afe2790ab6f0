// This file is part of record-archiver
//
// Copyright (C) 2024  Datalodge
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/datalodge/record-archiver/pkg/backup"
	"github.com/datalodge/record-archiver/pkg/engine"
)

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run scheduled archival passes until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		var (
			e   *engine.Engine
			bm  *backup.Manager
			err error
		)
		b := &backoff.Backoff{Jitter: true}
		for {
			e, bm, err = newEngine()
			if err == nil {
				break
			}
			logger.Warn("source store unavailable, retrying", zap.Error(err))
			time.Sleep(b.Duration())
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		spec := viper.GetString("schedule")
		c := cron.New()
		_, err = c.AddFunc(spec, func() {
			if _, err := e.Run(ctx, "", "", false); err != nil {
				logger.Error("scheduled archival run failed", zap.Error(err))
			}
			if days := viper.GetInt("backup.cleanup_after_days"); days > 0 {
				removed := bm.Cleanup(days)
				if removed > 0 {
					logger.Info("auto-cleanup removed backups", zap.Int("removed", removed))
				}
			}
		})
		if err != nil {
			logger.Error("invalid schedule", zap.String("schedule", spec), zap.Error(err))
			os.Exit(1)
		}

		logger.Info("agent started", zap.String("schedule", spec))
		c.Start()
		<-ctx.Done()
		logger.Info("shutting down...")

		// Let an in-flight scheduled run finish before exiting.
		<-c.Stop().Done()
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
}
