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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runProvider string
	runEndpoint string
	runDryRun   bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one archival pass over the source store.",
	Run: func(cmd *cobra.Command, args []string) {
		e, _, err := newEngine()
		if err != nil {
			logger.Error("failed to build archival engine", zap.Error(err))
			os.Exit(1)
		}

		// SIGINT/SIGTERM stop new task creation; in-flight tasks finish.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := e.Run(ctx, runProvider, runEndpoint, runDryRun)
		if err != nil {
			logger.Error("archival run failed", zap.Error(err))
			os.Exit(1)
		}

		if summary.DryRun {
			fmt.Printf("dry run: %d candidates, %d would be archived\n",
				summary.CandidatesFound, summary.Planned)
			return
		}
		fmt.Printf("candidates: %d  processed: %d  succeeded: %d  failed: %d  skipped: %d\n",
			summary.CandidatesFound, summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
		fmt.Printf("archived %s (compressed to %s, avg ratio %.1f%%) in %.2fs\n",
			humanize.Bytes(uint64(summary.OriginalMB*1024*1024)),
			humanize.Bytes(uint64(summary.CompressedMB*1024*1024)),
			summary.AvgRatio, summary.Seconds)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runProvider, "provider", "", "only archive records of this provider")
	runCmd.Flags().StringVar(&runEndpoint, "endpoint", "", "only archive records of this endpoint")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "plan tasks without executing them")
}
