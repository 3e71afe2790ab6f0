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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cleanupOlderThan int

// cleanupCmd represents the cleanup command. Backup records live in memory,
// so this prunes what the current process created; the agent command runs
// it on a schedule where it covers a full process lifetime.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove backups older than the retention cutoff.",
	Run: func(cmd *cobra.Command, args []string) {
		_, bm, err := newEngine()
		if err != nil {
			logger.Error("failed to build archival engine", zap.Error(err))
			os.Exit(1)
		}

		days := cleanupOlderThan
		if days <= 0 {
			days = viper.GetInt("backup.cleanup_after_days")
		}
		removed := bm.Cleanup(days)
		fmt.Printf("removed %d backups older than %d days\n", removed, days)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupOlderThan, "older-than", 0, "age cutoff in days (default from config)")
}
