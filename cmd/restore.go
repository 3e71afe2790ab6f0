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
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore <record-id>",
	Short: "Restore an archived record's payload to stdout.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, _, err := newEngine()
		if err != nil {
			logger.Error("failed to build archival engine", zap.Error(err))
			os.Exit(1)
		}

		payload, err := e.Restore(cmd.Context(), args[0])
		if err != nil {
			logger.Error("restore failed", zap.String("record_id", args[0]), zap.Error(err))
			os.Exit(1)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			logger.Error("failed to write payload", zap.Error(err))
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
