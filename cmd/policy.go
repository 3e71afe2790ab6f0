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
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listPolicyHeaders = []string{"ID", "Name", "Provider", "Pattern", "Rules", "Enabled"}

// policyCmd represents the policy command
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the archival policy catalog.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

// policyListCmd represents the policy list command
var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all policies in the catalog.",
	Run: func(cmd *cobra.Command, args []string) {
		pm, err := newPolicyManager()
		if err != nil {
			logger.Error("failed to load policy catalog", zap.Error(err))
			os.Exit(1)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader(listPolicyHeaders)
		for _, p := range pm.Policies() {
			table.Append([]string{
				p.ID, p.Name, p.Provider, p.EndpointPattern,
				strconv.Itoa(len(p.Rules)), strconv.FormatBool(p.Enabled),
			})
		}
		table.Render()
	},
}

// policyStatsCmd represents the policy stats command
var policyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics.",
	Run: func(cmd *cobra.Command, args []string) {
		pm, err := newPolicyManager()
		if err != nil {
			logger.Error("failed to load policy catalog", zap.Error(err))
			os.Exit(1)
		}

		s := pm.Stats()
		fmt.Printf("policies: %d (%d enabled)\n", s.TotalPolicies, s.EnabledPolicies)
		fmt.Printf("rules:    %d (%d enabled)\n", s.TotalRules, s.EnabledRules)
		for trigger, n := range s.RulesByTrigger {
			fmt.Printf("  %-12s %d\n", trigger, n)
		}
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyStatsCmd)
}
