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

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/datalodge/record-archiver/pkg/backup"
	"github.com/datalodge/record-archiver/pkg/engine"
	"github.com/datalodge/record-archiver/pkg/policy"
	"github.com/datalodge/record-archiver/pkg/sourcestore"
)

var (
	cfgFile string
	debug   bool
	logger  *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "record-archiver",
	Short: "Raw API response archival agent.",
	Long:  `record-archiver moves aging or oversized raw API-response records out of the primary store into compressed, integrity-verified backup files, and restores them on demand.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Println(err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if debug {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.record-archiver.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug (default is false)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	newLogger := zap.NewProduction
	if debug {
		newLogger = zap.NewDevelopment
	}
	var err error
	if logger, err = newLogger(); err != nil {
		panic(err)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}

		// Search config in home directory with name ".record-archiver" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".record-archiver")
	}

	// Set default values for config
	viper.SetDefault("source_db", "records.db")
	viper.SetDefault("policy_catalog", "")
	viper.SetDefault("schedule", "0 2 * * *")
	viper.SetDefault("backup.base_path", "backups")
	viper.SetDefault("backup.max_concurrent", 4)
	viper.SetDefault("backup.verify_integrity", true)
	viper.SetDefault("backup.cleanup_after_days", 365)
	viper.SetDefault("backup.compression_level", 6)
	viper.SetDefault("backup.deduplicate", false)
	viper.SetDefault("engine.max_concurrent_tasks", 8)
	viper.SetDefault("engine.history_limit", 100)

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		logger.Info("Using config file: " + viper.ConfigFileUsed())
	}
}

func newPolicyManager() (*policy.Manager, error) {
	catalog := policy.DefaultCatalog()
	if path := viper.GetString("policy_catalog"); path != "" {
		loaded, err := policy.LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	return policy.NewManager(
		policy.WithLogger(logger),
		policy.WithCatalog(catalog),
	)
}

func newBackupManager() (*backup.Manager, error) {
	cfg := backup.Config{
		BasePath:         viper.GetString("backup.base_path"),
		MaxConcurrent:    viper.GetInt64("backup.max_concurrent"),
		VerifyIntegrity:  viper.GetBool("backup.verify_integrity"),
		CleanupAfterDays: viper.GetInt("backup.cleanup_after_days"),
		CompressionLevel: viper.GetInt("backup.compression_level"),
		Deduplicate:      viper.GetBool("backup.deduplicate"),
	}
	cfg.Cloud.Bucket = viper.GetString("backup.cloud.bucket")
	cfg.Cloud.Region = viper.GetString("backup.cloud.region")
	cfg.Cloud.Endpoint = viper.GetString("backup.cloud.endpoint")
	return backup.NewManager(cfg, backup.WithLogger(logger))
}

// newEngine wires the full archival stack from the configuration surface.
func newEngine() (*engine.Engine, *backup.Manager, error) {
	store, err := sourcestore.Open(viper.GetString("source_db"))
	if err != nil {
		return nil, nil, err
	}
	pm, err := newPolicyManager()
	if err != nil {
		return nil, nil, err
	}
	bm, err := newBackupManager()
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(pm, bm, store,
		engine.WithLogger(logger),
		engine.WithMaxConcurrent(viper.GetInt64("engine.max_concurrent_tasks")),
		engine.WithHistoryLimit(viper.GetInt("engine.history_limit")),
	)
	if err != nil {
		return nil, nil, err
	}
	return e, bm, nil
}
