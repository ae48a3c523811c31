// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the CyberNet CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cybernet",
		Short: "CyberNet - secure account portal",
		Long: `CyberNet is a web application providing account registration,
session-based login, and email-driven password recovery.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())

	return cmd
}
