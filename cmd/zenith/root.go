// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the Zenith CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zenith",
		Short: "Zenith - identity and real-time messaging server",
		Long: `Zenith runs a small multi-user web site: registration and login
backed by a shared key-value store, and a WebSocket gateway that binds
live connections to authenticated identities.`,
	}

	cmd.PersistentFlags().String("config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
