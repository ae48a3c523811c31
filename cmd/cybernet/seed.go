// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package main

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cybernet/cybernet/internal/auth"
	authpg "github.com/cybernet/cybernet/internal/auth/postgres"
	"github.com/cybernet/cybernet/internal/store"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// Initial admin account created by the seed command.
const (
	seedAdminUsername = "admin"
	seedAdminEmail    = "admin@cybernet.com"
	seedAdminPassword = "CyberNet2024!"
)

// seedConfig holds configuration for the seed subcommand.
type seedConfig struct {
	timeout time.Duration
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial admin account",
		Long: `Creates the initial admin account if it does not exist yet.
This command is idempotent - it will not create duplicates if run multiple times.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, cfg)
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")

	return cmd
}

func runSeed(cmd *cobra.Command, cfg *seedConfig) error {
	databaseURL, err := resolveDatabaseURL(cmd.Flags())
	if err != nil {
		return err
	}

	// Bounded so a wedged database cannot hang the command; cmd.Context()
	// keeps SIGINT working.
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	cmd.Println("Connecting to database...")
	pool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	cmd.Println("Running migrations...")
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		//nolint:errcheck // already failing, close error adds nothing
		m.Close()
		return err
	}
	if err := m.Close(); err != nil {
		return err
	}

	hasher := auth.NewArgon2idHasher()
	hash, err := hasher.Hash(seedAdminPassword)
	if err != nil {
		return oops.Code("SEED_FAILED").With("operation", "hash admin password").Wrap(err)
	}

	admin, err := auth.NewUser(seedAdminUsername, seedAdminEmail, hash)
	if err != nil {
		return oops.Code("SEED_FAILED").With("operation", "build admin user").Wrap(err)
	}

	users := authpg.NewUserRepository(pool)
	if err := users.Create(ctx, admin); err != nil {
		if errors.Is(err, auth.ErrConflict) {
			cmd.Println("Admin user already exists, nothing to do")
			return nil
		}
		return oops.Code("SEED_FAILED").With("operation", "create admin user").Wrap(err)
	}

	cmd.Printf("Admin user created - Username: %s\n", seedAdminUsername)
	return nil
}
