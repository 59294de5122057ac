package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/heartflow/clinic/internal/config"
	"github.com/heartflow/clinic/internal/platform/db"
	"github.com/heartflow/clinic/internal/platform/sandbox"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clinic-server",
		Short:        "HeartFlow clinic API server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(userCmd())
	root.AddCommand(seedCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

// withMigrator opens a pool and a migrator for one migrate subcommand.
func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.IsDev())

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL,
		db.WithConnLimits(2, 1),
		db.WithQueryLog(logger, false),
	)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return fn(ctx, migrator)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				if err := m.Up(ctx); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				v, err := m.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Database is at version %d.\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				return m.Status(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				if err := m.Down(ctx); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				v, err := m.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Database is at version %d.\n", v)
				return nil
			})
		},
	})

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a verified admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			return withApp(func(ctx context.Context, a *app) error {
				acct, err := a.identity.CreateAdmin(ctx, email, password, first, last)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created with id %s.\n", acct.Email, acct.ID)
				return nil
			})
		},
	}
	createAdmin.Flags().String("email", "", "Admin email address")
	createAdmin.Flags().String("password", "", "Admin password")
	createAdmin.Flags().String("first-name", "Admin", "First name")
	createAdmin.Flags().String("last-name", "User", "Last name")

	cmd.AddCommand(createAdmin)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference and demo data",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "catalog",
		Short: "Load the medication catalogue and known interactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, sandbox.SeedConfig{}, false)
		},
	})

	demo := &cobra.Command{
		Use:   "demo",
		Short: "Load the catalogue plus reproducible demo patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("patients")
			seed, _ := cmd.Flags().GetInt64("seed")
			if count < 0 {
				return fmt.Errorf("--patients must not be negative")
			}
			return runSeed(cmd, sandbox.SeedConfig{PatientCount: count, Seed: seed}, true)
		},
	}
	demo.Flags().Int("patients", 20, "Number of demo patients")
	demo.Flags().Int64("seed", 1, "Random seed for demo data")
	cmd.AddCommand(demo)

	return cmd
}

func runSeed(cmd *cobra.Command, cfg sandbox.SeedConfig, withPatients bool) error {
	return withApp(func(ctx context.Context, a *app) error {
		var patients sandbox.Patients
		if withPatients {
			patients = patientSeeder{svc: a.identity}
		}
		seeder := sandbox.NewSeeder(medicationCatalog{svc: a.medication}, patients, a.logger)
		res, err := seeder.Run(ctx, cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Medications: %d created, %d existing\n", res.MedicationsCreated, res.MedicationsExisting)
		fmt.Fprintf(out, "Interactions: %d created, %d existing\n", res.InteractionsCreated, res.InteractionsSkipped)
		if withPatients {
			fmt.Fprintf(out, "Patients: %d created, %d existing\n", res.PatientsCreated, res.PatientsSkipped)
		}
		return nil
	})
}
