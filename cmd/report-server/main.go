package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hadadahealth/reports/internal/config"
	"github.com/hadadahealth/reports/internal/platform/auth"
	"github.com/hadadahealth/reports/internal/platform/db"
	"github.com/hadadahealth/reports/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "report-server",
		Short: "Clinical report service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(practiceCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// migrationFiles prefers an on-disk directory so operators can ship hotfix
// SQL without a rebuild, falling back to the embedded set.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the report API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			practice, _ := cmd.Flags().GetString("practice")
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if practice == "" {
				practice = cfg.DefaultPractice
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(practice)
			migrator := db.NewMigrator(pool, migrationFiles(cfg.MigrationsDir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.UpTo(ctx, schema, target)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("practice", "", "Practice whose schema is migrated (defaults to DEFAULT_PRACTICE)")
	upCmd.Flags().Int("to", 0, "Stop after this migration version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			practice, _ := cmd.Flags().GetString("practice")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if practice == "" {
				practice = cfg.DefaultPractice
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(practice)
			migrator := db.NewMigrator(pool, migrationFiles(cfg.MigrationsDir))
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("practice", "", "Practice whose schema is inspected (defaults to DEFAULT_PRACTICE)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func practiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Manage practices",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a practice schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating practice schema: %s\n", db.SchemaFor(name))
			migrator := db.NewMigrator(pool, migrationFiles(cfg.MigrationsDir))
			if err := db.CreatePracticeSchema(ctx, pool, name, migrator); err != nil {
				return err
			}
			fmt.Println("Practice created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Practice identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// sweepCmd runs one overdue/reminder/cache-expiry pass. Meant for cron.
func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Send overdue and reminder notifications and expire stale cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			practice, _ := cmd.Flags().GetString("practice")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if practice == "" {
				practice = cfg.DefaultPractice
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			a, err := newApp(ctx, cfg, pool, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, release, err := db.WithPractice(ctx, pool, practice)
			if err != nil {
				return err
			}
			defer release()
			ctx = auth.WithUser(ctx, "system", auth.RoleAdmin)

			res, err := a.reports.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep %s: %w", practice, err)
			}
			fmt.Printf("practice=%s overdue_notifications=%d reminders=%d cache_entries_expired=%d\n",
				practice, res.OverdueNotified, res.RemindersSent, res.CacheEntriesExpired)
			return nil
		},
	}
	cmd.Flags().String("practice", "", "Practice to sweep (defaults to DEFAULT_PRACTICE)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Abort the sweep after this long")
	return cmd
}
