package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medpractice/records/internal/domain/dedup"
	"github.com/medpractice/records/internal/platform/auth"
	"github.com/medpractice/records/internal/platform/cache"
	"github.com/medpractice/records/internal/platform/db"
	"github.com/medpractice/records/internal/platform/metrics"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", cfg.DBSchema)
			count, err := db.NewMigrator(pool, dir, cfg.DBSchema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir, cfg.DBSchema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), cfg.DBSchema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.Modified {
				status = "modified"
			}
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// dedupCmd runs detection outside the HTTP server, for batch review.
func dedupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Inspect duplicate patients",
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Print the current duplicate groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withDedupService(cmd.Context(), func(ctx context.Context, svc *dedup.Service) error {
				report, err := svc.Report(ctx)
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), report, asJSON)
			})
		},
	}
	scanCmd.Flags().Bool("json", false, "Print the report as JSON")
	cmd.AddCommand(scanCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the duplicate groups to an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("out")
			if path == "" {
				return fmt.Errorf("--out is required")
			}
			return withDedupService(cmd.Context(), func(ctx context.Context, svc *dedup.Service) error {
				report, err := svc.Report(ctx)
				if err != nil {
					return err
				}
				refs, err := svc.AllReferenceCounts(ctx)
				if err != nil {
					return err
				}
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create %s: %w", path, err)
				}
				if err := dedup.WriteWorkbook(f, report, refs); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d group(s) to %s\n", len(report.Groups), path)
				return nil
			})
		},
	}
	exportCmd.Flags().String("out", "", "Destination .xlsx file")
	cmd.AddCommand(exportCmd)

	return cmd
}

// withDedupService opens the database and hands fn a dedup service without a
// shared cache; every invocation reads a fresh snapshot.
func withDedupService(ctx context.Context, fn func(ctx context.Context, svc *dedup.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	repos := newRepositories(pool)
	store := dedup.NewRepositoryStore(repos.patients, repos.careSheets, repos.prescriptions)
	svcCfg := dedupConfig(cfg, cache.NewMemoryStore(), metrics.New(prometheus.NewRegistry()), logger)
	return fn(ctx, dedup.NewService(store, svcCfg))
}

func printReport(w io.Writer, report *dedup.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	st := report.Statistics
	fmt.Fprintf(w, "Scanned %d patient(s): %d group(s), %d duplicate(s) (high %d, medium %d, low %d)\n",
		report.PatientCount, st.GroupCount, st.TotalDuplicates,
		st.HighConfidenceCount, st.MediumConfidenceCount, st.LowConfidenceCount)
	for _, g := range report.Groups {
		fmt.Fprintf(w, "\n%s  %s/%s\n", g.ID, g.Reason, g.Confidence)
		for i, p := range g.Patients {
			marker := " "
			if i == 0 {
				marker = "*"
			}
			birth := ""
			if p.BirthDate != nil {
				birth = p.BirthDate.Format("2006-01-02")
			}
			fmt.Fprintf(w, "  %s %s  %s, %s  %s  %s\n", marker, p.ID, p.LastName, p.FirstName, birth, p.ExternalID)
		}
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token for an operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			key, _ := cmd.Flags().GetString("signing-key")
			issuer, _ := cmd.Flags().GetString("issuer")
			audience, _ := cmd.Flags().GetString("audience")

			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			if err := checkRoles(roles); err != nil {
				return err
			}
			if len(key) < 32 {
				return fmt.Errorf("signing key must be at least 32 bytes (set --signing-key or AUTH_SIGNING_KEY)")
			}
			token, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     issuer,
				Audience:   audience,
				SigningKey: []byte(key),
			}, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Operator id placed in the sub claim")
	cmd.Flags().StringSlice("roles", []string{auth.RoleSecretary}, "Comma-separated roles")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	cmd.Flags().String("signing-key", os.Getenv("AUTH_SIGNING_KEY"), "HS256 signing key")
	cmd.Flags().String("issuer", envOr("AUTH_ISSUER", "records"), "Token issuer")
	cmd.Flags().String("audience", os.Getenv("AUTH_AUDIENCE"), "Token audience")
	return cmd
}

func checkRoles(roles []string) error {
	if len(roles) == 0 {
		return fmt.Errorf("at least one role is required")
	}
	for _, r := range roles {
		if !auth.IsKnownRole(r) {
			return fmt.Errorf("unknown role %q (want one of %s)", r, strings.Join(auth.Roles(), ", "))
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
