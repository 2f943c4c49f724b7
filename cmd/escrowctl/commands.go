package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/app"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/config"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/jobs"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/fee"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/utils"
)

func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Services) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()
	cfg, err := config.LoadFrom(configPath(cmd))
	if err != nil {
		return err
	}
	svc, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return config.PathFromEnv()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				if err := db.Migrate(svc.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
	cmd.Flags().String("config", "", "YAML config file (overrides CONFIG_PATH)")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var batch, parallel int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over settlements pending reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				r := jobs.NewReconciler(svc.Store, svc.Escrow)
				r.Batch, r.Parallel = batch, parallel
				rep, err := r.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}
	cmd.Flags().String("config", "", "YAML config file (overrides CONFIG_PATH)")
	cmd.Flags().IntVar(&batch, "batch", 100, "maximum records per pass")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "records processed concurrently")
	return cmd
}

func retryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [hold-id]",
		Short: "Retry the settlement of one hold, including holds in manual review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid hold id: %w", err)
			}
			return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				rec, err := svc.Escrow.RetrySettlement(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, rec)
			})
		},
	}
	cmd.Flags().String("config", "", "YAML config file (overrides CONFIG_PATH)")
	return cmd
}

func syncAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-account [consultant-id]",
		Short: "Poll the processor for a consultant's connected account and apply it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid consultant id: %w", err)
			}
			return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				acct, err := svc.Accounts.SyncAccount(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, acct)
			})
		},
	}
	cmd.Flags().String("config", "", "YAML config file (overrides CONFIG_PATH)")
	return cmd
}

type feeQuote struct {
	Rate        int   `json:"rate"`
	Amount      int64 `json:"amount"`
	PlatformFee int64 `json:"platform_fee"`
	Net         int64 `json:"net"`
	Upfront     int64 `json:"upfront_release"`
}

func quote(projects int, earnings, amount int64) feeQuote {
	rate := fee.Rate(fee.TrackRecord{CompletedProjects: projects, LifetimeEarnings: earnings})
	platform := fee.PlatformFee(amount, rate)
	return feeQuote{
		Rate:        rate,
		Amount:      amount,
		PlatformFee: platform,
		Net:         amount - platform,
		Upfront:     fee.Percent(amount, 15),
	}
}

func feeCmd() *cobra.Command {
	var projects int
	var earnings, amount int64
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Quote the platform fee for a consultant track record (amounts in cents)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount < 0 || earnings < 0 || projects < 0 {
				return fmt.Errorf("values must not be negative")
			}
			return printJSON(cmd, quote(projects, earnings, amount))
		},
	}
	cmd.Flags().IntVar(&projects, "projects", 0, "completed projects")
	cmd.Flags().Int64Var(&earnings, "earnings", 0, "lifetime earnings in cents")
	cmd.Flags().Int64Var(&amount, "amount", 0, "milestone amount in cents")
	return cmd
}

func tokenCmd() *cobra.Command {
	var uid, role string
	var minutes int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a short-lived API token for an operator or test user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := config.JWTSecretFromEnv()
			if err != nil {
				return err
			}
			if uid == "" {
				uid = uuid.NewString()
			}
			tok, err := utils.SignJWT(secret, uid, role, minutes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "user id (consultant account id for consultants)")
	cmd.Flags().StringVar(&role, "role", "admin", "client, consultant or admin")
	cmd.Flags().IntVar(&minutes, "minutes", 60, "token lifetime")
	return cmd
}
