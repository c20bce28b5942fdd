// cadctl is the operator CLI: SLA escalation sweeps, contact stats
// recalculation, and dead-letter queue inspection and requeue.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/notify"
	"github.com/cadencehq/cadence/internal/services"
	"github.com/cadencehq/cadence/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cadctl",
		Short:         "Operator tooling for the feedback pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")

	root.AddCommand(newSweepCmd(&configPath))
	root.AddCommand(newRecalcCmd(&configPath))
	root.AddCommand(newDLQCmd(&configPath))
	return root
}

func openStore(configPath string) (*config.Config, store.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s: %w", cfg.SQLitePath, err)
	}
	st, err := store.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("init store: %w", err)
	}
	return cfg, st, func() { _ = db.Close() }, nil
}

func newSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Escalate all SLA-breached actions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, closeStore, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer closeStore()
			actions := services.NewActionService(st, notify.NoopSink{}, cfg.SLA)
			n, err := actions.EscalateBreached(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "escalated %d actions\n", n)
			return nil
		},
	}
}

func newRecalcCmd(configPath *string) *cobra.Command {
	var tenantID, email string
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Rebuild a contact's survey stats from stored invites and responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, closeStore, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer closeStore()
			stats, err := services.NewStatsService(st).Recalculate(tenantID, email)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newDLQCmd(configPath *string) *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and requeue dead-lettered jobs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, closeStore, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer closeStore()
			letters, err := st.ListDeadLetters(limit)
			if err != nil {
				return err
			}
			if len(letters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "dead-letter queue is empty")
				return nil
			}
			for _, dl := range letters {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  kind=%s  job=%s  failed=%s  error=%s\n",
					dl.ID, dl.Kind, dl.OriginalJobID, dl.FailedAt.Format(time.RFC3339), dl.ErrorMessage)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")

	requeue := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Move a dead letter back onto the job queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, closeStore, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := st.RequeueDeadLetter(args[0], time.Now().UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", args[0])
			return nil
		},
	}

	dlq.AddCommand(list, requeue)
	return dlq
}
