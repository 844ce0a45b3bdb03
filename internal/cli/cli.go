// Package cli is the subcommand surface: daemon mode plus one-shot
// triggers for sync, schedule, aggregation, the composite runs, and the
// git publish helper.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatsync/internal/app"
	"chatsync/internal/gitops"
	"chatsync/internal/sheet"
	"chatsync/internal/syncer"
	logx "chatsync/pkg/logx"
)

const dateLayout = "2006-01-02"

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	root := newRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func newRoot() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "chatsync",
		Short:         "Facebook page chat analytics: sync, aggregate, report",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Optional .env for tokens and credentials; absence is fine.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(
		newDaemonCmd(&cfgPath),
		newSyncCmd(&cfgPath),
		newScheduleCmd(&cfgPath),
		newAggregateCmd(&cfgPath),
		newDailyCmd(&cfgPath),
		newResyncCmd(&cfgPath),
		newPublishCmd(&cfgPath),
	)
	return root
}

func newDaemonCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run as a long-lived service with cron triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(cmd.Context()); err != nil {
				a.Close()
				return err
			}

			<-a.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			a.Stop(stopCtx)
			cancel()

			if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newSyncCmd(cfgPath *string) *cobra.Command {
	var (
		days     int
		recalcRT bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync conversations and messages from the Graph API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if recalcRT {
				n, err := a.Syncer().RecalcResponseTimes(cmd.Context())
				if err != nil {
					return err
				}
				a.Logger().Info("response time recalculation complete", logx.Int("conversations", n))
				return nil
			}

			// A failed page surfaces as the run error, so this exits
			// non-zero on partial failure too.
			_, err = a.Syncer().Sync(cmd.Context(), syncer.Options{Days: days, Kind: "manual"})
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "force the sync window to N days for every page")
	cmd.Flags().BoolVar(&recalcRT, "recalc-rt", false, "recompute response times only, no fetching")
	return cmd
}

func newScheduleCmd(cfgPath *string) *cobra.Command {
	var (
		date   string
		days   int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Sync agent schedules from the Google Sheet roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				if _, err := time.Parse(dateLayout, date); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.Roster().Sync(cmd.Context(), sheet.Options{
				Date:      date,
				DaysAhead: days,
				DryRun:    dryRun,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "sync a single date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 0, "days ahead to sync (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log would-be updates without writing")
	return cmd
}

func newAggregateCmd(cfgPath *string) *cobra.Command {
	var (
		start string
		end   string
		days  int
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate per-agent daily stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.Config()
			loc, err := time.LoadLocation(cfg.Aggregate.Timezone)
			if err != nil {
				return err
			}
			today := time.Now().In(loc)

			if end == "" {
				end = today.Format(dateLayout)
			} else if _, err := time.Parse(dateLayout, end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if start == "" {
				back := days
				if back <= 0 {
					back = cfg.Aggregate.DaysBack
				}
				start = today.AddDate(0, 0, -back).Format(dateLayout)
			} else if _, err := time.Parse(dateLayout, start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if start > end {
				return fmt.Errorf("start date %s is after end date %s", start, end)
			}

			_, err = a.Stats().Aggregate(cmd.Context(), start, end)
			return err
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&days, "days", 0, "aggregate the last N days (ignored with --start)")
	return cmd
}

func newDailyCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Run the daily pipeline: sync, schedule, aggregate",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.Pipeline().Daily(cmd.Context())
			return err
		},
	}
}

func newResyncCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Force a full 30-day resync with response time recalculation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.Pipeline().Resync(cmd.Context())
			return err
		},
	}
}

func newPublishCmd(cfgPath *string) *cobra.Command {
	var (
		yes     bool
		message string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Commit and push the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.Publisher().Publish(cmd.Context(), gitops.Options{
				Yes:     yes,
				Message: message,
			})
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "push without confirmation")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message (default timestamped)")
	return cmd
}
