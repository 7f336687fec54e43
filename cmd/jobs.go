package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
)

var (
	workerMode    bool
	statementDate string
)

type jobFunc func(l *ledger, cfg *config.Config, ctx context.Context) (int, error)

// ledgerJobs maps the job names used by the CLI and the schedule file to
// their batch function and default worker interval.
var ledgerJobs = map[string]struct {
	interval func(cfg *config.Config) time.Duration
	run      jobFunc
}{
	"invoices-post": {
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.PostInvoicesInterval },
		run: func(l *ledger, cfg *config.Config, ctx context.Context) (int, error) {
			return l.invoices.RunPostInvoicesBatch(ctx, cfg.Ledger.JobBatchSize)
		},
	},
	"invoices-flag-stale": {
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.FlagStaleInterval },
		run: func(l *ledger, cfg *config.Config, ctx context.Context) (int, error) {
			return l.invoices.RunFlagStaleBatch(ctx, cfg.Ledger.JobBatchSize)
		},
	},
	"accounts-activate-pad": {
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.ActivatePADInterval },
		run: func(l *ledger, cfg *config.Config, ctx context.Context) (int, error) {
			return l.accounts.RunActivatePADBatch(ctx, cfg.Ledger.JobBatchSize)
		},
	},
	"statements-generate": {
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.StatementsInterval },
		run: func(l *ledger, cfg *config.Config, ctx context.Context) (int, error) {
			date, err := resolveStatementDate(statementDate)
			if err != nil {
				return 0, err
			}
			return l.accounts.RunGenerateStatements(ctx, date, cfg.Ledger.JobBatchSize)
		},
	},
	"disbursements-run": {
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.DisbursementsInterval },
		run: func(l *ledger, cfg *config.Config, ctx context.Context) (int, error) {
			return l.invoices.RunDisbursementBatch(ctx, cfg.Ledger.JobBatchSize)
		},
	},
	"settlements-poll": {
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.PollSettlementsInterval },
		run: func(l *ledger, _ *config.Config, ctx context.Context) (int, error) {
			return l.reconciler.RunPollSettlements(ctx, l.drop)
		},
	},
	"settlements-retry-parked": {
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.RetryParkedInterval },
		run: func(l *ledger, cfg *config.Config, ctx context.Context) (int, error) {
			return l.reconciler.RunRetryParkedBatch(ctx, cfg.Ledger.JobBatchSize)
		},
	},
	"events-dispatch": {
		interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.DispatchEventsInterval },
		run: func(l *ledger, cfg *config.Config, ctx context.Context) (int, error) {
			return l.events.RunDispatchEventsBatch(ctx, cfg.Ledger.JobBatchSize)
		},
	},
}

func jobCommand(use, short, name string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(_ *cobra.Command, _ []string) {
			runCommand(name)
		},
	}
}

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Run invoice batch jobs",
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Run account batch jobs",
}

var statementsCmd = &cobra.Command{
	Use:   "statements",
	Short: "Run statement jobs",
}

var disbursementsCmd = &cobra.Command{
	Use:   "disbursements",
	Short: "Run partner disbursement jobs",
}

var settlementsCmd = &cobra.Command{
	Use:   "settlements",
	Short: "Run settlement reconciliation jobs",
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Run invoice event jobs",
}

func init() {
	invoicesCmd.AddCommand(jobCommand("post", "Post approved CFS-billed invoices to CFS", "invoices-post"))
	invoicesCmd.AddCommand(jobCommand("flag-stale", "Flag invoices left APPROVED too long for review", "invoices-flag-stale"))
	accountsCmd.AddCommand(jobCommand("activate-pad", "Activate PAD accounts whose confirmation period elapsed", "accounts-activate-pad"))

	statementsGenerateCmd := jobCommand("generate", "Generate statements for periods ending before the date", "statements-generate")
	statementsGenerateCmd.Flags().StringVar(&statementDate, "date", "", "Statement run date (YYYY-MM-DD), defaults to today")
	statementsCmd.AddCommand(statementsGenerateCmd)

	disbursementsCmd.AddCommand(jobCommand("run", "Disburse partner shares of paid invoices through EJV", "disbursements-run"))
	settlementsCmd.AddCommand(jobCommand("poll", "Ingest settlement files from the drop folder", "settlements-poll"))
	settlementsCmd.AddCommand(jobCommand("retry-parked", "Retry parked settlement records", "settlements-retry-parked"))
	eventsCmd.AddCommand(jobCommand("dispatch", "Dispatch pending invoice events to the webhook", "events-dispatch"))

	rootCmd.AddCommand(invoicesCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(statementsCmd)
	rootCmd.AddCommand(disbursementsCmd)
	rootCmd.AddCommand(settlementsCmd)
	rootCmd.AddCommand(eventsCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func resolveStatementDate(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: %w", value, err)
	}
	return date, nil
}

func runCommand(name string) {
	job, ok := ledgerJobs[name]
	if !ok {
		logrus.WithField("job", name).Fatal("unknown job")
	}

	cfg, l, cleanup := mustCreateLedger()
	defer cleanup()

	if workerMode {
		runWorker(name, job.interval(cfg), func(ctx context.Context) (int, error) {
			return job.run(l, cfg, ctx)
		})
		return
	}

	ctx := context.Background()
	runJob(name, func() (int, error) { return job.run(l, cfg, ctx) })
}

func runWorker(name string, interval time.Duration, fn func(ctx context.Context) (int, error)) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() (int, error) { return fn(ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() (int, error) { return fn(ctx) })
		}
	}
}

func runJob(name string, fn func() (int, error)) {
	start := time.Now()
	processed, err := fn()
	latency := time.Since(start)
	entry := logrus.WithFields(logrus.Fields{
		"job":       name,
		"processed": processed,
		"latency":   latency.String(),
	})
	if err != nil {
		entry.WithError(err).Error("job_failed")
		return
	}
	entry.Info("job_completed")
}
