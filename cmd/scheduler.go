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
	"golang.org/x/sync/errgroup"
)

var scheduleFile string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run every enabled batch job from the schedule file in one process",
	Run:   runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleFile, "file", "", "Schedule file, defaults to JOBS_SCHEDULE_FILE")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(_ *cobra.Command, _ []string) {
	cfg, l, cleanup := mustCreateLedger()
	defer cleanup()

	path := scheduleFile
	if path == "" {
		path = cfg.Jobs.ScheduleFile
	}
	schedule, err := config.LoadSchedule(path)
	if err != nil {
		logrus.WithError(err).WithField("file", path).Fatal("Failed to load schedule")
	}
	if err := validateSchedule(schedule); err != nil {
		logrus.WithError(err).WithField("file", path).Fatal("Invalid schedule")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range schedule.Enabled() {
		job := ledgerJobs[entry.Name]
		name, interval := entry.Name, entry.Interval
		g.Go(func() error {
			tick(gctx, name, interval, func(ctx context.Context) (int, error) {
				return job.run(l, cfg, ctx)
			})
			return nil
		})
		logrus.WithField("job", name).WithField("interval", interval.String()).Info("Job scheduled")
	}

	_ = g.Wait()
	logrus.Info("Scheduler stopped")
}

func validateSchedule(schedule *config.Schedule) error {
	for _, entry := range schedule.Jobs {
		if _, ok := ledgerJobs[entry.Name]; !ok {
			return fmt.Errorf("unknown job %s", entry.Name)
		}
	}
	return nil
}

// tick runs fn immediately and then every interval until ctx is done. Runs
// of the same job never overlap.
func tick(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runJob(name, func() (int, error) { return fn(ctx) })
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runJob(name, func() (int, error) { return fn(ctx) })
		}
	}
}
