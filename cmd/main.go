package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/ycwei/tender-watch/internal/api"
	"github.com/ycwei/tender-watch/internal/classify"
	"github.com/ycwei/tender-watch/internal/config"
	"github.com/ycwei/tender-watch/internal/db"
	"github.com/ycwei/tender-watch/internal/logger"
	"github.com/ycwei/tender-watch/internal/models"
	"github.com/ycwei/tender-watch/internal/notify"
	"github.com/ycwei/tender-watch/internal/pcc"
	"github.com/ycwei/tender-watch/internal/report"
	"github.com/ycwei/tender-watch/internal/repository"
	"github.com/ycwei/tender-watch/internal/resolve"
	"github.com/ycwei/tender-watch/internal/scheduler"
	"github.com/ycwei/tender-watch/internal/services"
)

const usage = `usage: tender-watch <mode> [flags]

modes:
  resync    scan the trailing window day by day and reconcile the store hard
  monitor   keyword search for new tenders, then refresh active statuses
  backfill  re-resolve detail for rows missing enrichment
  report    print stored tenders (use -csv for spreadsheet export)
  watch     run monitor on the configured cron schedule, with the read API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	mode := os.Args[1]

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(os.Getenv("DEBUG") != "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(mode, cfg, log); err != nil {
		log.Fatal("run failed", zap.String("mode", mode), zap.Error(err))
	}
}

func run(mode string, cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDBMigration(cfg.MigrationURL, cfg.PostgresConn); err != nil {
		return err
	}
	log.Info("db migrated successfully")

	pool, err := db.InitDb(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer pool.Close()

	repo := repository.NewPostgresTenderRepository(pool)
	client := pcc.NewClient(log, pcc.Options{
		BaseURL:       cfg.APIBaseURL,
		Timeout:       cfg.HTTPTimeout(),
		RequestDelay:  cfg.RequestDelay(),
		RateLimitWait: cfg.RateLimitWait(),
	})
	resolver := resolve.New(log, client)

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	reconciler := services.NewReconcileService(
		log, repo, client, resolver,
		classify.New(cfg.Rules()),
		notifier,
		services.Options{
			MinBudget:      cfg.MinBudget,
			MaxBudget:      cfg.MaxBudget,
			ScanWindowDays: cfg.ScanWindowDays,
			RetentionDays:  cfg.RetentionDays,
			SearchKeywords: cfg.SearchKeywords,
		},
	)

	switch mode {
	case "resync":
		_, err := reconciler.Resync(ctx)
		return err

	case "monitor":
		_, err := reconciler.Monitor(ctx)
		return err

	case "backfill":
		flags := flag.NewFlagSet("backfill", flag.ExitOnError)
		limit := flags.Int("limit", 0, "maximum rows to backfill (0 = all)")
		flags.Parse(os.Args[2:])
		_, err := services.NewBackfillService(log, repo, resolver).Run(ctx, *limit)
		return err

	case "report":
		return runReport(ctx, log, repo)

	case "watch":
		return runWatch(ctx, cfg, log, repo, reconciler)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func runReport(ctx context.Context, log *zap.Logger, repo repository.TenderRepository) error {
	flags := flag.NewFlagSet("report", flag.ExitOnError)
	sinceDays := flags.Int("since-days", 0, "only tenders first seen in the trailing N days")
	title := flags.String("title", "", "title substring filter")
	unit := flags.String("unit", "", "unit name substring filter")
	minBudget := flags.Int64("min-budget", 0, "minimum budget filter")
	maxBudget := flags.Int64("max-budget", 0, "maximum budget filter")
	includeExpired := flags.Bool("include-expired", false, "include tenders past their deadline")
	archived := flags.Bool("archived", false, "show the archive instead of active tenders")
	reasons := flags.String("reasons", "", "comma-separated archive reasons, e.g. Awarded,Expired")
	csvOut := flags.String("csv", "", "write CSV to this file instead of a table")
	flags.Parse(os.Args[2:])

	svc := report.NewService(log, repo)

	if *archived {
		var rs []models.ArchiveReason
		for _, name := range splitComma(*reasons) {
			rs = append(rs, models.ArchiveReason(name))
		}
		return svc.Archived(ctx, rs, os.Stdout)
	}

	filter := repository.ActiveFilter{
		SinceDays:      *sinceDays,
		TitleKeyword:   *title,
		UnitKeyword:    *unit,
		MinBudget:      *minBudget,
		MaxBudget:      *maxBudget,
		IncludeExpired: *includeExpired,
	}

	if *csvOut != "" {
		f, err := os.Create(*csvOut)
		if err != nil {
			return err
		}
		defer f.Close()
		return svc.ActiveCSV(ctx, filter, f)
	}
	return svc.Active(ctx, filter, os.Stdout)
}

func runWatch(ctx context.Context, cfg config.Config, log *zap.Logger, repo repository.TenderRepository, reconciler *services.ReconcileService) error {
	sched, err := scheduler.New(log, cfg.Timezone)
	if err != nil {
		return err
	}
	if err := sched.Schedule(cfg.WatchSchedule, "monitor", func(ctx context.Context) error {
		_, err := reconciler.Monitor(ctx)
		return err
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv := api.NewServer(repo)
	errCh := make(chan error, 1)
	go func() {
		log.Info("read api listening", zap.String("address", cfg.ServerAddress))
		errCh <- srv.Run(cfg.ServerAddress)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func buildNotifier(cfg config.Config) (services.Notifier, error) {
	switch cfg.Notifier {
	case "":
		return nil, nil
	case "line":
		return notify.NewLineNotifier(cfg.LineChannelToken, cfg.LineUserID, cfg.HTTPTimeout()), nil
	case "telegram":
		return notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

func runDBMigration(migrationURL, dbSource string) error {
	migration, err := migrate.New(migrationURL, dbSource)
	if err != nil {
		return fmt.Errorf("cannot create a new migrate instance: %w", err)
	}
	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrate up: %w", err)
	}
	return nil
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
