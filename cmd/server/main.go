// Command server runs the abacus trading engine: the trade ledger, the
// portfolio reconstructor, the order executor, and the HTTP API over them.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mingqiu/abacus/internal/clients/calendar"
	"github.com/mingqiu/abacus/internal/clients/quotes"
	"github.com/mingqiu/abacus/internal/config"
	"github.com/mingqiu/abacus/internal/database"
	"github.com/mingqiu/abacus/internal/events"
	"github.com/mingqiu/abacus/internal/modules/ledger"
	"github.com/mingqiu/abacus/internal/modules/portfolio"
	"github.com/mingqiu/abacus/internal/modules/snapshots"
	"github.com/mingqiu/abacus/internal/modules/trading"
	"github.com/mingqiu/abacus/internal/reliability"
	"github.com/mingqiu/abacus/internal/scheduler"
	"github.com/mingqiu/abacus/internal/server"
	"github.com/mingqiu/abacus/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	appLog := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(appLog)

	appLog.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Float64("starting_cash", cfg.StartingCash).
		Msg("Starting abacus")

	// The ledger is the only authoritative state; it gets the paranoid
	// profile. Everything in the cache database can be re-derived.
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	eventManager := events.NewManager(appLog)

	quoteClient := quotes.NewClient(cfg.QuoteServiceURL, appLog)
	calendarClient := calendar.NewClient(cfg.CalendarServiceURL, appLog)

	validator := ledger.NewValidator(cfg.Limits, nil, appLog)
	ledgerRepo, err := ledger.NewRepository(ledgerDB.Conn(), int64(cfg.StartingCash), validator, appLog)
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to initialize ledger")
	}

	recon := portfolio.NewReconstructor(ledgerRepo, quoteClient, cfg.StartingCash, nil, appLog)
	portfolioSvc := portfolio.NewService(recon, calendarClient, appLog)

	executor := trading.NewExecutor(ledgerRepo, validator, recon, quoteClient, cfg.Commission, eventManager, nil, appLog)

	snapshotRepo, err := snapshots.NewRepository(cacheDB.Conn(), appLog)
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to initialize snapshots")
	}
	snapshotSvc := snapshots.NewService(snapshotRepo, portfolioSvc, eventManager, appLog)

	backupSvc := reliability.NewBackupService(cfg.Backup, ledgerDB, eventManager, appLog)

	sched := scheduler.New(eventManager, appLog)
	mustAddJob(appLog, sched, scheduler.ScheduleWALCheckpoint, &scheduler.WALCheckpointJob{
		DBs: []*database.DB{ledgerDB, cacheDB},
	})
	mustAddJob(appLog, sched, scheduler.ScheduleDailySnapshot, &scheduler.DailySnapshotJob{
		Snapshots: snapshotSvc,
	})
	if backupSvc.Enabled() {
		mustAddJob(appLog, sched, scheduler.ScheduleBackup, &scheduler.BackupJob{Backup: backupSvc})
	} else {
		appLog.Info().Msg("Ledger backup disabled, no bucket configured")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       appLog,
		LedgerDB:  ledgerDB,
		CacheDB:   cacheDB,
		Executor:  executor,
		Portfolio: portfolioSvc,
		Snapshots: snapshotSvc,
		Events:    eventManager,
		DevMode:   cfg.DevMode,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		appLog.Error().Err(err).Msg("HTTP server failed")
	case sig := <-stop:
		appLog.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error().Err(err).Msg("Graceful shutdown failed")
	}

	// Leave the ledger WAL folded in before closing
	if err := ledgerDB.WALCheckpoint("TRUNCATE"); err != nil {
		appLog.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}
}

func mustAddJob(log zerolog.Logger, sched *scheduler.Scheduler, schedule string, job scheduler.Job) {
	if err := sched.AddJob(schedule, job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
	}
}
