package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goatkit/tickettransfer/internal/database"
	"github.com/goatkit/tickettransfer/internal/history"
	"github.com/goatkit/tickettransfer/internal/instrument"
	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/repository"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
	"github.com/goatkit/tickettransfer/internal/service/transfer"
	"github.com/goatkit/tickettransfer/internal/service/transferconfig"
)

// app holds the services shared by every subcommand.
type app struct {
	db          *database.MonitoredDB
	client      *remoterpc.Client
	sources     *repository.TicketSourceRepository
	configRepo  *repository.TransferConfigRepository
	history     *repository.TransferHistoryRepository
	timeoutLogs *repository.TimeoutLogRepository
	configs     *transferconfig.Service
}

func openApp(ctx context.Context) (*app, error) {
	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	a := &app{
		db: db,
		client: remoterpc.NewClient(
			remoterpc.WithAuthTimeout(cfg.Transfer.AuthTimeout),
			remoterpc.WithCallTimeout(cfg.Transfer.CallTimeout),
			remoterpc.WithLogger(log),
		),
		sources:     repository.NewTicketSourceRepository(db),
		configRepo:  repository.NewTransferConfigRepository(db),
		history:     repository.NewTransferHistoryRepository(db),
		timeoutLogs: repository.NewTimeoutLogRepository(db),
	}
	a.configs = transferconfig.NewService(a.configRepo, a.client, transferconfig.WithLogger(log))
	return a, nil
}

// transferService builds a transfer service whose slow or failed phases are
// persisted through recorder.
func (a *app) transferService(recorder instrument.Recorder) *transfer.Service {
	monitor := instrument.NewMonitor(instrument.WithRecorder(recorder), instrument.WithLogger(log))
	return transfer.NewService(
		a.sources,
		a.configRepo,
		history.NewLedger(a.history),
		transfer.ClientConnector(a.client, cfg.Transfer.ReuseSession),
		transfer.WithLogger(log),
		transfer.WithMonitor(monitor),
		transfer.WithPhaseThreshold(cfg.Transfer.PhaseThreshold),
	)
}

func (a *app) Close() error {
	return a.db.Close()
}

// writeTimeoutLog persists an entry inside a pool transaction.
func writeTimeoutLog(ctx context.Context, tx *sql.Tx, entry *models.TimeoutLog) error {
	return repository.NewTimeoutLogRepository(tx).RecordTimeout(ctx, entry)
}
