package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/holiman/uint256"

	"github.com/lendbook/lendbook/params"
	"github.com/lendbook/lendbook/pkg/api"
	"github.com/lendbook/lendbook/pkg/book"
	"github.com/lendbook/lendbook/pkg/storage"
	"github.com/lendbook/lendbook/pkg/util"
	"github.com/lendbook/lendbook/pkg/wad"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Persistence ----
	store, err := storage.Open(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Collaborators: vault, oracle, websocket event sink ----
	vault := book.NewVault()
	feed := book.NewStaticFeed(wad.FromUnits(cfg.Protocol.ReferencePrice))

	bookParams := book.Params{
		Alpha: wad.FromBps(uint64(cfg.Protocol.AlphaBps)),
		Beta:  wad.FromBps(uint64(cfg.Protocol.BetaBps)),
		Gamma: wad.FromBps(uint64(cfg.Protocol.GammaBps)),
		MinDeposit: [2]*uint256.Int{
			wad.FromUnits(cfg.Protocol.MinDepositQuote),
			wad.FromUnits(cfg.Protocol.MinDepositBase),
		},
		LiquidationFee: wad.FromBps(uint64(cfg.Protocol.LiquidationFeeBps)),
		MaxOrders:      cfg.Protocol.MaxOrders,
		MaxPositions:   cfg.Protocol.MaxPositions,
		MaxBorrowings:  cfg.Protocol.MaxBorrowings,
	}

	b, err := book.New(bookParams, book.Deps{
		Ledger: vault,
		Feed:   feed,
		Logger: logger,
	})
	if err != nil {
		sugar.Fatalw("book_init_failed", "err", err)
	}

	// Restore the previous snapshot, if any.
	if st, err := store.LoadSnapshot(); err != nil {
		sugar.Fatalw("snapshot_load_failed", "err", err)
	} else if st != nil {
		if err := b.Restore(st); err != nil {
			sugar.Fatalw("snapshot_restore_failed", "err", err)
		}
		sugar.Infow("snapshot_restored",
			"orders", len(st.Orders),
			"positions", len(st.Positions),
			"users", len(st.Users))
	}

	// ---- API server ----
	apiServer := api.NewServer(b, vault, feed)
	b.SetEventSink(apiServer.Hub())

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIListen)
		if err := apiServer.Start(cfg.Node.APIListen); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_started",
		"db_path", cfg.Node.DBPath,
		"reference_price", cfg.Protocol.ReferencePrice)

	// Snapshot and metrics loop
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := store.SaveSnapshot(b.Snapshot()); err != nil {
				sugar.Errorw("final_snapshot_failed", "err", err)
			} else {
				sugar.Info("final_snapshot_saved")
			}
			sugar.Info("node_shutdown")
			return
		case <-ticker.C:
			b.PublishMetrics()
			if err := store.SaveSnapshot(b.Snapshot()); err != nil {
				sugar.Errorw("snapshot_failed", "err", err)
			}
		}
	}
}
