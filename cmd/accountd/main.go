package main

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/params"
	"github.com/perpdesk/smartmargin/pkg/account"
	"github.com/perpdesk/smartmargin/pkg/api"
	"github.com/perpdesk/smartmargin/pkg/automation"
	"github.com/perpdesk/smartmargin/pkg/crypto"
	"github.com/perpdesk/smartmargin/pkg/journal"
	"github.com/perpdesk/smartmargin/pkg/market"
	"github.com/perpdesk/smartmargin/pkg/util"
)

// keeperCaller is the automation network's caller identity for local
// single-keeper deployments.
var keeperCaller = common.HexToAddress("0x000000000000000000000000000000000000AE0E")

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Persistence ----
	store, err := account.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	jnl, err := journal.Open(cfg.Node.JournalPath, sugar)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "err", err)
	}
	defer jnl.Close()

	// ---- Market venue ----
	// Simulated venue, one instance per account: the sim holds a single
	// position per market for its owning account, so accounts must never
	// share one. Swap for a real venue adapter in production deployments.
	newMarket := func(owner common.Address) market.Adapter {
		venue := market.NewSim()
		if err := venue.Register("BTC-PERP", market.DefaultPerpParams(), 65_000_00); err != nil {
			sugar.Fatalw("market_register_failed", "owner", owner.Hex(), "err", err)
		}
		return venue
	}

	// ---- Keeper ----
	var signer *crypto.KeeperSigner
	if cfg.Keeper.SeedHex != "" {
		seed, err := hex.DecodeString(cfg.Keeper.SeedHex)
		if err != nil {
			sugar.Fatalw("keeper_seed_invalid", "err", err)
		}
		signer = crypto.NewKeeperSignerFromSeed(seed)
	}
	keeper := automation.NewKeeper(keeperCaller, signer, sugar)

	if cfg.Gossip.Enabled {
		gossip, err := automation.NewGossip(ctx, automation.GossipConfig{
			ListenAddr: cfg.Gossip.ListenAddr,
			Bootstrap:  cfg.Gossip.Bootstrap,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("gossip_init_failed", "err", err)
		}
		defer gossip.Close()
		keeper.SetGossip(gossip)
	}

	// ---- Settings ----
	settings := &account.Settings{
		Treasury:         common.HexToAddress(cfg.Fees.Treasury),
		LimitOrderFeeBps: cfg.Fees.LimitOrderFeeBps,
		StopOrderFeeBps:  cfg.Fees.StopOrderFeeBps,
		KeeperFee:        cfg.Fees.KeeperFee,
	}

	// ---- Manager and API server ----
	// The server's WebSocket hub is an event sink, but the server needs the
	// manager first; the indirection below closes that cycle.
	var server *api.Server

	mgr := account.NewManager(account.ManagerConfig{
		Settings:  settings,
		Store:     store,
		Tasks:     keeper,
		KeeperPub: keeper.PubKey(),
		NewMarket: newMarket,
		Sinks: []account.Sink{jnl, sinkFunc(func(owner common.Address, ev account.Event) {
			if server != nil {
				server.EventSink().Publish(owner, ev)
			}
		})},
		Log: sugar,
	})

	server = api.NewServer(mgr, store, sugar)
	keeper.SetInbound(mgr)

	// Re-provision every persisted account before the keeper's first poll so
	// pending orders of idle owners are monitored again.
	restored, err := mgr.Restore()
	if err != nil {
		sugar.Fatalw("account_restore_failed", "err", err)
	}
	if restored > 0 {
		sugar.Infow("accounts_restored", "count", restored, "tasks", keeper.TaskCount())
	}

	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	if cfg.Keeper.Enabled {
		go keeper.Run(ctx, cfg.Keeper.PollInterval)
		sugar.Infow("keeper_running", "poll_interval_ms", cfg.Keeper.PollInterval.Milliseconds())
	}

	sugar.Infow("accountd_started",
		"api_addr", cfg.Node.APIAddr,
		"db_path", cfg.Node.DBPath,
		"keeper_enabled", cfg.Keeper.Enabled,
		"gossip_enabled", cfg.Gossip.Enabled)

	// Progress logging loop
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("accountd_stopping")
			return
		case <-ticker.C:
			sugar.Infow("accountd_status",
				"accounts", mgr.Count(),
				"tasks", keeper.TaskCount(),
				"journal_len", jnl.Len())
		}
	}
}

// sinkFunc adapts a function to account.Sink.
type sinkFunc func(common.Address, account.Event)

func (f sinkFunc) Publish(owner common.Address, ev account.Event) { f(owner, ev) }
