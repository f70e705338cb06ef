package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Fees struct {
	Treasury         string // hex address receiving trade fees
	LimitOrderFeeBps int64  // surcharge on conditional limit fills
	StopOrderFeeBps  int64  // surcharge on conditional stop fills
	KeeperFee        int64  // native cents paid per trigger
}

type Keeper struct {
	Enabled      bool
	PollInterval time.Duration
	// SeedHex derives the keeper's BLS key. Empty disables trigger
	// signature verification (dev mode only).
	SeedHex string
}

type Gossip struct {
	Enabled    bool
	ListenAddr string
	Bootstrap  []string
}

type Node struct {
	DBPath      string
	JournalPath string
	APIAddr     string
	LogFile     string // empty: console only
	LogLevel    string // zap level name: debug, info, warn, error
}

type Config struct {
	Node   Node
	Fees   Fees
	Keeper Keeper
	Gossip Gossip
}

func Default() Config {
	return Config{
		Node: Node{
			DBPath:      "data/accounts",
			JournalPath: "data/journal",
			APIAddr:     ":8080",
			LogFile:     "data/accountd.log",
			LogLevel:    "info",
		},
		Fees: Fees{
			LimitOrderFeeBps: 5,
			StopOrderFeeBps:  10,
			KeeperFee:        100, // 1.00 in native cents
		},
		Keeper: Keeper{
			Enabled:      true,
			PollInterval: 500 * time.Millisecond,
		},
		Gossip: Gossip{
			Enabled: false,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DBPath = getEnv("DB_PATH", cfg.Node.DBPath)
	cfg.Node.JournalPath = getEnv("JOURNAL_PATH", cfg.Node.JournalPath)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	cfg.Fees.Treasury = getEnv("TREASURY", cfg.Fees.Treasury)
	if v := os.Getenv("LIMIT_ORDER_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fees.LimitOrderFeeBps = bps
		}
	}
	if v := os.Getenv("STOP_ORDER_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fees.StopOrderFeeBps = bps
		}
	}
	if v := os.Getenv("KEEPER_FEE"); v != "" {
		if fee, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fees.KeeperFee = fee
		}
	}

	if v := os.Getenv("KEEPER_ENABLED"); v != "" {
		cfg.Keeper.Enabled = v == "true"
	}
	if v := os.Getenv("KEEPER_POLL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Keeper.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	cfg.Keeper.SeedHex = getEnv("KEEPER_SEED", cfg.Keeper.SeedHex)

	if v := os.Getenv("GOSSIP_ENABLED"); v != "" {
		cfg.Gossip.Enabled = v == "true"
	}
	cfg.Gossip.ListenAddr = getEnv("GOSSIP_LISTEN", cfg.Gossip.ListenAddr)
	if v := os.Getenv("GOSSIP_BOOTSTRAP"); v != "" {
		cfg.Gossip.Bootstrap = strings.Split(v, ",")
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
