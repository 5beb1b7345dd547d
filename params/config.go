package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Protocol holds the money-market parameters in env-friendly units: rates
// and the liquidation fee in basis points, minimum deposits and the initial
// reference price in whole token units. The node converts them to
// fixed-point when building the book.
type Protocol struct {
	AlphaBps int // base annual rate
	BetaBps  int // weight on own-side utilization
	GammaBps int // weight on opposite-side utilization

	MinDepositQuote uint64
	MinDepositBase  uint64

	LiquidationFeeBps int

	MaxOrders     int
	MaxPositions  int
	MaxBorrowings int

	// ReferencePrice seeds the devnet price feed (base priced in quote).
	ReferencePrice uint64
}

type Node struct {
	APIListen string
	DBPath    string
	LogFile   string
	LogLevel  string
}

type Config struct {
	Protocol Protocol
	Node     Node
}

func Default() Config {
	return Config{
		Protocol: Protocol{
			AlphaBps:          100,
			BetaBps:           150,
			GammaBps:          100,
			MinDepositQuote:   100,
			MinDepositBase:    2,
			LiquidationFeeBps: 200,
			MaxOrders:         6,
			MaxPositions:      5,
			MaxBorrowings:     5,
			ReferencePrice:    100,
		},
		Node: Node{
			APIListen: ":8080",
			DBPath:    "data/book",
			LogFile:   "data/node.log",
			LogLevel:  "info",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	loadInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	loadUint := func(key string, dst *uint64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	loadStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	loadInt("RATE_ALPHA_BPS", &cfg.Protocol.AlphaBps)
	loadInt("RATE_BETA_BPS", &cfg.Protocol.BetaBps)
	loadInt("RATE_GAMMA_BPS", &cfg.Protocol.GammaBps)
	loadUint("MIN_DEPOSIT_QUOTE", &cfg.Protocol.MinDepositQuote)
	loadUint("MIN_DEPOSIT_BASE", &cfg.Protocol.MinDepositBase)
	loadInt("LIQUIDATION_FEE_BPS", &cfg.Protocol.LiquidationFeeBps)
	loadInt("MAX_ORDERS", &cfg.Protocol.MaxOrders)
	loadInt("MAX_POSITIONS", &cfg.Protocol.MaxPositions)
	loadInt("MAX_BORROWINGS", &cfg.Protocol.MaxBorrowings)
	loadUint("REFERENCE_PRICE", &cfg.Protocol.ReferencePrice)

	loadStr("API_LISTEN", &cfg.Node.APIListen)
	loadStr("DB_PATH", &cfg.Node.DBPath)
	loadStr("LOG_FILE", &cfg.Node.LogFile)
	loadStr("LOG_LEVEL", &cfg.Node.LogLevel)

	return cfg
}
