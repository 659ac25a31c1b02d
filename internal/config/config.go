package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

type Config struct {
	CacheDriver string
	CachePath   string
	BlocksDir   string

	DBDriver string
	DBDSN    string
	DBSchema string
	DBPath   string

	RPCURL      string
	RPCUser     string
	RPCPassword string

	PollInterval time.Duration
	ScanLimit    int
	PruningDepth uint64
	StableHeight int64

	BrokerDriver       string
	BrokerURL          string
	BrokerTopic        string
	BrokerPollInterval time.Duration
	BrokerBatchSize    int
}

func FromFlags() Config {
	var cfg Config

	flag.StringVar(&cfg.CacheDriver, "cache-driver", getenv("JUNO_SYNC_CACHE_DRIVER", "rocksdb"), "Block cache driver (rocksdb, fsblock)")
	flag.StringVar(&cfg.CachePath, "cache-path", getenv("JUNO_SYNC_CACHE_PATH", ""), "Block cache database path")
	flag.StringVar(&cfg.BlocksDir, "blocks-dir", getenv("JUNO_SYNC_BLOCKS_DIR", ""), "Block file directory (required when cache-driver=fsblock)")

	flag.StringVar(&cfg.DBDriver, "db-driver", getenv("JUNO_SYNC_DB_DRIVER", "rocksdb"), "Wallet database driver (rocksdb, postgres, mysql)")
	flag.StringVar(&cfg.DBDSN, "db-dsn", getenv("JUNO_SYNC_DB_DSN", ""), "Wallet database DSN for postgres/mysql")
	flag.StringVar(&cfg.DBSchema, "db-schema", getenv("JUNO_SYNC_DB_SCHEMA", ""), "Postgres schema for wallet tables (optional)")
	flag.StringVar(&cfg.DBPath, "db-path", getenv("JUNO_SYNC_DB_PATH", ""), "RocksDB (Pebble) path (required when db-driver=rocksdb)")

	flag.StringVar(&cfg.RPCURL, "rpc-url", getenv("JUNO_SYNC_RPC_URL", "http://127.0.0.1:8232"), "junocashd RPC URL")
	flag.StringVar(&cfg.RPCUser, "rpc-user", getenv("JUNO_SYNC_RPC_USER", ""), "junocashd RPC username")
	flag.StringVar(&cfg.RPCPassword, "rpc-pass", getenv("JUNO_SYNC_RPC_PASS", ""), "junocashd RPC password")

	flag.DurationVar(&cfg.PollInterval, "poll-interval", getenvDuration("JUNO_SYNC_POLL_INTERVAL", 2*time.Second), "Poll interval for new blocks")
	flag.IntVar(&cfg.ScanLimit, "scan-limit", getenvInt("JUNO_SYNC_SCAN_LIMIT", 0), "Maximum blocks scanned per batch (0 = unlimited)")
	flag.Uint64Var(&cfg.PruningDepth, "pruning-depth", getenvUint64("JUNO_SYNC_PRUNING_DEPTH", 100), "Rewinds deeper than this below the checkpoint are rejected")
	flag.Int64Var(&cfg.StableHeight, "stable-height", getenvInt64("JUNO_SYNC_STABLE_HEIGHT", -1), "Height always accepted as a rewind target regardless of depth (-1 = none)")

	flag.StringVar(&cfg.BrokerDriver, "broker-driver", getenv("JUNO_SYNC_BROKER_DRIVER", "none"), "Message broker driver (none, kafka, nats, rabbitmq)")
	flag.StringVar(&cfg.BrokerURL, "broker-url", getenv("JUNO_SYNC_BROKER_URL", ""), "Message broker URL/DSN")
	flag.StringVar(&cfg.BrokerTopic, "broker-topic", getenv("JUNO_SYNC_BROKER_TOPIC", "juno.sync.events"), "Message broker topic/subject/queue name")
	flag.DurationVar(&cfg.BrokerPollInterval, "broker-poll-interval", getenvDuration("JUNO_SYNC_BROKER_POLL_INTERVAL", 500*time.Millisecond), "Broker outbox poll interval")
	flag.IntVar(&cfg.BrokerBatchSize, "broker-batch-size", getenvInt("JUNO_SYNC_BROKER_BATCH_SIZE", 1000), "Broker outbox batch size")

	flag.Parse()
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
