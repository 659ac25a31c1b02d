package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Abdullah1738/juno-sync/internal/broker"
	"github.com/Abdullah1738/juno-sync/internal/cache"
	"github.com/Abdullah1738/juno-sync/internal/chain"
	"github.com/Abdullah1738/juno-sync/internal/config"
	"github.com/Abdullah1738/juno-sync/internal/fetch"
	"github.com/Abdullah1738/juno-sync/internal/publisher"
	"github.com/Abdullah1738/juno-sync/internal/rewind"
	"github.com/Abdullah1738/juno-sync/internal/scanner"
	"github.com/Abdullah1738/juno-sync/internal/storage"
	"github.com/Abdullah1738/juno-sync/internal/trialdecrypt"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
	sdkjunocashd "github.com/Abdullah1738/juno-sdk-go/junocashd"
)

func main() {
	cfg := config.FromFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := storage.OpenCache(storage.CacheConfig{
		Driver:    cfg.CacheDriver,
		Path:      cfg.CachePath,
		BlocksDir: cfg.BlocksDir,
	})
	if err != nil {
		log.Fatalf("cache open: %v", err)
	}
	defer c.Close()

	st, err := storage.Open(ctx, storage.Config{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		Schema: cfg.DBSchema,
		Path:   cfg.DBPath,
	})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rpc := sdkjunocashd.New(cfg.RPCURL, cfg.RPCUser, cfg.RPCPassword)
	fetcher, err := fetch.New(c, rpc, 0, cfg.PollInterval)
	if err != nil {
		log.Fatalf("fetch init: %v", err)
	}

	go func() {
		if err := fetcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("fetcher stopped: %v", err)
			cancel()
		}
	}()

	br, err := broker.Open(ctx, broker.Config{
		Driver: cfg.BrokerDriver,
		URL:    cfg.BrokerURL,
		Topic:  cfg.BrokerTopic,
	})
	if err != nil {
		log.Fatalf("broker open: %v", err)
	}
	if br != nil {
		defer br.Close()

		pub, err := publisher.New(st, br, publisher.Config{
			PollInterval: cfg.BrokerPollInterval,
			BatchSize:    cfg.BrokerBatchSize,
		})
		if err != nil {
			log.Fatalf("publisher init: %v", err)
		}
		go func() {
			if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("publisher stopped: %v", err)
				cancel()
			}
		}()
	}

	policy := rewind.Policy{PruningDepth: cfg.PruningDepth}
	if cfg.StableHeight >= 0 {
		h := uint64(cfg.StableHeight)
		policy.StableHeight = &h
	}

	oracle := trialdecrypt.New()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := syncOnce(ctx, c, st, oracle, policy, cfg.ScanLimit); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("sync: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// syncOnce validates the cache against the wallet tip and then scans one
// batch. Recoverable conditions (invalid chain, cache gap) are handled in
// place; only storage and decryption failures abort the process.
func syncOnce(ctx context.Context, c cache.Cache, st wallet.Store, oracle scanner.Oracle, policy rewind.Policy, scanLimit int) error {
	cp, ok, err := st.Checkpoint(ctx)
	if err != nil {
		return err
	}
	var tip *wallet.Checkpoint
	if ok {
		tip = &cp
	}

	if err := chain.Validate(ctx, c, tip); err != nil {
		var inv *chain.InvalidChainError
		if errors.As(err, &inv) {
			target, err := rewind.RecoverInvalidChain(ctx, c, st, inv.Height, policy)
			if err != nil {
				return err
			}
			log.Printf("invalid chain at height %d, rewound to %d", inv.Height, target)
			return nil
		}
		return err
	}

	res, err := scanner.Scan(ctx, c, st, oracle, scanLimit)
	if res.BlocksScanned > 0 {
		log.Printf("scanned heights %d-%d: %d notes, %d spends", res.FromHeight, res.ToHeight, res.NotesFound, res.SpendsFound)
	}
	if err != nil {
		var disc *scanner.HeightDiscontinuityError
		if errors.As(err, &disc) {
			// The fetcher has not filled the gap yet; retry next tick.
			log.Printf("scan paused: %v", disc)
			return nil
		}
		return err
	}
	return nil
}
