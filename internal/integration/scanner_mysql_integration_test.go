//go:build integration && mysql

package integration_test

import (
	"context"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	cacherocksdb "github.com/Abdullah1738/juno-sync/internal/cache/rocksdb"
	"github.com/Abdullah1738/juno-sync/internal/compact"
	"github.com/Abdullah1738/juno-sync/internal/rewind"
	"github.com/Abdullah1738/juno-sync/internal/scanner"
	"github.com/Abdullah1738/juno-sync/internal/wallet/mysql"
)

func TestScanAndRewind_MySQL(t *testing.T) {
	dsn := os.Getenv("JUNO_TEST_MYSQL_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("JUNO_TEST_MYSQL_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	st, err := mysql.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := st.UpsertViewingKey(ctx, "hot", "vk-hot"); err != nil {
		t.Fatalf("UpsertViewingKey: %v", err)
	}

	c, err := cacherocksdb.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open cache: %v", err)
	}
	defer c.Close()

	cmuDeposit := bytes32(0x21)
	nfDeposit := bytes32(0xcc)

	oracle := &fakeOracle{notes: map[string]scanner.Decrypted{
		hex.EncodeToString(cmuDeposit): {
			AccountID: "hot",
			Value:     7000,
			Nullifier: hex.EncodeToString(nfDeposit),
		},
	}}

	blocks := makeChain(0, 4, map[uint64][]compact.Tx{
		1: {{
			TxID:    bytes32(0x31),
			Outputs: []compact.Output{{Cmu: cmuDeposit, EphemeralKey: bytes32(0x32), Ciphertext: make([]byte, compact.CiphertextSize)}},
		}},
		3: {{
			TxID:   bytes32(0x33),
			Spends: []compact.Spend{{Nf: nfDeposit}},
		}},
	})
	if err := c.PutBatch(ctx, blocks); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	res, err := scanner.Scan(ctx, c, st, oracle, 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.BlocksScanned != 4 || res.NotesFound != 1 || res.SpendsFound != 1 {
		t.Fatalf("unexpected scan result: %+v", res)
	}

	balance, err := st.Balance(ctx, "hot")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance after spend = %d, want 0", balance)
	}

	if err := rewind.ToHeight(ctx, st, 2, rewind.Policy{PruningDepth: 100}); err != nil {
		t.Fatalf("ToHeight: %v", err)
	}
	balance, err = st.Balance(ctx, "hot")
	if err != nil {
		t.Fatalf("Balance after rewind: %v", err)
	}
	if balance != 7000 {
		t.Fatalf("balance after rewind = %d, want 7000", balance)
	}

	res, err = scanner.Scan(ctx, c, st, oracle, 0)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if res.BlocksScanned != 1 || res.SpendsFound != 1 {
		t.Fatalf("unexpected rescan result: %+v", res)
	}
}
