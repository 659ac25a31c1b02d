//go:build mysql

package storage

import (
	"context"

	"github.com/Abdullah1738/juno-sync/internal/wallet"
	"github.com/Abdullah1738/juno-sync/internal/wallet/mysql"
)

func openMySQL(ctx context.Context, dsn string) (wallet.Store, error) {
	return mysql.Open(ctx, dsn)
}
