//go:build !mysql

package storage

import (
	"context"
	"errors"

	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

func openMySQL(context.Context, string) (wallet.Store, error) {
	return nil, errors.New("storage: mysql adapter is not built; rebuild with -tags=mysql")
}
