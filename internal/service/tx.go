package service

import (
	"context"

	"github.com/peermeet/call-server-go/internal/database"
)

// TxRunner runs a function inside a database transaction. *database.DB
// satisfies it; tests substitute a runner that invokes the function directly.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

var _ TxRunner = (*database.DB)(nil)
