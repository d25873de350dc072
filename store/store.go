// Package store defines the transactional storage boundary shared by the
// coordinator and its implementations (store/sqlite, store/memory).
package store

import (
	"context"

	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/partner"
)

// Repository is everything one atomic scope can read and write.
type Repository interface {
	inventory.Repository
	partner.Repository
	document.Repository
}

// TxStore runs fn inside one atomic scope. If fn returns an error every
// write made through the Repository is rolled back.
type TxStore interface {
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// Store is a TxStore that can also serve reads outside a scope.
type Store interface {
	TxStore
	Repository
	Close() error
}
