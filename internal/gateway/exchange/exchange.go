// Package exchange defines the common abstraction for trading exchanges.
// The live engine driver talks to this interface only, so different
// exchange backends can be swapped in without touching execution logic.
package exchange

import "context"

type Exchange interface {
	Name() string

	Connect(ctx context.Context) error

	Disconnect() error

	// GetAccountInfo must report committed state (post-fill balances),
	// never optimistic state.
	GetAccountInfo(ctx context.Context) (AccountInfo, error)

	GetPositions(ctx context.Context) ([]Position, error)

	GetOpenOrders(ctx context.Context) ([]Order, error)

	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)

	CancelOrder(ctx context.Context, id string) (*Order, error)

	Ping(ctx context.Context) error
}
