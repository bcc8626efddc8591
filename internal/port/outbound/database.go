package outbound

import (
	"context"
	"errors"
)

// ErrDuplicate is matched by errors from Create methods that violate a
// unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// TransactionPort runs work inside one database transaction. Adapters
// called with the ctx passed to fn join that transaction.
type TransactionPort interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
