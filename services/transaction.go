package services

import (
	"context"

	"github.com/upb/authgateway/repositories"
)

// WithTransaction runs fn inside a transaction owned by txMgr. A transaction
// already carried by ctx is joined rather than nested.
// Driver failures are reported as ErrStoreUnavailable; domain errors pass through.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) error) error {
	err := txMgr.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		return fn(txCtx)
	})
	return WrapStore(err)
}

// WithTransactionResult is WithTransaction for functions that produce a value.
// On error the zero value is returned.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := WithTransaction(ctx, txMgr, func(txCtx context.Context) error {
		var fnErr error
		result, fnErr = fn(txCtx)
		return fnErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
