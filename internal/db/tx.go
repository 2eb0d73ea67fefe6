package db

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrTransactionsUnsupported means the server is a standalone mongod.
var ErrTransactionsUnsupported = errors.New("mongodb deployment does not support transactions")

const codeIllegalOperation = 20

// RunInTransaction runs fn inside a multi-document transaction. fn must use
// the context it is given for every database call. If the deployment cannot
// run transactions, ErrTransactionsUnsupported is returned and nothing was written.
func RunInTransaction(ctx context.Context, client *mongo.Client, fn func(txCtx context.Context) error) error {
	session, err := client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if IsTransactionUnsupported(err) {
		return ErrTransactionsUnsupported
	}
	return err
}

// IsTransactionUnsupported recognises the error a standalone server returns
// for the first operation of a transaction.
func IsTransactionUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == codeIllegalOperation {
		return true
	}
	return strings.Contains(err.Error(), "Transaction numbers are only allowed on a replica set member or mongos")
}
