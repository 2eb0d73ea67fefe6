package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

// Identified is implemented by records embedding models.Base.
type Identified interface {
	GenID()
	GenIDIfEmpty()
}

// InsertNew inserts doc under a freshly generated id, generating a new one
// if the random id happens to collide.
func InsertNew[D Identified](ctx context.Context, coll *mongo.Collection, doc D) (D, error) {
	err := Try(func() error {
		doc.GenID()
		_, err := coll.InsertOne(ctx, doc)
		return err
	})
	return doc, err
}

// InsertOne inserts doc keeping its id when one is set. A duplicate key error
// is returned as is when the id was provided by the caller.
func InsertOne[D Identified](ctx context.Context, coll *mongo.Collection, doc D) (D, error) {
	doc.GenIDIfEmpty()
	_, err := coll.InsertOne(ctx, doc)
	return doc, err
}
