package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"imjang/api/internal/utils"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
// SixID values are encoded through their own BSON value marshalers, so no registry changes are needed.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary node
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	fmt.Println("Successfully connected to MongoDB!")

	return client, db, nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	fmt.Println("MongoDB connection closed.")
	return nil
}

// Document is anything InsertOne can give a fresh id to.
type Document interface {
	GenIDIfEmpty()
	GenID()
	GetID() utils.SixID
}

// InsertOne inserts doc, assigning an id if it has none.
// On an _id collision a new id is generated and the insert retried.
// Duplicate keys on other unique indexes are returned to the caller unchanged.
func InsertOne[T Document](ctx context.Context, collection *mongo.Collection, doc T) (T, error) {
	doc.GenIDIfEmpty()
	attempt := 0
	err := WithRetries(func() error {
		if attempt > 0 {
			doc.GenID()
		}
		attempt++
		_, err := collection.InsertOne(ctx, doc)
		return err
	}, DefaultMaxRetries, IsMongoIDCollision)
	if err != nil {
		return doc, err
	}
	return doc, nil
}

// WithTransaction runs fn inside a multi-document transaction with majority read/write concern.
// fn may be invoked more than once when the server reports a transient transaction error.
func WithTransaction(ctx context.Context, client *mongo.Client, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	}, txnOpts)
	return err
}
