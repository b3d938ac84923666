package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultTestMongoURI = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"

// NewTestMongo connects to TEST_MONGO_URI and returns the client with a fresh
// database name that is dropped when the test ends. It skips the test when
// MongoDB is unreachable or is a standalone server, since the repository
// needs multi-document transactions.
func NewTestMongo(t *testing.T) (*mongo.Client, string) {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		uri = defaultTestMongoURI
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("failed to create mongo client: %v", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("skipping MongoDB integration tests: %v", err)
	}

	var hello bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		_ = client.Disconnect(context.Background())
		t.Fatalf("hello: %v", err)
	}
	if _, ok := hello["setName"]; !ok && hello["msg"] != "isdbgrid" {
		_ = client.Disconnect(context.Background())
		t.Skip("skipping MongoDB integration tests: transactions need a replica set")
	}

	database := fmt.Sprintf("slot_booking_test_%s", uuid.NewString()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Database(database).Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return client, database
}
