// Package db manages the MongoDB connection and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const databaseName = "mirrorchat"

// Client wraps mongo.Client and exposes the database and collections. It is
// constructed once in main and injected into the components that need it;
// there is no process-wide shared handle.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and verifies the connection with a ping.
func New(ctx context.Context, mongoURI string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(databaseName),
	}, nil
}

// Database returns the application database.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// MessagesCollection returns the conversation-log collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// RecentMessagesCollection returns the recent-conversation collection.
func (c *Client) RecentMessagesCollection() *mongo.Collection {
	return c.db.Collection("recentMessages")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on: unique user emails,
// and (parent, timestamp) on both document collections so ordered reads and
// snapshot queries stay index-backed.
func (c *Client) CreateIndexes(ctx context.Context) error {
	usersIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := c.UsersCollection().Indexes().CreateOne(ctx, usersIndexModel); err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	parentOrdered := mongo.IndexModel{
		Keys: bson.D{{Key: "parent", Value: 1}, {Key: "timestamp", Value: 1}},
	}
	if _, err := c.MessagesCollection().Indexes().CreateOne(ctx, parentOrdered); err != nil {
		return fmt.Errorf("failed to create messages index: %w", err)
	}
	if _, err := c.RecentMessagesCollection().Indexes().CreateOne(ctx, parentOrdered); err != nil {
		return fmt.Errorf("failed to create recentMessages index: %w", err)
	}
	return nil
}
