package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"pkt.systems/booksden/internal/storage"
)

// DefaultDatabase is used when Config.Database is empty.
const DefaultDatabase = "booksden"

// Config controls the MongoDB backend.
type Config struct {
	// URI is a mongodb:// or mongodb+srv:// connection string.
	URI      string
	Database string
	// Username and Password override any credentials in URI.
	Username string
	Password string
	AppName  string
	// ConnectTimeout bounds server selection during Connect and Ping.
	ConnectTimeout time.Duration
}

// Store implements storage.Backend on a MongoDB deployment.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// ClientOptions builds the driver options for cfg: stable API v1 in strict
// mode with deprecation errors, optional explicit credentials.
func ClientOptions(cfg Config) (*options.ClientOptions, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, fmt.Errorf("mongo: uri required")
	}
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return nil, fmt.Errorf("mongo: unsupported uri scheme in %q", redact(uri))
	}
	serverAPI := options.ServerAPI(options.ServerAPIVersion1).
		SetStrict(true).
		SetDeprecationErrors(true)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)
	if cfg.Username != "" {
		cred := options.Credential{Username: cfg.Username, Password: cfg.Password}
		if opts.Auth != nil {
			cred.AuthSource = opts.Auth.AuthSource
			cred.AuthMechanism = opts.Auth.AuthMechanism
		}
		opts.SetAuth(cred)
	}
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("mongo: parse uri: %w", err)
	}
	return opts, nil
}

// New connects a client for cfg. The driver dials lazily; use Ping to
// verify the deployment is reachable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	database := cfg.Database
	if database == "" {
		database = DefaultDatabase
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Client exposes the driver client for diagnostics.
func (s *Store) Client() *mongo.Client {
	return s.client
}

// Collection returns the named collection.
func (s *Store) Collection(name string) storage.Collection {
	return &collection{name: name, coll: s.db.Collection(name)}
}

// Ping sends a ping to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo: ping: %w", err)
	}
	return nil
}

// Close disconnects the client and its pool.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("mongo: disconnect: %w", err)
	}
	return nil
}

type collection struct {
	name string
	coll *mongo.Collection
}

func (c *collection) Find(ctx context.Context, filter storage.Filter) ([]storage.Document, error) {
	query, err := toBSONFilter(filter)
	if err != nil {
		return nil, err
	}
	cursor, err := c.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: storage.IDField, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: find %s: %w", c.name, err)
	}
	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("mongo: read %s: %w", c.name, err)
	}
	docs := make([]storage.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, fromBSON(m))
	}
	return docs, nil
}

func (c *collection) FindOne(ctx context.Context, filter storage.Filter) (storage.Document, error) {
	query, err := toBSONFilter(filter)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := c.coll.FindOne(ctx, query).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo: find one %s: %w", c.name, err)
	}
	return fromBSON(m), nil
}

func (c *collection) InsertOne(ctx context.Context, doc storage.Document) (storage.InsertResult, error) {
	prepared, err := storage.PrepareInsert(doc)
	if err != nil {
		return storage.InsertResult{}, err
	}
	m, err := toBSON(prepared)
	if err != nil {
		return storage.InsertResult{}, err
	}
	res, err := c.coll.InsertOne(ctx, m)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.InsertResult{}, &storage.DuplicateKeyError{Collection: c.name, ID: prepared.ID()}
		}
		return storage.InsertResult{}, fmt.Errorf("mongo: insert %s: %w", c.name, err)
	}
	return storage.InsertResult{InsertedID: idString(res.InsertedID)}, nil
}

func (c *collection) UpdateOne(ctx context.Context, filter storage.Filter, set storage.Document, opts storage.UpdateOptions) (storage.UpdateResult, error) {
	query, err := toBSONFilter(filter)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	fields := set.Clone()
	delete(fields, storage.IDField)
	if len(fields) == 0 {
		return c.emptyUpdate(ctx, filter, opts)
	}
	update, err := toBSON(fields)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	res, err := c.coll.UpdateOne(ctx, query, bson.M{"$set": update}, options.Update().SetUpsert(opts.Upsert))
	if err != nil {
		return storage.UpdateResult{}, fmt.Errorf("mongo: update %s: %w", c.name, err)
	}
	out := storage.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
	}
	if res.UpsertedID != nil {
		out.UpsertedID = idString(res.UpsertedID)
	}
	return out, nil
}

// emptyUpdate handles an update with nothing to set, which the server
// rejects as an empty $set.
func (c *collection) emptyUpdate(ctx context.Context, filter storage.Filter, opts storage.UpdateOptions) (storage.UpdateResult, error) {
	existing, err := c.FindOne(ctx, filter)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	if existing != nil {
		return storage.UpdateResult{MatchedCount: 1}, nil
	}
	if !opts.Upsert {
		return storage.UpdateResult{}, nil
	}
	res, err := c.InsertOne(ctx, storage.UpsertDocument(filter, nil))
	if err != nil {
		return storage.UpdateResult{}, err
	}
	return storage.UpdateResult{UpsertedCount: 1, UpsertedID: res.InsertedID}, nil
}

func (c *collection) DeleteOne(ctx context.Context, filter storage.Filter) (storage.DeleteResult, error) {
	query, err := toBSONFilter(filter)
	if err != nil {
		return storage.DeleteResult{}, err
	}
	res, err := c.coll.DeleteOne(ctx, query)
	if err != nil {
		return storage.DeleteResult{}, fmt.Errorf("mongo: delete %s: %w", c.name, err)
	}
	return storage.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
