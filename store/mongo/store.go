// Package mongo provides a MongoDB-backed Store. The account document
// carries a version field checked by a filtered update, so a stale token
// matches zero documents instead of overwriting newer state. Applies that
// carry ledger entries run in a session transaction, which requires a
// replica set or mongos.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	turnstile "github.com/xraph/turnstile"
	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/ledger"
	turnstilestore "github.com/xraph/turnstile/store"
)

// Collection name constants.
const (
	colAccounts = "turnstile_accounts"
	colEntries  = "turnstile_entries"
)

// compile-time interface check
var _ turnstilestore.Store = (*Store)(nil)

// Store implements store.Store on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and returns a store bound to the given database.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("turnstile/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("turnstile/mongo: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// NewWithClient wraps an existing, already connected client.
// Close disconnects it.
func NewWithClient(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Database returns the underlying database handle for direct access.
func (s *Store) Database() *mongo.Database { return s.db }

// Migrate creates indexes for all turnstile collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: %s indexes: %v", turnstile.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Account Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, account.Version, error) {
	var m accountModel
	err := s.db.Collection(colAccounts).FindOne(ctx, bson.M{"_id": userID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, 0, turnstile.ErrNotFound
		}
		return nil, 0, fmt.Errorf("turnstile/mongo: get account: %w", err)
	}

	a, version, err := fromAccountModel(&m)
	if err != nil {
		return nil, 0, err
	}
	a.Normalize()
	return a, version, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) (account.Version, error) {
	m := toAccountModel(a, 1)
	_, err := s.db.Collection(colAccounts).InsertOne(ctx, m)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, turnstile.ErrAccountExists
		}
		return 0, fmt.Errorf("turnstile/mongo: create account: %w", err)
	}
	return 1, nil
}

func (s *Store) ApplyAccount(ctx context.Context, a *account.Account, expect account.Version, entries ...*ledger.Entry) (account.Version, error) {
	// A bare account write is a single-document operation; the filtered
	// update is atomic on its own.
	if len(entries) == 0 {
		if err := s.applyAccountUpdate(ctx, a, expect); err != nil {
			return 0, err
		}
		return expect + 1, nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		return 0, fmt.Errorf("turnstile/mongo: start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		// Entries first: a duplicate reference aborts before the account
		// moves.
		docs := make([]any, len(entries))
		for i, e := range entries {
			docs[i] = toEntryModel(e)
		}
		if _, err := s.db.Collection(colEntries).InsertMany(ctx, docs); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, turnstile.ErrDuplicateReference
			}
			return nil, fmt.Errorf("turnstile/mongo: insert entries: %w", err)
		}
		if err := s.applyAccountUpdate(ctx, a, expect); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return 0, err
	}
	return expect + 1, nil
}

// applyAccountUpdate runs the version-filtered update and classifies a
// zero-match result as missing record or stale token.
func (s *Store) applyAccountUpdate(ctx context.Context, a *account.Account, expect account.Version) error {
	m := toAccountModel(a, int64(expect))
	res, err := s.db.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": a.UserID, "version": int64(expect)},
		bson.M{
			"$set": bson.M{
				"daily_free_remaining": m.DailyFreeRemaining,
				"last_reset":           m.LastReset,
				"lifetime_downloads":   m.LifetimeDownloads,
				"free_downloads":       m.FreeDownloads,
				"ad_downloads":         m.AdDownloads,
				"point_downloads":      m.PointDownloads,
				"ads_watched":          m.AdsWatched,
				"ad_sessions":          m.AdSessions,
				"email_collected":      m.EmailCollected,
				"email":                m.Email,
				"point_balance":        m.PointBalance,
				"updated_at":           m.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return fmt.Errorf("turnstile/mongo: update account: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := s.db.Collection(colAccounts).CountDocuments(ctx, bson.M{"_id": a.UserID})
		if err != nil {
			return fmt.Errorf("turnstile/mongo: check account: %w", err)
		}
		if n == 0 {
			return turnstile.ErrNotFound
		}
		return turnstile.ErrVersionConflict
	}
	return nil
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	_, err := s.db.Collection(colEntries).InsertOne(ctx, toEntryModel(e))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return turnstile.ErrDuplicateReference
		}
		return fmt.Errorf("turnstile/mongo: append entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntryByReference(ctx context.Context, userID, reference string) (*ledger.Entry, error) {
	var m entryModel
	err := s.db.Collection(colEntries).
		FindOne(ctx, bson.M{"user_id": userID, "reference_key": reference}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, turnstile.ErrEntryNotFound
		}
		return nil, fmt.Errorf("turnstile/mongo: get entry by reference: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) ListEntries(ctx context.Context, userID string, opts ledger.ListOptions) ([]*ledger.Entry, error) {
	filter := bson.M{"user_id": userID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.Start.IsZero() {
		if _, ok := filter["created_at"]; !ok {
			filter["created_at"] = bson.M{}
		}
		if ts, ok := filter["created_at"].(bson.M); ok {
			ts["$gte"] = opts.Start
		}
	}
	if !opts.End.IsZero() {
		if _, ok := filter["created_at"]; !ok {
			filter["created_at"] = bson.M{}
		}
		if ts, ok := filter["created_at"].(bson.M); ok {
			ts["$lt"] = opts.End
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = turnstilestore.DefaultListLimit
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colEntries).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("turnstile/mongo: list entries: %w", err)
	}
	defer cursor.Close(ctx)

	var models []entryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("turnstile/mongo: list entries decode: %w", err)
	}

	result := make([]*ledger.Entry, 0, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *Store) SumCompleted(ctx context.Context, userID string) (int64, error) {
	pipeline := bson.A{
		bson.M{
			"$match": bson.M{
				"user_id": userID,
				"status":  string(ledger.StatusCompleted),
			},
		},
		bson.M{
			"$group": bson.M{
				"_id":   nil,
				"total": bson.M{"$sum": "$amount"},
			},
		},
	}

	cursor, err := s.db.Collection(colEntries).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("turnstile/mongo: sum completed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("turnstile/mongo: sum completed decode: %w", err)
	}

	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all turnstile
// collections. The partial unique index over reference_key is what makes
// duplicate idempotency references fail at the storage layer; failed
// entries never set reference_key, so their references stay reusable.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEntries: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "reference_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"reference_key": bson.M{"$gt": ""}}),
			},
		},
	}
}
